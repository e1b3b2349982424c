// Copyright 2025 The Nereid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package querydaemon implements the database query daemon: a
// fixed-size pool of workers, each owning a private FIFO, fed through a
// router that pins every table to one worker. Writes against the same
// record coalesce to the newest queued statement, failed operations
// retry with exponential backoff, and queries that exhaust their
// retries are appended to a dump file before their promise is failed.
package querydaemon

import (
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/nereid-io/nereid/internal/config"
	"github.com/nereid-io/nereid/internal/log"
	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
	"github.com/nereid-io/nereid/pkg/promise"
)

// Service is the database query daemon.
type Service struct {
	cfg       config.DBConfig
	logger    *slog.Logger
	connector Connector
	dumper    *dumper

	running atomic.Bool

	// routerMu guards the routes and the worker slots; it is held only
	// briefly on the enqueue path.
	routerMu sync.Mutex
	routes   map[string]*route
	workers  []*worker
}

// New creates a query daemon for the given configuration.
func New(cfg config.DBConfig, logger *slog.Logger) *Service {
	return NewWithConnector(cfg, &sqliteConnector{cfg: cfg}, logger)
}

// NewWithConnector creates a query daemon with a custom connection
// factory.
func NewWithConnector(cfg config.DBConfig, connector Connector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "querydaemon")
	return &Service{
		cfg:       cfg,
		logger:    logger,
		connector: connector,
		dumper:    newDumper(cfg.DumpDir, logger),
		routes:    make(map[string]*route),
	}
}

// Start verifies connectivity and dump-directory writability and
// allocates the worker slots. With max_thread_count zero the daemon
// stays disabled and every enqueue fails with NotEnabledError.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("query daemon starting")

	if s.cfg.MaxThreadCount == 0 {
		s.logger.Warn("query daemon support is disabled; set db.max_thread_count to a value greater than zero to enable it")
	} else {
		if err := s.checkConnectivity(); err != nil {
			s.running.Store(false)
			return err
		}
		if s.cfg.DumpDir == "" {
			s.logger.Warn("query dump is disabled; set db.dump_dir to enable it")
		} else if err := s.dumper.checkWritable(); err != nil {
			s.running.Store(false)
			return &nereiderrors.SystemError{Op: "check dump directory writability", Cause: err}
		}
	}

	s.routerMu.Lock()
	s.workers = make([]*worker, s.cfg.MaxThreadCount)
	s.routerMu.Unlock()

	s.logger.Info("query daemon started")
	return nil
}

func (s *Service) checkConnectivity() error {
	s.logger.Info("checking whether the primary database is up")
	primary, err := s.connector.Connect(false, nil)
	if err != nil {
		return err
	}
	if _, err := primary.Exec("SELECT 0"); err != nil {
		primary.Close()
		return asDriverError(err)
	}

	s.logger.Info("checking whether the replica database is up")
	replica, err := s.connector.Connect(true, primary)
	if err != nil {
		primary.Close()
		return err
	}
	if replica != primary {
		if _, err := replica.Exec("SELECT 0"); err != nil {
			replica.Close()
			primary.Close()
			return asDriverError(err)
		}
		replica.Close()
	}
	primary.Close()
	return nil
}

// Stop drains and joins every worker, then clears the router state.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("query daemon stopping")

	s.routerMu.Lock()
	workers := s.workers
	s.routerMu.Unlock()

	for i, w := range workers {
		if w == nil {
			continue
		}
		s.logger.Info("stopping query worker", slog.Int(log.WorkerKey, i))
		w.stop()
	}
	for i, w := range workers {
		if w == nil {
			continue
		}
		s.logger.Info("waiting for query worker to terminate", slog.Int(log.WorkerKey, i))
		w.safeJoin()
	}

	s.routerMu.Lock()
	s.workers = nil
	s.routes = make(map[string]*route)
	s.routerMu.Unlock()
	s.logger.Info("query daemon stopped")
}

// CreateConnection opens a fresh connection outside the worker pool.
func (s *Service) CreateConnection(fromReplica bool) (*sql.DB, error) {
	return s.connector.Connect(fromReplica, nil)
}

// EnqueueForSaving queues an insert (or replace) of one record. With
// urgent set the chosen worker ignores due times until its queue
// drains.
func (s *Service) EnqueueForSaving(rec Record, toReplace, urgent bool) (*promise.Basic, error) {
	p := promise.NewBasic()
	op := &saveOperation{object: rec, toReplace: toReplace}
	op.weakPromise = weak.Make(p)
	if err := s.dispatchByTable(rec.Table(), op, urgent); err != nil {
		return nil, err
	}
	return p, nil
}

// EnqueueForLoading queues a single-row query filling rec. A query that
// returns no rows fails the promise with NoDataError.
func (s *Service) EnqueueForLoading(rec Record, query string) (*promise.Basic, error) {
	p := promise.NewBasic()
	op := &loadOperation{object: rec, query: query}
	op.weakPromise = weak.Make(p)
	if err := s.dispatchByTable(rec.Table(), op, true); err != nil {
		return nil, err
	}
	return p, nil
}

// EnqueueForDeleting queues query against the worker owning tableHint.
func (s *Service) EnqueueForDeleting(tableHint, query string) (*promise.Basic, error) {
	p := promise.NewBasic()
	op := &deleteOperation{tableHint: tableHint, query: query}
	op.weakPromise = weak.Make(p)
	if err := s.dispatchByTable(tableHint, op, true); err != nil {
		return nil, err
	}
	return p, nil
}

// EnqueueForBatchLoading queues query and invokes callback once per
// result row.
func (s *Service) EnqueueForBatchLoading(callback QueryCallback, tableHint, query string) (*promise.Basic, error) {
	p := promise.NewBasic()
	op := &batchLoadOperation{callback: callback, tableHint: tableHint, query: query}
	op.weakPromise = weak.Make(p)
	if err := s.dispatchByTable(tableHint, op, true); err != nil {
		return nil, err
	}
	return p, nil
}

// EnqueueForLowLevelAccess hands the worker's raw connection to
// callback. The caller supplies the promise.
func (s *Service) EnqueueForLowLevelAccess(p *promise.Basic, callback AccessCallback, tableHint string, fromReplica bool) error {
	op := &lowLevelOperation{callback: callback, tableHint: tableHint, fromReplica: fromReplica}
	op.weakPromise = weak.Make(p)
	return s.dispatchByTable(tableHint, op, true)
}

// EnqueueForWaitingForAllAsyncOperations broadcasts a wait operation to
// every live worker; the promise is fulfilled when the last one drains
// past it.
func (s *Service) EnqueueForWaitingForAllAsyncOperations() (*promise.Basic, error) {
	if s.cfg.MaxThreadCount == 0 {
		return nil, &nereiderrors.NotEnabledError{Subsystem: "query daemon"}
	}
	if !s.running.Load() {
		return nil, &nereiderrors.ShuttingDownError{Subsystem: "query daemon"}
	}

	s.routerMu.Lock()
	var live []*worker
	for _, w := range s.workers {
		if w != nil {
			live = append(live, w)
		}
	}
	s.routerMu.Unlock()

	p := promise.NewBasic()
	if len(live) == 0 {
		p.SetSuccess(promise.Unit{}, false)
		return p, nil
	}

	remaining := &atomic.Int64{}
	remaining.Store(int64(len(live)))
	for _, w := range live {
		op := &waitOperation{remaining: remaining}
		op.weakPromise = weak.Make(p)
		if err := w.addOperation(op, true); err != nil {
			// The worker refused the entry; settle its share now.
			op.release()
		}
	}
	return p, nil
}

// WaitForAllAsyncOperations blocks until every worker's queue is empty.
func (s *Service) WaitForAllAsyncOperations() {
	s.routerMu.Lock()
	workers := append([]*worker(nil), s.workers...)
	s.routerMu.Unlock()

	for _, w := range workers {
		if w != nil {
			w.waitTillIdle()
		}
	}
}

// dispatchByTable routes op to a worker. Routing is sticky while the
// route's probe is referenced by in-flight operations; a quiescent
// route may rebalance to an idle slot or the shortest queue.
func (s *Service) dispatchByTable(table string, op operation, urgent bool) error {
	if s.cfg.MaxThreadCount == 0 {
		return &nereiderrors.NotEnabledError{Subsystem: "query daemon"}
	}
	if !s.running.Load() {
		return &nereiderrors.ShuttingDownError{Subsystem: "query daemon"}
	}

	s.routerMu.Lock()
	if s.workers == nil {
		s.routerMu.Unlock()
		return &nereiderrors.ShuttingDownError{Subsystem: "query daemon"}
	}

	rt, ok := s.routes[table]
	if !ok {
		rt = &route{}
		s.routes[table] = rt
	}

	var w *worker
	if rt.probe != nil && rt.probe.refs.Load() > 0 {
		// In-flight operations still reference this route; keep
		// same-table operations serialized on the same worker.
		w = rt.worker
	} else {
		if rt.probe == nil {
			rt.probe = &probe{}
		}
		w = s.pickWorker(table)
		rt.worker = w
	}
	pr := rt.probe
	pr.refs.Add(1)
	s.routerMu.Unlock()

	op.attachProbe(pr)

	if err := w.addOperation(op, urgent); err != nil {
		pr.refs.Add(-1)
		return err
	}
	return nil
}

// pickWorker spawns a worker in the first empty slot, or picks the one
// with the shortest queue. Called with routerMu held.
func (s *Service) pickWorker(table string) *worker {
	best := -1
	bestSize := 0
	for i, w := range s.workers {
		if w == nil {
			s.logger.Debug("spawning query worker",
				slog.Int(log.WorkerKey, i), slog.String(log.TableKey, table))
			nw := newWorker(i, s.cfg, s.connector, s.dumper, s.logger)
			nw.start()
			s.workers[i] = nw
			return nw
		}
		size := w.queueSize()
		if best == -1 || size < bestSize {
			best = i
			bestSize = size
		}
	}
	s.logger.Debug("picking query worker",
		slog.Int(log.WorkerKey, best), slog.String(log.TableKey, table))
	return s.workers[best]
}
