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

package querydaemon

import (
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nereid-io/nereid/internal/backoff"
	"github.com/nereid-io/nereid/internal/clock"
	"github.com/nereid-io/nereid/internal/config"
	"github.com/nereid-io/nereid/internal/log"
	"github.com/nereid-io/nereid/internal/metrics"
	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
	"github.com/nereid-io/nereid/pkg/promise"
)

// queueEntry is one queued operation with its execution state.
type queueEntry struct {
	op         operation
	dueTime    uint64
	retryCount int
}

// worker owns a private FIFO and two lazily-established connections.
type worker struct {
	index     int
	cfg       config.DBConfig
	connector Connector
	dumper    *dumper
	logger    *slog.Logger

	running atomic.Bool
	// urgent makes the worker ignore due times until the queue drains.
	urgent atomic.Bool

	mu     sync.Mutex
	queue  []*queueEntry
	signal chan struct{}
	done   chan struct{}
}

func newWorker(index int, cfg config.DBConfig, connector Connector, dumper *dumper, logger *slog.Logger) *worker {
	return &worker{
		index:     index,
		cfg:       cfg,
		connector: connector,
		dumper:    dumper,
		logger:    logger.With(slog.Int(log.WorkerKey, index)),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (w *worker) start() {
	w.running.Store(true)
	go w.run()
}

// stop clears the running flag; the goroutine exits once the queue is
// empty.
func (w *worker) stop() {
	w.running.Store(false)
	w.wake()
}

// safeJoin forces the queue to drain and then joins the goroutine.
func (w *worker) safeJoin() {
	w.waitTillIdle()
	<-w.done
}

// waitTillIdle sets the urgent flag and polls until the queue is empty.
func (w *worker) waitTillIdle() {
	for {
		w.mu.Lock()
		pending := len(w.queue)
		w.mu.Unlock()
		if pending == 0 {
			return
		}
		w.urgent.Store(true)
		w.wake()
		w.logger.Info("waiting for queued operations to complete", slog.Int("pending", pending))
		time.Sleep(500 * time.Millisecond)
	}
}

func (w *worker) queueSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// addOperation queues op with a due time of now plus the save delay.
// The stamp of a combinable record always tracks the newest queued
// write, superseding any earlier queued writes for the same record.
func (w *worker) addOperation(op operation, urgent bool) error {
	due := clock.SaturatingAdd(clock.Mono(), w.cfg.SaveDelay)

	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return &nereiderrors.ShuttingDownError{Subsystem: "query daemon"}
	}
	entry := &queueEntry{op: op, dueTime: due}
	w.queue = append(w.queue, entry)
	depth := len(w.queue)
	if rec := op.combinable(); rec != nil {
		rec.stampCell().Store(entry)
	}
	w.mu.Unlock()

	if urgent {
		w.urgent.Store(true)
	}
	metrics.SetDBQueueDepth(w.index, depth)
	w.wake()
	return nil
}

func (w *worker) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer close(w.done)

	w.logger.Info("query worker started")
	var primary, replica *sql.DB
	defer func() {
		if replica != nil && replica != primary {
			replica.Close()
		}
		if primary != nil {
			primary.Close()
		}
	}()

	timeout := 0
	for {
		busy := true
		for busy {
			w.ensureConnections(&primary, &replica)
			busy = w.pumpOne(&primary, &replica)
			timeout = backoff.Next(timeout, busy)
		}

		if w.queueSize() == 0 && !w.running.Load() {
			break
		}
		wait := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		select {
		case <-w.signal:
		case <-wait.C:
		}
		wait.Stop()
	}

	w.logger.Info("query worker stopped")
}

// ensureConnections re-establishes dropped connections, sleeping the
// reconnect delay between attempts. It does not give up.
func (w *worker) ensureConnections(primary, replica **sql.DB) {
	for *primary == nil {
		w.logger.Info("connecting to primary database")
		db, err := w.connector.Connect(false, nil)
		if err != nil {
			w.logger.Error("primary connection failed", log.Error(err))
			time.Sleep(clock.Millis(w.cfg.ReconnDelay))
			continue
		}
		*primary = db
		w.logger.Info("connected to primary database")
	}
	for *replica == nil {
		w.logger.Info("connecting to replica database")
		db, err := w.connector.Connect(true, *primary)
		if err != nil {
			w.logger.Error("replica connection failed", log.Error(err))
			time.Sleep(clock.Millis(w.cfg.ReconnDelay))
			continue
		}
		*replica = db
		if db == *primary {
			w.logger.Debug("replica not configured, reusing the primary connection")
		} else {
			w.logger.Info("connected to replica database")
		}
	}
}

// pumpOne serves the queue head if it is eligible. It reports whether
// it did any work.
func (w *worker) pumpOne(primary, replica **sql.DB) bool {
	now := clock.Mono()

	w.mu.Lock()
	if len(w.queue) == 0 {
		w.urgent.Store(false)
		w.mu.Unlock()
		return false
	}
	elem := w.queue[0]
	if !w.urgent.Load() && now < elem.dueTime {
		w.mu.Unlock()
		return false
	}
	w.mu.Unlock()

	op := elem.op
	connSlot := primary
	if op.useReplica() {
		connSlot = replica
	}

	// Coalescing: a queued write executes only if its record's stamp is
	// clear or points at this very entry; otherwise a later queued
	// write supersedes it and this one is a no-op.
	executeIt := false
	coalesced := false
	if rec := op.combinable(); rec == nil {
		executeIt = true
	} else {
		cell := rec.stampCell()
		switch cell.Load() {
		case nil:
			executeIt = true
		case elem:
			cell.CompareAndSwap(elem, nil)
			executeIt = true
		default:
			coalesced = true
		}
	}

	var query string
	var execErr error
	if executeIt {
		if op.skipIfAbandoned() && op.promise() == nil {
			w.logger.Warn("discarding isolated query", slog.String(log.TableKey, op.table()))
		} else {
			query = op.generateSQL()
			w.logger.Debug("executing query", slog.String(log.TableKey, op.table()))
			log.Trace(w.logger, "query text", slog.String("query", query))
			execErr = op.execute(*connSlot, query)
		}
	}

	if execErr != nil {
		w.logger.Warn("query failed", slog.String(log.TableKey, op.table()), log.Error(execErr))
		if elem.retryCount < w.cfg.MaxRetryCount {
			delay := w.cfg.RetryInitDelay << uint(elem.retryCount)
			elem.retryCount++
			elem.dueTime = clock.SaturatingAdd(now, delay)
			metrics.RecordDBRetry()
			w.logger.Info("retrying operation",
				slog.Int(log.RetryKey, elem.retryCount),
				slog.Uint64("delay_ms", delay))
			// Drop the used connection so the next attempt reconnects.
			w.dropConnection(connSlot, primary, replica)
			return true
		}
		w.logger.Error("max retry count exceeded", slog.String(log.TableKey, op.table()))
		w.dumper.dump(query, nereiderrors.DriverCode(execErr), execErr.Error())
		metrics.RecordDBDump()
		metrics.RecordDBOperation(op.kind(), metrics.OutcomeDumped)
	} else if coalesced {
		metrics.RecordDBOperation(op.kind(), metrics.OutcomeCoalesced)
	} else {
		metrics.RecordDBOperation(op.kind(), metrics.OutcomeCommitted)
	}

	// The promise transitions outside the queue lock.
	if p := op.promise(); p != nil {
		if execErr != nil {
			p.SetFailure(execErr, false)
		} else {
			p.SetSuccess(promise.Unit{}, false)
		}
	}

	w.mu.Lock()
	w.queue = w.queue[1:]
	depth := len(w.queue)
	w.mu.Unlock()
	metrics.SetDBQueueDepth(w.index, depth)

	if r, ok := op.(releaser); ok {
		r.release()
	}
	op.releaseProbe()
	return true
}

// dropConnection closes and clears the connection slot that just
// failed. A replica slot aliasing the primary is cleared on both.
func (w *worker) dropConnection(slot, primary, replica **sql.DB) {
	db := *slot
	if db == nil {
		return
	}
	if *primary == db {
		*primary = nil
	}
	if *replica == db {
		*replica = nil
	}
	db.Close()
}
