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

// Package dns implements the name-resolution daemon. A single
// goroutine serves blocking host lookups from a FIFO, fulfilling the
// promise attached to each request.
package dns

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/nereid-io/nereid/internal/backoff"
	"github.com/nereid-io/nereid/internal/log"
	"github.com/nereid-io/nereid/internal/metrics"
	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
	"github.com/nereid-io/nereid/pkg/promise"
)

// Promise is the promise type fulfilled by lookups.
type Promise = promise.Promise[netip.AddrPort]

type request struct {
	promise    weak.Pointer[Promise]
	host       string
	port       uint16
	preferIPv4 bool
}

// Service is the name-resolution daemon.
type Service struct {
	logger   *slog.Logger
	resolver *net.Resolver

	running atomic.Bool

	mu     sync.Mutex
	queue  []request
	signal chan struct{}
	done   chan struct{}
}

// New creates a name-resolution daemon using the platform resolver.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   log.WithComponent(logger, "dns"),
		resolver: net.DefaultResolver,
		signal:   make(chan struct{}, 1),
	}
}

// Start launches the daemon goroutine. Starting a running service is a
// no-op.
func (s *Service) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("dns daemon starting")
	s.done = make(chan struct{})
	go s.run()
}

// Stop joins the daemon goroutine and clears the queue. Promises still
// pending in the queue are left pending.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("dns daemon stopping")
	s.wake()
	<-s.done

	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	s.logger.Info("dns daemon stopped")
}

// LookUp resolves host:port synchronously on the calling goroutine. It
// never touches the daemon queue.
func (s *Service) LookUp(host string, port uint16, preferIPv4 bool) (netip.AddrPort, error) {
	return s.resolve(host, port, preferIPv4)
}

// EnqueueForLookingUp queues a lookup and returns its promise. The
// promise is fulfilled on the daemon goroutine with the chosen address,
// or failed with a ResolveError.
func (s *Service) EnqueueForLookingUp(host string, port uint16, preferIPv4 bool) (*Promise, error) {
	if !s.running.Load() {
		return nil, &nereiderrors.ShuttingDownError{Subsystem: "dns daemon"}
	}
	p := promise.New[netip.AddrPort]()

	s.mu.Lock()
	s.queue = append(s.queue, request{
		promise:    weak.Make(p),
		host:       host,
		port:       port,
		preferIPv4: preferIPv4,
	})
	s.mu.Unlock()
	s.wake()
	return p, nil
}

func (s *Service) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	defer close(s.done)

	timeout := 0
	for {
		busy := true
		for busy {
			busy = s.pumpOne()
			timeout = backoff.Next(timeout, busy)
		}

		if !s.running.Load() {
			return
		}
		wait := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		select {
		case <-s.signal:
		case <-wait.C:
		}
		wait.Stop()
	}
}

// pumpOne serves the queue head. It reports whether it did any work,
// including dropping a request whose consumer is gone.
func (s *Service) pumpOne() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	req := s.queue[0]
	if req.promise.Value() == nil {
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	addr, err := s.resolve(req.host, req.port, req.preferIPv4)
	metrics.RecordDNSLookup(err == nil)

	s.mu.Lock()
	s.queue = s.queue[1:]
	s.mu.Unlock()

	// The promise transitions outside the queue lock.
	if p := req.promise.Value(); p != nil {
		if err != nil {
			p.SetFailure(err, false)
		} else {
			p.SetSuccess(addr, false)
		}
	}
	return true
}

// resolve performs the blocking lookup and picks an address by family
// preference. When the preferred family is absent, the first returned
// record is used, whatever its family.
func (s *Service) resolve(host string, port uint16, preferIPv4 bool) (netip.AddrPort, error) {
	bare := host
	if strings.HasPrefix(bare, "[") && strings.HasSuffix(bare, "]") {
		bare = bare[1 : len(bare)-1]
	}

	records, err := s.resolver.LookupIPAddr(context.Background(), bare)
	if err != nil {
		s.logger.Debug("lookup failure", slog.String("host", bare), log.Error(err))
		return netip.AddrPort{}, &nereiderrors.ResolveError{Host: host, Message: err.Error(), Cause: err}
	}
	if len(records) == 0 {
		return netip.AddrPort{}, &nereiderrors.ResolveError{Host: host, Message: "no addresses returned"}
	}

	var lastV4, lastV6, chosen netip.Addr
	for _, rec := range records {
		addr, ok := netip.AddrFromSlice(rec.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.Is4() {
			lastV4 = addr
		} else {
			lastV6 = addr
		}
	}
	if preferIPv4 {
		chosen = lastV4
	} else {
		chosen = lastV6
	}
	if !chosen.IsValid() {
		first, ok := netip.AddrFromSlice(records[0].IP)
		if !ok {
			return netip.AddrPort{}, &nereiderrors.ResolveError{Host: host, Message: "unparseable address returned"}
		}
		chosen = first.Unmap()
	}

	result := netip.AddrPortFrom(chosen, port)
	s.logger.Debug("lookup success", slog.String("host", bare), slog.String("addr", result.String()))
	return result, nil
}
