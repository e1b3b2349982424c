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

// Package dispatch holds the thin contract between the daemons and the
// external job dispatcher. The timer daemon produces jobs into a Queue;
// it never shares a thread with the executor behind it.
package dispatch

import (
	"log/slog"
	"sync"

	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
)

// Job is a deferred unit of user work.
type Job interface {
	// Perform runs the job on an executor goroutine.
	Perform()
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func()

// Perform implements Job.
func (f JobFunc) Perform() { f() }

// Queue accepts jobs for asynchronous execution.
type Queue interface {
	// Enqueue adds a job. It fails with ShuttingDownError once the
	// queue has been closed.
	Enqueue(job Job) error

	// Close stops the queue. Queued jobs are drained before Close
	// returns.
	Close() error
}

// Pool is a minimal goroutine-pool Queue used by the daemon binary and
// by tests. It is not a general task executor; it exists so the timer
// daemon has a dispatcher to produce into.
type Pool struct {
	mu     sync.Mutex
	jobs   []Job
	signal chan struct{}
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool creates a pool with the given number of executor goroutines.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// Enqueue adds a job to the pool.
func (p *Pool) Enqueue(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &nereiderrors.ShuttingDownError{Subsystem: "job dispatcher"}
	}
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting jobs and waits for the executors to drain the
// queue.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		job, more := p.next()
		if job != nil {
			p.perform(job)
			continue
		}
		if !more {
			return
		}
		select {
		case <-p.signal:
		case <-p.done:
		}
	}
}

// next pops one job. The boolean is false once the pool is closed and
// the queue is empty.
func (p *Pool) next() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.jobs) > 0 {
		job := p.jobs[0]
		p.jobs = p.jobs[1:]
		return job, true
	}
	return nil, !p.closed
}

func (p *Pool) perform(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("panic in dispatched job", slog.Any("panic", r))
		}
	}()
	job.Perform()
}
