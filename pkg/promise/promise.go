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

// Package promise provides the single-shot result cell that binds
// producers and consumers across threads. A promise starts pending and
// makes exactly one transition, to fulfilled or failed. It may be
// observed by any number of consumers; producers typically hold only a
// weak reference so that an abandoned consumer does not pin work.
package promise

import (
	"context"
	"sync"
	"time"

	"github.com/nereid-io/nereid/pkg/errors"
)

// Unit is the value type of promises that signal completion only.
type Unit = struct{}

// Basic is a valueless promise.
type Basic = Promise[Unit]

// Promise is a cross-thread single-shot result cell.
//
// The zero value is not usable; construct with New.
type Promise[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	value T
	err   error
}

// New creates a pending promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// NewBasic creates a pending valueless promise.
func NewBasic() *Basic {
	return New[Unit]()
}

// SetSuccess transitions the promise to fulfilled, publishing value to
// all observers. If the promise is already terminal, SetSuccess returns
// AlreadySetError when strict is true and nil otherwise; the stored
// result is never changed.
func (p *Promise[T]) SetSuccess(value T, strict bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.satisfiedLocked() {
		if strict {
			return &errors.AlreadySetError{}
		}
		return nil
	}
	p.value = value
	close(p.done)
	return nil
}

// SetFailure transitions the promise to failed, publishing err to all
// observers. The strict flag behaves as in SetSuccess. A nil err is
// treated as an unspecified failure.
func (p *Promise[T]) SetFailure(err error, strict bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.satisfiedLocked() {
		if strict {
			return &errors.AlreadySetError{}
		}
		return nil
	}
	if err == nil {
		err = errors.New("promise failed with no error value")
	}
	p.err = err
	close(p.done)
	return nil
}

// Satisfied reports whether the promise has reached a terminal state.
func (p *Promise[T]) Satisfied() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Check returns the stored error if the promise is terminal and failed,
// and nil otherwise (pending or fulfilled).
func (p *Promise[T]) Check() error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	default:
		return nil
	}
}

// Result returns the stored value and error. It must only be called
// after the promise is satisfied; calling it on a pending promise
// returns the zero value and a nil error.
func (p *Promise[T]) Result() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Wait blocks until the promise is terminal or the duration elapses.
// It reports whether the promise was satisfied.
func (p *Promise[T]) Wait(d time.Duration) bool {
	select {
	case <-p.done:
		return true
	default:
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

// WaitContext blocks until the promise is terminal or ctx is done,
// returning ctx.Err() in the latter case.
func (p *Promise[T]) WaitContext(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done exposes the completion channel so consumers can select on the
// promise alongside other events.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

func (p *Promise[T]) satisfiedLocked() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
