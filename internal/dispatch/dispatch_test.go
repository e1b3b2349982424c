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

package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(2, nil)

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		err := p.Enqueue(JobFunc(func() {
			defer wg.Done()
			count.Add(1)
		}))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	wg.Wait()

	if got := count.Load(); got != 50 {
		t.Errorf("executed %d jobs, want 50", got)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPoolCloseDrains(t *testing.T) {
	p := NewPool(1, nil)

	var count atomic.Int64
	for i := 0; i < 20; i++ {
		if err := p.Enqueue(JobFunc(func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		})); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := count.Load(); got != 20 {
		t.Errorf("Close() returned before draining: %d of 20 jobs ran", got)
	}
}

func TestPoolEnqueueAfterClose(t *testing.T) {
	p := NewPool(1, nil)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	err := p.Enqueue(JobFunc(func() {}))
	if !nereiderrors.IsShuttingDown(err) {
		t.Errorf("Enqueue() after Close = %v, want ShuttingDownError", err)
	}
	// Closing again is a no-op.
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1, nil)
	defer p.Close()

	done := make(chan struct{})
	if err := p.Enqueue(JobFunc(func() { panic("job blew up") })); err != nil {
		t.Fatal(err)
	}
	if err := p.Enqueue(JobFunc(func() { close(done) })); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("executor died after a panicking job")
	}
}
