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

package promise

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nereid-io/nereid/pkg/errors"
)

func TestSetSuccess(t *testing.T) {
	p := New[int]()

	if p.Satisfied() {
		t.Fatal("new promise should be pending")
	}
	if err := p.SetSuccess(42, true); err != nil {
		t.Fatalf("SetSuccess() error = %v", err)
	}
	if !p.Satisfied() {
		t.Error("promise should be satisfied")
	}
	v, err := p.Result()
	if err != nil {
		t.Errorf("Result() error = %v", err)
	}
	if v != 42 {
		t.Errorf("Result() = %d, want 42", v)
	}
	if err := p.Check(); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestSetFailure(t *testing.T) {
	p := NewBasic()
	cause := &errors.DriverError{Code: 1, Message: "boom"}

	if err := p.SetFailure(cause, true); err != nil {
		t.Fatalf("SetFailure() error = %v", err)
	}
	if !p.Satisfied() {
		t.Error("promise should be satisfied")
	}
	if err := p.Check(); !errors.IsDriverError(err) {
		t.Errorf("Check() = %v, want the stored driver error", err)
	}
}

func TestDoubleSet(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		p := New[string]()
		if err := p.SetSuccess("first", true); err != nil {
			t.Fatalf("first set: %v", err)
		}
		err := p.SetSuccess("second", true)
		if !errors.IsAlreadySet(err) {
			t.Errorf("second strict set = %v, want AlreadySetError", err)
		}
		v, _ := p.Result()
		if v != "first" {
			t.Errorf("stored value = %q, want %q", v, "first")
		}
	})

	t.Run("lax", func(t *testing.T) {
		p := New[string]()
		if err := p.SetSuccess("first", false); err != nil {
			t.Fatalf("first set: %v", err)
		}
		if err := p.SetSuccess("second", false); err != nil {
			t.Errorf("lax double set = %v, want nil", err)
		}
		if err := p.SetFailure(errors.New("late failure"), false); err != nil {
			t.Errorf("lax failure after success = %v, want nil", err)
		}
		v, err := p.Result()
		if v != "first" || err != nil {
			t.Errorf("Result() = (%q, %v), want (%q, nil)", v, err, "first")
		}
	})
}

func TestTerminalStaysTerminal(t *testing.T) {
	p := New[int]()
	if err := p.SetSuccess(7, true); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if !p.Satisfied() {
			t.Fatal("satisfied promise reverted to pending")
		}
	}
}

func TestWait(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		p := NewBasic()
		if p.Wait(10 * time.Millisecond) {
			t.Error("Wait() on pending promise should time out")
		}
	})

	t.Run("fulfilled before wait", func(t *testing.T) {
		p := NewBasic()
		p.SetSuccess(Unit{}, false)
		if !p.Wait(0) {
			t.Error("Wait(0) on satisfied promise should succeed")
		}
	})

	t.Run("fulfilled during wait", func(t *testing.T) {
		p := New[int]()
		go func() {
			time.Sleep(10 * time.Millisecond)
			p.SetSuccess(1, false)
		}()
		if !p.Wait(time.Second) {
			t.Error("Wait() should observe the fulfilment")
		}
	})
}

func TestWaitContext(t *testing.T) {
	p := NewBasic()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.WaitContext(ctx); err != context.DeadlineExceeded {
		t.Errorf("WaitContext() = %v, want DeadlineExceeded", err)
	}

	p2 := NewBasic()
	p2.SetSuccess(Unit{}, false)
	if err := p2.WaitContext(context.Background()); err != nil {
		t.Errorf("WaitContext() on satisfied promise = %v", err)
	}
}

func TestConcurrentObservers(t *testing.T) {
	p := New[int]()
	const observers = 32

	var wg sync.WaitGroup
	results := make([]int, observers)
	for i := 0; i < observers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-p.Done()
			v, _ := p.Result()
			results[i] = v
		}(i)
	}

	// Racing setters; exactly one wins.
	for i := 0; i < 8; i++ {
		go func(i int) {
			p.SetSuccess(99, false)
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		if v != 99 {
			t.Errorf("observer %d saw %d, want 99", i, v)
		}
	}
}
