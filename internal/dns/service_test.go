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

package dns

import (
	"runtime"
	"testing"
	"time"

	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
)

func newRunningService(t *testing.T) *Service {
	t.Helper()
	s := New(nil)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestLookUpLocalhostV4(t *testing.T) {
	s := New(nil)

	addr, err := s.LookUp("localhost", 80, true)
	if err != nil {
		t.Fatalf("LookUp() error = %v", err)
	}
	if !addr.Addr().Is4() {
		t.Errorf("LookUp() = %v, want an IPv4 address", addr)
	}
	if addr.Port() != 80 {
		t.Errorf("port = %d, want 80", addr.Port())
	}
	if !addr.Addr().IsLoopback() {
		t.Errorf("LookUp(localhost) = %v, want loopback", addr)
	}
}

func TestLookUpBracketedV6Literal(t *testing.T) {
	s := New(nil)

	addr, err := s.LookUp("[::1]", 443, false)
	if err != nil {
		t.Fatalf("LookUp() error = %v", err)
	}
	if !addr.Addr().Is6() {
		t.Errorf("LookUp([::1]) = %v, want an IPv6 address", addr)
	}
	if addr.Addr().String() != "::1" {
		t.Errorf("LookUp([::1]) = %v, want ::1", addr)
	}
	if addr.Port() != 443 {
		t.Errorf("port = %d, want 443", addr.Port())
	}
}

func TestLookUpUnknownHost(t *testing.T) {
	s := New(nil)

	_, err := s.LookUp("host.that-does-not-exist.invalid", 80, true)
	if !nereiderrors.IsResolveError(err) {
		t.Errorf("LookUp() = %v, want ResolveError", err)
	}
}

func TestLookUpFamilyFallback(t *testing.T) {
	s := New(nil)

	// An IPv4 literal resolved with an IPv6 preference still yields a
	// usable record.
	addr, err := s.LookUp("127.0.0.1", 80, false)
	if err != nil {
		t.Fatalf("LookUp() error = %v", err)
	}
	if !addr.Addr().IsValid() {
		t.Errorf("LookUp() = %v, want some valid record", addr)
	}
}

func TestEnqueueForLookingUp(t *testing.T) {
	s := newRunningService(t)

	p, err := s.EnqueueForLookingUp("localhost", 8080, true)
	if err != nil {
		t.Fatalf("EnqueueForLookingUp() error = %v", err)
	}
	if !p.Wait(5 * time.Second) {
		t.Fatal("promise not fulfilled")
	}
	if err := p.Check(); err != nil {
		t.Fatalf("Check() = %v", err)
	}
	addr, _ := p.Result()
	if !addr.Addr().Is4() || addr.Port() != 8080 {
		t.Errorf("Result() = %v, want v4 with port 8080", addr)
	}
	runtime.KeepAlive(p)
}

func TestEnqueueFailureReachesPromise(t *testing.T) {
	s := newRunningService(t)

	p, err := s.EnqueueForLookingUp("host.that-does-not-exist.invalid", 80, true)
	if err != nil {
		t.Fatalf("EnqueueForLookingUp() error = %v", err)
	}
	if !p.Wait(10 * time.Second) {
		t.Fatal("promise not satisfied")
	}
	if err := p.Check(); !nereiderrors.IsResolveError(err) {
		t.Errorf("Check() = %v, want ResolveError", err)
	}
	runtime.KeepAlive(p)
}

func TestEnqueueOrderIsFIFO(t *testing.T) {
	s := newRunningService(t)

	var promises []*Promise
	for i := 0; i < 5; i++ {
		p, err := s.EnqueueForLookingUp("localhost", uint16(1000+i), true)
		if err != nil {
			t.Fatal(err)
		}
		promises = append(promises, p)
	}

	// The last promise resolving implies the whole FIFO was served.
	if !promises[len(promises)-1].Wait(10 * time.Second) {
		t.Fatal("queue did not drain")
	}
	for i, p := range promises {
		if !p.Satisfied() {
			t.Errorf("request %d still pending after a later one completed", i)
		}
	}
	runtime.KeepAlive(promises)
}

func TestEnqueueAfterStop(t *testing.T) {
	s := New(nil)
	s.Start()
	s.Stop()

	_, err := s.EnqueueForLookingUp("localhost", 80, true)
	if !nereiderrors.IsShuttingDown(err) {
		t.Errorf("EnqueueForLookingUp() after Stop = %v, want ShuttingDownError", err)
	}
}
