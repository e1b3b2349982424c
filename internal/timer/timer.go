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

package timer

import (
	"sync"
)

// Callback is invoked when a timer fires. now is the monotonic tick at
// which the firing was picked from the heap; period is the timer's
// period at that moment (0 for one-shot timers).
type Callback func(t *Timer, now, period uint64)

// PeriodIntact, passed to SetTime/SetAbsoluteTime, re-arms a timer
// without changing its period.
const PeriodIntact = ^uint64(0)

// Timer is a registered timer. It lives as long as the caller holds a
// strong reference; the scheduler itself only keeps weak heap entries,
// so dropping the last reference retires the timer.
type Timer struct {
	mu       sync.Mutex
	period   uint64
	stamp    uint64
	callback Callback
	lowLevel bool
}

func newTimer(period uint64, callback Callback, lowLevel bool) *Timer {
	return &Timer{period: period, callback: callback, lowLevel: lowLevel}
}

// Period returns the current period in ticks; 0 means one-shot.
func (t *Timer) Period() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// LowLevel reports whether the callback runs inline on the scheduler
// thread instead of being dispatched as a job.
func (t *Timer) LowLevel() bool {
	return t.lowLevel
}

func (t *Timer) currentStamp() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stamp
}

// setPeriod updates the period (unless PeriodIntact) and bumps the
// stamp, invalidating every heap entry queued for the old arming.
func (t *Timer) setPeriod(period uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if period != PeriodIntact {
		t.period = period
	}
	t.stamp++
	return t.stamp
}
