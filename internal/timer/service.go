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

// Package timer implements the timer scheduler daemon. A single
// background goroutine pops due entries off a min-heap and either runs
// the callback inline (low-level timers) or produces a job onto the
// external dispatcher.
package timer

import (
	"container/heap"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/nereid-io/nereid/internal/backoff"
	"github.com/nereid-io/nereid/internal/clock"
	"github.com/nereid-io/nereid/internal/dispatch"
	"github.com/nereid-io/nereid/internal/log"
	"github.com/nereid-io/nereid/internal/metrics"
)

const (
	msPerHour = uint64(1000) * 3600
	msPerDay  = msPerHour * 24
	msPerWeek = msPerDay * 7
)

// Service is the timer scheduler daemon.
type Service struct {
	queue  dispatch.Queue
	logger *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	timers entryHeap
	signal chan struct{}
	done   chan struct{}
}

// New creates a timer scheduler that produces timer jobs onto queue.
func New(queue dispatch.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue:  queue,
		logger: log.WithComponent(logger, "timer"),
		signal: make(chan struct{}, 1),
	}
}

// Start launches the scheduler goroutine. Starting a running service
// is a no-op.
func (s *Service) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("timer daemon starting")
	s.done = make(chan struct{})
	go s.run()
}

// Stop joins the scheduler goroutine and clears the heap. Stopping a
// stopped service is a no-op.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("timer daemon stopping")
	s.wake()
	<-s.done

	s.mu.Lock()
	s.timers = nil
	s.mu.Unlock()
	metrics.SetTimerHeapSize(0)
	s.logger.Info("timer daemon stopped")
}

// RegisterAbsoluteTimer adds a timer whose first firing is at the
// absolute tick first. A first tick in the past fires immediately.
// period 0 makes the timer one-shot.
func (s *Service) RegisterAbsoluteTimer(first, period uint64, callback Callback) *Timer {
	return s.register(first, period, callback, false)
}

// RegisterTimer adds a timer whose first firing is deltaFirst ticks
// from now.
func (s *Service) RegisterTimer(deltaFirst, period uint64, callback Callback) *Timer {
	return s.RegisterAbsoluteTimer(clock.SaturatingAdd(clock.Mono(), deltaFirst), period, callback)
}

// RegisterLowLevelAbsoluteTimer is RegisterAbsoluteTimer for a timer
// whose callback runs inline on the scheduler goroutine, bypassing the
// job dispatcher.
func (s *Service) RegisterLowLevelAbsoluteTimer(first, period uint64, callback Callback) *Timer {
	return s.register(first, period, callback, true)
}

// RegisterLowLevelTimer is RegisterTimer for a low-level timer.
func (s *Service) RegisterLowLevelTimer(deltaFirst, period uint64, callback Callback) *Timer {
	return s.RegisterLowLevelAbsoluteTimer(clock.SaturatingAdd(clock.Mono(), deltaFirst), period, callback)
}

// RegisterHourlyTimer fires at the next wall-clock moment whose minute
// and second match, then every hour. utc selects UTC or local time.
func (s *Service) RegisterHourlyTimer(minute, second uint, callback Callback, utc bool) *Timer {
	delta := clock.SaturatingSub(wallNow(utc), (uint64(minute)*60+uint64(second))*1000)
	return s.RegisterTimer(msPerHour-delta%msPerHour, msPerHour, callback)
}

// RegisterDailyTimer fires at the next wall-clock moment whose hour,
// minute and second match, then every day.
func (s *Service) RegisterDailyTimer(hour, minute, second uint, callback Callback, utc bool) *Timer {
	delta := clock.SaturatingSub(wallNow(utc), (uint64(hour)*3600+uint64(minute)*60+uint64(second))*1000)
	return s.RegisterTimer(msPerDay-delta%msPerDay, msPerDay, callback)
}

// RegisterWeeklyTimer fires at the next wall-clock moment matching the
// given day of week (0 = Sunday) and time of day, then every week.
func (s *Service) RegisterWeeklyTimer(dayOfWeek, hour, minute, second uint, callback Callback, utc bool) *Timer {
	// The epoch, 1970-01-01, was a Thursday.
	offset := ((uint64(dayOfWeek)+3)*86400 + uint64(hour)*3600 + uint64(minute)*60 + uint64(second)) * 1000
	delta := clock.SaturatingSub(wallNow(utc), offset)
	return s.RegisterTimer(msPerWeek-delta%msPerWeek, msPerWeek, callback)
}

// SetAbsoluteTime re-arms t to fire at the absolute tick first. The
// timer's stamp is bumped, so entries from the previous arming are
// discarded when they surface. period may be PeriodIntact.
func (s *Service) SetAbsoluteTime(t *Timer, first, period uint64) {
	stamp := t.setPeriod(period)

	s.mu.Lock()
	heap.Push(&s.timers, entry{timer: weak.Make(t), next: first, stamp: stamp})
	metrics.SetTimerHeapSize(len(s.timers))
	s.mu.Unlock()
	s.wake()
}

// SetTime re-arms t to fire deltaFirst ticks from now.
func (s *Service) SetTime(t *Timer, deltaFirst, period uint64) {
	s.SetAbsoluteTime(t, clock.SaturatingAdd(clock.Mono(), deltaFirst), period)
}

func (s *Service) register(first, period uint64, callback Callback, lowLevel bool) *Timer {
	t := newTimer(period, callback, lowLevel)

	s.mu.Lock()
	heap.Push(&s.timers, entry{timer: weak.Make(t), next: first, stamp: t.currentStamp()})
	metrics.SetTimerHeapSize(len(s.timers))
	s.mu.Unlock()
	s.wake()

	s.logger.Debug("timer registered",
		slog.Uint64("first_in", clock.SaturatingSub(first, clock.Mono())),
		slog.Uint64("period", period),
		slog.Bool("low_level", lowLevel))
	return t
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

// pumpOne fires at most one due entry, discarding any stale entries it
// meets on the way. It reports whether an entry fired.
func (s *Service) pumpOne() bool {
	now := clock.Mono()

	var t *Timer
	var period uint64

	s.mu.Lock()
	for {
		if len(s.timers) == 0 || now < s.timers[0].next {
			s.mu.Unlock()
			return false
		}
		e := heap.Pop(&s.timers).(entry)
		t = e.timer.Value()
		if t == nil || t.currentStamp() != e.stamp {
			// Retired or re-armed since it was queued.
			continue
		}
		period = t.Period()
		if period > 0 {
			e.next = clock.SaturatingAdd(e.next, period)
			heap.Push(&s.timers, e)
		}
		break
	}
	metrics.SetTimerHeapSize(len(s.timers))
	s.mu.Unlock()

	if t.LowLevel() {
		log.Trace(s.logger, "dispatching low level timer")
		s.invoke(t, now, period)
	} else {
		log.Trace(s.logger, "producing timer job")
		job := &timerJob{timer: weak.Make(t), now: now, period: period}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue timer job", log.Error(err))
		}
	}
	metrics.RecordTimerFire(t.LowLevel())
	return true
}

// invoke runs a low-level callback on the scheduler goroutine. A panic
// is logged and never kills the daemon or retires the timer.
func (s *Service) invoke(t *Timer, now, period uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("panic in low level timer callback", slog.Any("panic", r))
		}
	}()
	t.callback(t, now, period)
}

func wallNow(utc bool) uint64 {
	if utc {
		return clock.UTCMillis()
	}
	return clock.LocalMillis()
}

// timerJob carries one firing to the external dispatcher. It holds the
// timer weakly so an abandoned timer does not pin work.
type timerJob struct {
	timer  weak.Pointer[Timer]
	now    uint64
	period uint64
}

// Perform implements dispatch.Job.
func (j *timerJob) Perform() {
	t := j.timer.Value()
	if t == nil {
		return
	}
	t.callback(t, j.now, j.period)
}
