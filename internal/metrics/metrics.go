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

// Package metrics exposes prometheus collectors for the daemons.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	timerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nereid_timer_fires_total",
			Help: "Total timer firings by dispatch mode",
		},
		[]string{"mode"},
	)

	timerHeapSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nereid_timer_heap_entries",
			Help: "Current number of entries in the timer heap",
		},
	)

	dnsLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nereid_dns_lookups_total",
			Help: "Total name lookups by outcome",
		},
		[]string{"outcome"},
	)

	dbOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nereid_db_operations_total",
			Help: "Total query daemon operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	dbRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nereid_db_retries_total",
			Help: "Total query daemon operation retries",
		},
	)

	dbDumps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nereid_db_dumps_total",
			Help: "Total queries appended to the dump file after retries exhausted",
		},
	)

	dbQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nereid_db_queue_depth",
			Help: "Current per-worker operation queue depth",
		},
		[]string{"worker"},
	)

	modulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nereid_modules_loaded",
			Help: "Current number of loaded modules",
		},
	)
)

// Operation outcomes recorded by RecordDBOperation.
const (
	OutcomeCommitted = "committed"
	OutcomeCoalesced = "coalesced"
	OutcomeDumped    = "dumped"
)

// RecordTimerFire increments the timer firing counter.
// lowLevel selects between inline and dispatched callbacks.
func RecordTimerFire(lowLevel bool) {
	mode := "dispatched"
	if lowLevel {
		mode = "low_level"
	}
	timerFires.WithLabelValues(mode).Inc()
}

// SetTimerHeapSize records the current timer heap size.
func SetTimerHeapSize(n int) {
	timerHeapSize.Set(float64(n))
}

// RecordDNSLookup increments the lookup counter.
func RecordDNSLookup(ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	dnsLookups.WithLabelValues(outcome).Inc()
}

// RecordDBOperation increments the operation counter.
// kind is the operation variant (save, load, delete, batch_load,
// low_level, wait); outcome is one of the Outcome* constants.
func RecordDBOperation(kind, outcome string) {
	dbOperations.WithLabelValues(kind, outcome).Inc()
}

// RecordDBRetry increments the retry counter.
func RecordDBRetry() {
	dbRetries.Inc()
}

// RecordDBDump increments the dump counter.
func RecordDBDump() {
	dbDumps.Inc()
}

// SetDBQueueDepth records the queue depth of one worker.
func SetDBQueueDepth(worker, depth int) {
	dbQueueDepth.WithLabelValues(strconv.Itoa(worker)).Set(float64(depth))
}

// SetModulesLoaded records the current module count.
func SetModulesLoaded(n int) {
	modulesLoaded.Set(float64(n))
}
