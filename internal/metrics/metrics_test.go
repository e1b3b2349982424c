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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTimerFire(t *testing.T) {
	before := testutil.ToFloat64(timerFires.WithLabelValues("low_level"))
	RecordTimerFire(true)
	after := testutil.ToFloat64(timerFires.WithLabelValues("low_level"))
	if after != before+1 {
		t.Errorf("low_level fires = %v, want %v", after, before+1)
	}

	before = testutil.ToFloat64(timerFires.WithLabelValues("dispatched"))
	RecordTimerFire(false)
	after = testutil.ToFloat64(timerFires.WithLabelValues("dispatched"))
	if after != before+1 {
		t.Errorf("dispatched fires = %v, want %v", after, before+1)
	}
}

func TestSetDBQueueDepth(t *testing.T) {
	SetDBQueueDepth(2, 17)
	got := testutil.ToFloat64(dbQueueDepth.With(prometheus.Labels{"worker": "2"}))
	if got != 17 {
		t.Errorf("queue depth = %v, want 17", got)
	}
	SetDBQueueDepth(2, 0)
	got = testutil.ToFloat64(dbQueueDepth.With(prometheus.Labels{"worker": "2"}))
	if got != 0 {
		t.Errorf("queue depth = %v, want 0", got)
	}
}

func TestRecordDBOperation(t *testing.T) {
	before := testutil.ToFloat64(dbOperations.WithLabelValues("save", OutcomeCoalesced))
	RecordDBOperation("save", OutcomeCoalesced)
	after := testutil.ToFloat64(dbOperations.WithLabelValues("save", OutcomeCoalesced))
	if after != before+1 {
		t.Errorf("save/coalesced = %v, want %v", after, before+1)
	}
}

func TestSetModulesLoaded(t *testing.T) {
	SetModulesLoaded(3)
	if got := testutil.ToFloat64(modulesLoaded); got != 3 {
		t.Errorf("modules loaded = %v, want 3", got)
	}
}
