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

package depository

import (
	"io"
	"sort"
	"sync"
)

// InitFunc is a module initializer. It returns a handle that is closed,
// in reverse registration order, when the module is unloaded. A nil
// handle is permitted for initializers with nothing to release.
type InitFunc func() (io.Closer, error)

// Registration identifies one registered initializer so it can be
// unregistered again.
type Registration struct {
	init     InitFunc
	priority int
}

// The registry collects initializer registrations made by module code
// while its package init functions run under Load. A registration made
// outside any load belongs to no module and never runs.
var registry struct {
	mu         sync.Mutex
	collecting bool
	pending    []*Registration
}

// RegisterInit registers a module initializer with a priority. Lower
// priorities run first at load time. It is meant to be called from a
// module package's init function.
func RegisterInit(fn InitFunc, priority int) *Registration {
	r := &Registration{init: fn, priority: priority}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.collecting {
		registry.pending = append(registry.pending, r)
	}
	return r
}

// UnregisterInit removes a previously registered initializer. Handles
// already created from it are unaffected; they are still closed when
// their module unloads. Unregistering an unknown registration is
// ignored.
func UnregisterInit(r *Registration) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for i, p := range registry.pending {
		if p == r {
			registry.pending = append(registry.pending[:i], registry.pending[i+1:]...)
			return
		}
	}
}

// beginCollect marks the start of a module load; subsequent
// registrations are attributed to that load.
func beginCollect() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.collecting = true
	registry.pending = nil
}

// endCollect returns the registrations attributed to the finished load,
// sorted by ascending priority. The sort is stable, so equal priorities
// keep registration order.
func endCollect() []*Registration {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.collecting = false
	regs := registry.pending
	registry.pending = nil
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].priority < regs[j].priority
	})
	return regs
}
