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

package querydaemon

import (
	"sync/atomic"
)

// probe is the shared tag attached to every operation routed through a
// table's route. Its reference count tells the router whether the route
// is still referenced by in-flight operations; rebalancing is permitted
// only when it is not.
type probe struct {
	refs atomic.Int64
}

// route binds a table hint to a worker. Same-table writes staying on
// one worker is what keeps coalescing and ordering correct.
type route struct {
	probe  *probe
	worker *worker
}
