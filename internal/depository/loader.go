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
	"path/filepath"
	"plugin"
)

// Loader opens module files. The depository serializes every call
// through its own lock because the platform loader is not safe for
// concurrent use.
type Loader interface {
	// Open loads the module at path and returns an opaque handle plus
	// the canonical real path of the file.
	Open(path string) (handle any, realPath string, err error)
}

// pluginLoader loads Go plugins. The runtime pins an opened plugin for
// the life of the process; Unload releases the depository's bookkeeping
// and RAII handles, not the mapped code.
type pluginLoader struct{}

func (pluginLoader) Open(path string) (any, string, error) {
	real, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	if resolved, err := filepath.EvalSymlinks(real); err == nil {
		real = resolved
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, "", err
	}
	return p, real, nil
}
