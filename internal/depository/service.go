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

// Package depository loads modules, runs their registered initializers
// in priority order, and tracks their lifetimes. Unloading a module
// closes the handles its initializers returned, in reverse order.
//
// Loading a module from another module's initializer, and enqueueing
// work onto the daemons from a handle's Close during Unload, are both
// prohibited.
package depository

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/nereid-io/nereid/internal/log"
	"github.com/nereid-io/nereid/internal/metrics"
	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
)

// module tracks one loaded module and the stack of handles its
// initializers returned.
type module struct {
	id     uuid.UUID
	handle any
	path   string
	raii   []io.Closer
}

// Snapshot describes one loaded module.
type Snapshot struct {
	ID     uuid.UUID
	Handle any
	Path   string
}

// Service is the module depository.
type Service struct {
	logger *slog.Logger
	loader Loader

	running atomic.Bool

	// mu serializes all loader calls and guards the module map.
	mu        sync.Mutex
	modules   map[string]*module
	loadOrder []string

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// New creates a depository using the platform plugin loader.
func New(logger *slog.Logger) *Service {
	return newWithLoader(logger, pluginLoader{})
}

func newWithLoader(logger *slog.Logger, loader Loader) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  log.WithComponent(logger, "depository"),
		loader:  loader,
		modules: make(map[string]*module),
	}
}

// Start marks the depository running. Starting a running service is a
// no-op.
func (s *Service) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("module depository starting")
}

// Stop unloads every module, newest first, and stops the watcher if one
// is running.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("unloading all modules")

	s.mu.Lock()
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	done := s.watchDone
	order := s.loadOrder
	s.loadOrder = nil
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	for i := len(order) - 1; i >= 0; i-- {
		s.Unload(order[i])
	}
}

// Load loads the module at path, runs its registered initializers in
// ascending priority order, and returns the module key (the canonical
// real path). Loading an already-loaded module logs and returns the
// existing key.
func (s *Service) Load(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("loading module", slog.String(log.ModuleKey, path))

	beginCollect()
	handle, real, err := s.loader.Open(path)
	if err != nil {
		endCollect()
		return "", &nereiderrors.LoadError{Path: path, Message: err.Error(), Cause: err}
	}
	regs := endCollect()

	if existing, ok := s.modules[real]; ok {
		s.logger.Warn("module already loaded", slog.String(log.ModuleKey, existing.path))
		return real, nil
	}

	mod := &module{id: uuid.New(), handle: handle, path: real}
	for _, reg := range regs {
		s.logger.Debug("running module initializer", slog.String(log.ModuleKey, real))
		h, err := reg.init()
		if err != nil {
			// Failed initialization unwinds whatever already ran.
			s.unwind(mod)
			return "", &nereiderrors.LoadError{Path: path, Message: "module initializer failed: " + err.Error(), Cause: err}
		}
		if h != nil {
			mod.raii = append(mod.raii, h)
		}
	}

	s.modules[real] = mod
	s.loadOrder = append(s.loadOrder, real)
	metrics.SetModulesLoaded(len(s.modules))
	s.logger.Info("loaded module", slog.String(log.ModuleKey, real), slog.String("id", mod.id.String()))
	return real, nil
}

// LoadNothrow is Load with the error caught and logged. It returns the
// module key, or "" on failure.
func (s *Service) LoadNothrow(path string) string {
	key, err := s.Load(path)
	if err != nil {
		s.logger.Error("failed to load module", slog.String(log.ModuleKey, path), log.Error(err))
		return ""
	}
	return key
}

// Unload removes the module with the given key, closing the handles its
// initializers returned in reverse order. It reports whether the module
// was found.
func (s *Service) Unload(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[key]
	if !ok {
		s.logger.Warn("module not found", slog.String(log.ModuleKey, key))
		return false
	}
	s.logger.Info("unloading module", slog.String(log.ModuleKey, mod.path))
	delete(s.modules, key)
	for i, k := range s.loadOrder {
		if k == key {
			s.loadOrder = append(s.loadOrder[:i], s.loadOrder[i+1:]...)
			break
		}
	}
	s.unwind(mod)
	metrics.SetModulesLoaded(len(s.modules))
	return true
}

// unwind closes the module's handle stack in reverse order. Errors are
// logged and never propagate.
func (s *Service) unwind(mod *module) {
	for i := len(mod.raii) - 1; i >= 0; i-- {
		if err := mod.raii[i].Close(); err != nil {
			s.logger.Warn("error closing module handle", slog.String(log.ModuleKey, mod.path), log.Error(err))
		}
	}
	mod.raii = nil
}

// SnapshotModules lists the loaded modules in load order.
func (s *Service) SnapshotModules() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.modules))
	for _, key := range s.loadOrder {
		mod := s.modules[key]
		out = append(out, Snapshot{ID: mod.id, Handle: mod.handle, Path: mod.path})
	}
	return out
}

// Watch loads modules that appear in dir. Files already present are
// not loaded; pre-existing modules belong in the modules.paths config.
func (s *Service) Watch(dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return &nereiderrors.SystemError{Op: "create module watcher", Cause: err}
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return &nereiderrors.SystemError{Op: "watch module directory", Cause: err}
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		w.Close()
		return nereiderrors.New("module watcher already running")
	}
	s.watcher = w
	s.watchDone = make(chan struct{})
	done := s.watchDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) && strings.HasSuffix(event.Name, ".so") {
					s.LoadNothrow(event.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("module watcher error", log.Error(err))
			}
		}
	}()
	s.logger.Info("watching module directory", slog.String("dir", dir))
	return nil
}
