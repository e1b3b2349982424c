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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nereid-io/nereid/internal/log"
)

// dumper appends queries that exhausted their retries to a
// daily-rotating file. Writes are serialized process-wide.
type dumper struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
}

func newDumper(dir string, logger *slog.Logger) *dumper {
	return &dumper{dir: dir, logger: logger}
}

// checkWritable creates the placeholder file that proves the dump
// directory accepts writes.
func (d *dumper) checkWritable() error {
	if d.dir == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(d.dir, "placeholder"), nil, 0o644)
}

// dump appends one failed query. An empty query records a low-level
// access instead.
func (d *dumper) dump(query string, errCode int, errMsg string) {
	if d.dir == "" {
		d.logger.Warn("query dump is disabled")
		return
	}

	now := time.Now()
	name := fmt.Sprintf("%s_%05d.log", now.Format("2006-01-02"), os.Getpid())
	path := filepath.Join(d.dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "-- %s: err_code = %d, err_msg = %s\n", now.Format("2006-01-02 15:04:05"), errCode, errMsg)
	if query == "" {
		b.WriteString("-- <low level access>")
	} else {
		b.WriteString(query)
		b.WriteString(";")
	}
	b.WriteString("\n\n")

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		d.logger.Error("error creating dump file", slog.String("path", path), log.Error(err))
		return
	}
	defer f.Close()

	d.logger.Info("writing query dump", slog.String("path", path))
	if _, err := f.WriteString(b.String()); err != nil {
		d.logger.Error("error writing query dump", log.Error(err))
	}
}
