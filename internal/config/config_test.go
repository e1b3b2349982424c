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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 0, cfg.DB.MaxThreadCount)
	assert.Equal(t, uint64(5000), cfg.DB.SaveDelay)
	assert.Equal(t, uint64(5000), cfg.DB.ReconnDelay)
	assert.Equal(t, 3, cfg.DB.MaxRetryCount)
	assert.Equal(t, uint64(1000), cfg.DB.RetryInitDelay)
	assert.Empty(t, cfg.DB.DumpDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nereid.yaml")
	data := `
log:
  level: debug
  format: text
db:
  primary_addr: /var/lib/nereid/primary.db
  replica_addr: /var/lib/nereid/replica.db
  max_thread_count: 4
  save_delay: 200
  reconn_delay: 100
  max_retry_count: 2
  retry_init_delay: 10
  dump_dir: /var/lib/nereid/dump
modules:
  paths:
    - /opt/nereid/mods/chat.so
dispatch:
  workers: 8
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/var/lib/nereid/primary.db", cfg.DB.PrimaryAddr)
	assert.Equal(t, "/var/lib/nereid/replica.db", cfg.DB.ReplicaAddr)
	assert.Equal(t, 4, cfg.DB.MaxThreadCount)
	assert.Equal(t, uint64(200), cfg.DB.SaveDelay)
	assert.Equal(t, 2, cfg.DB.MaxRetryCount)
	assert.Equal(t, "/var/lib/nereid/dump", cfg.DB.DumpDir)
	assert.Equal(t, []string{"/opt/nereid/mods/chat.so"}, cfg.Modules.Paths)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	// Untouched keys keep their defaults.
	assert.Equal(t, "nereid", cfg.DB.Schema)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var cerr *nereiderrors.ConfigError
	assert.True(t, nereiderrors.As(err, &cerr))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{
			name:    "negative thread count",
			mutate:  func(c *Config) { c.DB.MaxThreadCount = -1 },
			wantKey: "db.max_thread_count",
		},
		{
			name:    "workers without address",
			mutate:  func(c *Config) { c.DB.MaxThreadCount = 2 },
			wantKey: "db.primary_addr",
		},
		{
			name:    "retry count too large",
			mutate:  func(c *Config) { c.DB.MaxRetryCount = 63 },
			wantKey: "db.max_retry_count",
		},
		{
			name:    "no dispatch workers",
			mutate:  func(c *Config) { c.Dispatch.Workers = 0 },
			wantKey: "dispatch.workers",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantKey: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cerr *nereiderrors.ConfigError
			require.True(t, nereiderrors.As(err, &cerr))
			assert.Equal(t, tt.wantKey, cerr.Key)
		})
	}
}
