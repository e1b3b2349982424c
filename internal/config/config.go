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

// Package config loads and validates the nereid configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	nereiderrors "github.com/nereid-io/nereid/pkg/errors"
)

// Config represents the complete nereid configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Modules  ModulesConfig  `yaml:"modules"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format sets the output format (json, text).
	Format string `yaml:"format,omitempty"`
}

// DBConfig configures the database query daemon.
type DBConfig struct {
	// PrimaryAddr is the primary database location. For the SQLite
	// driver this is the database file path.
	PrimaryAddr string `yaml:"primary_addr"`

	// PrimaryPort is the primary server port, for network drivers.
	PrimaryPort int `yaml:"primary_port,omitempty"`

	// ReplicaAddr is the replica database location. Empty means reads
	// routed to the replica reuse the primary connection.
	ReplicaAddr string `yaml:"replica_addr,omitempty"`

	// ReplicaPort is the replica server port, for network drivers.
	ReplicaPort int `yaml:"replica_port,omitempty"`

	// Username and Password authenticate against network drivers.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Schema is the logical database name.
	Schema string `yaml:"schema,omitempty"`

	// UseSSL enables TLS for network drivers.
	UseSSL bool `yaml:"use_ssl,omitempty"`

	// Charset is the connection character set for network drivers.
	Charset string `yaml:"charset,omitempty"`

	// MaxThreadCount is the number of query workers. Zero disables the
	// daemon entirely; enqueue calls then fail with NotEnabledError.
	MaxThreadCount int `yaml:"max_thread_count"`

	// SaveDelay is how long a queued operation may linger before it
	// becomes eligible for execution, in milliseconds.
	SaveDelay uint64 `yaml:"save_delay,omitempty"`

	// ReconnDelay is the sleep between reconnection attempts, in
	// milliseconds.
	ReconnDelay uint64 `yaml:"reconn_delay,omitempty"`

	// MaxRetryCount bounds how many times a failed operation is
	// re-executed before it is dumped and its promise failed.
	MaxRetryCount int `yaml:"max_retry_count,omitempty"`

	// RetryInitDelay is the base of the exponential retry schedule, in
	// milliseconds. The first retry waits retry_init_delay and each
	// further retry doubles the wait.
	RetryInitDelay uint64 `yaml:"retry_init_delay,omitempty"`

	// DumpDir is where exhausted queries are appended. Empty disables
	// dumping.
	DumpDir string `yaml:"dump_dir,omitempty"`
}

// ModulesConfig configures the module depository.
type ModulesConfig struct {
	// Paths are modules loaded at startup, in order.
	Paths []string `yaml:"paths,omitempty"`

	// WatchDir, when set, is watched for newly appearing module files
	// which are then loaded best-effort.
	WatchDir string `yaml:"watch_dir,omitempty"`
}

// DispatchConfig configures the job dispatch pool the timer daemon
// produces into.
type DispatchConfig struct {
	// Workers is the number of job executor goroutines.
	Workers int `yaml:"workers,omitempty"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// ListenAddr is the address for the /metrics listener. Empty
	// disables the endpoint.
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults. The defaults
// match the documented defaults of the configuration keys.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		DB: DBConfig{
			Schema:         "nereid",
			Charset:        "utf8",
			MaxThreadCount: 0,
			SaveDelay:      5000,
			ReconnDelay:    5000,
			MaxRetryCount:  3,
			RetryInitDelay: 1000,
		},
		Dispatch: DispatchConfig{
			Workers: 4,
		},
	}
}

// Load reads and validates the configuration file at path. A missing
// file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, &nereiderrors.ConfigError{Reason: fmt.Sprintf("cannot read %s", path), Cause: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &nereiderrors.ConfigError{Reason: fmt.Sprintf("cannot parse %s", path), Cause: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemons cannot run
// with.
func (c *Config) Validate() error {
	if c.DB.MaxThreadCount < 0 {
		return &nereiderrors.ConfigError{Key: "db.max_thread_count", Reason: "must not be negative"}
	}
	if c.DB.MaxThreadCount > 0 && c.DB.PrimaryAddr == "" {
		return &nereiderrors.ConfigError{Key: "db.primary_addr", Reason: "required when db.max_thread_count > 0"}
	}
	if c.DB.MaxRetryCount < 0 {
		return &nereiderrors.ConfigError{Key: "db.max_retry_count", Reason: "must not be negative"}
	}
	// Shifting by more than 63 would wrap the retry schedule.
	if c.DB.MaxRetryCount > 62 {
		return &nereiderrors.ConfigError{Key: "db.max_retry_count", Reason: "must be at most 62"}
	}
	if c.Dispatch.Workers < 1 {
		return &nereiderrors.ConfigError{Key: "dispatch.workers", Reason: "must be at least 1"}
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return &nereiderrors.ConfigError{Key: "log.format", Reason: "must be json or text"}
	}
	return nil
}
