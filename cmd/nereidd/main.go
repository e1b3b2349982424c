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

// Command nereidd hosts the nereid daemons: the job dispatch pool, the
// timer scheduler, the name-resolution daemon, the database query
// daemon, and the module depository.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nereid-io/nereid/internal/config"
	"github.com/nereid-io/nereid/internal/depository"
	"github.com/nereid-io/nereid/internal/dispatch"
	"github.com/nereid-io/nereid/internal/dns"
	"github.com/nereid-io/nereid/internal/log"
	"github.com/nereid-io/nereid/internal/querydaemon"
	"github.com/nereid-io/nereid/internal/timer"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:          "nereidd",
		Short:        "Run the nereid daemon host",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "nereid.yaml", "Path to the configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nereidd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := log.FromEnv()
	if cfg.Log.Level != "" {
		logCfg.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		logCfg.Format = log.Format(cfg.Log.Format)
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	logger.Info("nereidd starting", slog.String("version", version))

	// The dispatch pool the timer daemon produces into.
	pool := dispatch.NewPool(cfg.Dispatch.Workers, logger)

	timerSvc := timer.New(pool, logger)
	dnsSvc := dns.New(logger)
	querySvc := querydaemon.New(cfg.DB, logger)
	depositorySvc := depository.New(logger)

	depositorySvc.Start()
	timerSvc.Start()
	dnsSvc.Start()
	if err := querySvc.Start(); err != nil {
		logger.Error("failed to start query daemon", log.Error(err))
		depositorySvc.Stop()
		timerSvc.Stop()
		dnsSvc.Stop()
		pool.Close()
		return err
	}

	for _, path := range cfg.Modules.Paths {
		depositorySvc.LoadNothrow(path)
	}
	if cfg.Modules.WatchDir != "" {
		if err := depositorySvc.Watch(cfg.Modules.WatchDir); err != nil {
			logger.Warn("module watcher unavailable", log.Error(err))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

		g.Go(func() error {
			logger.Info("metrics listener started", slog.String("addr", cfg.Metrics.ListenAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info("nereidd shutting down")

	// The depository stops first so module teardown can still reach the
	// daemons; the other daemons stop in reverse start order.
	depositorySvc.Stop()
	querySvc.Stop()
	dnsSvc.Stop()
	timerSvc.Stop()
	pool.Close()

	logger.Info("nereidd stopped")
	return err
}
