// Copyright 2025 FleetTools Authors
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

// Command fleetcore runs the Coordination Core: the Event Log, Projections,
// Lock Manager, Checkpoint Engine, Recovery Engine and Coordinator API
// described in the Core design, bound to a single project directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleettools/coordination-core/internal/api"
	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/coreapp"
	"github.com/fleettools/coordination-core/internal/logging"
	"github.com/fleettools/coordination-core/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetcore:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	logFile, err := os.OpenFile(filepathJoin(cfg.LogsDir(), "fleetcore.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.Init(logging.ParseLevel(cfg.LogLevel), logFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := observability.InitTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	_ = tp
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	core, err := coreapp.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize core: %w", err)
	}
	defer core.Close()

	sweeper := cron.New()
	_, err = sweeper.AddFunc(fmt.Sprintf("@every %ds", cfg.Lock.SweepIntervalSecs), func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := core.Locks.ReleaseExpired(sweepCtx)
		if err != nil {
			logger.Error("lock sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("expired locks reclaimed", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule lock sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(core),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fleetcore listening", "addr", srv.Addr, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownGraceSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("fleetcore stopped")
	return nil
}

func filepathJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + string(os.PathSeparator) + name
}
