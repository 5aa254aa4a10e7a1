// Copyright 2026 The Psico SAS Authors
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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/observability/metrics"
	"github.com/psicosas/psicosas/internal/observability/tracing"
	transportHTTP "github.com/psicosas/psicosas/internal/transport/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "starting psicosas", "version", cfg.Observability.ServiceVersion)

	spans, err := tracing.Install(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SampleRatio:    cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	} else {
		defer func() {
			if err := spans.Shutdown(context.Background()); err != nil {
				slog.Warn("tracer shutdown failed", logger.Error(err))
			}
		}()
	}

	var instruments *metrics.Instruments
	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	} else if instruments, err = metrics.NewInstruments(meter); err != nil {
		slog.Error("failed to create instruments", logger.Error(err))
		instruments = nil
	}

	a, err := newApp(ctx, cfg, instruments)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		Tenants:          a.tenants,
		ClinicAccounts:   a.clinicAccounts,
		PlatformAccounts: a.platformAccounts,
		Sessions:         a.sessions,
		Backups:          a.backups,
		AuditLogger:      a.auditLogger,
		Metrics:          metrics.NewHTTPMetrics("psicosas"),
		DB:               a.db,
		PublicName:       cfg.Tenancy.PublicName,
		MaxUploadBytes:   cfg.Backup.MaxUploadBytes,
	})

	var rateLimiter *transportHTTP.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		rateLimiter = transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		go rateLimiter.Run(ctx)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      transportHTTP.NewRouter(handler, a.tenants, a.switcher, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", logger.Error(err))
		return err
	}
	slog.Info("server exited")
	return nil
}
