// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianKG/services/knowledge"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

// runServe starts the HTTP API and blocks until SIGINT or SIGTERM.
//
// Description:
//
//	Installs telemetry, wires the service, loads persisted graphs into
//	memory so entity lookups work across restarts, then serves until a
//	signal arrives. Shutdown drains in-flight requests for at most
//	server.shutdown_timeout before closing backends.
func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	meter := otel.Meter("aleutian.kg")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			log.Warn("close backends failed", "error", err)
		}
	}()

	if err := a.warmModels(ctx); err != nil {
		log.Warn("model warm-up failed", "error", err)
	}
	n, err := a.service.Warm(ctx)
	if err != nil {
		return fmt.Errorf("load persisted graphs: %w", err)
	}
	if _, err := metrics.RegisterGraphsLoaded(meter, a.service.GraphCount); err != nil {
		return err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := knowledge.NewRouter(knowledge.NewHandlers(a.service, a.ready), knowledge.RouterConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      log,
		Metrics:     metrics,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("knowledge graph API listening", "addr", cfg.Server.Addr, "graphs", n, "persistent", cfg.Storage.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
