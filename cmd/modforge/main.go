// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command modforge runs the ModdersOmni generation service.
//
// The serve command starts the HTTP server. It reads configuration from
// environment variables and the games/playstyles library from a YAML file.
//
// # Environment Variables
//
//   - MODFORGE_PORT: HTTP server port (default: 12300)
//   - NEXUS_API_KEY: Nexus Mods API key for catalog requests
//   - MODFORGE_LIBRARY_PATH: path to library.yaml (default: configs/library.yaml)
//   - MODFORGE_DEFAULT_PROVIDER: fallback LLM provider (default: ollama)
//   - OLLAMA_BASE_URL: endpoint for the default provider
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector; empty disables tracing
//   - MODFORGE_LOG_LEVEL: debug, info, warn, or error (default: info)
//   - MODFORGE_LOG_DIR: directory for JSON log files (optional)
//
// # Usage
//
//	# Build
//	go build -o modforge ./cmd/modforge
//
//	# Run
//	./modforge serve
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/moddersomni/modforge/pkg/logging"
	"github.com/moddersomni/modforge/services/generation/config"
	"github.com/moddersomni/modforge/services/generation/generator"
	"github.com/moddersomni/modforge/services/generation/handlers"
	"github.com/moddersomni/modforge/services/generation/library"
	"github.com/moddersomni/modforge/services/generation/llm"
	"github.com/moddersomni/modforge/services/generation/nexus"
	"github.com/moddersomni/modforge/services/generation/observability"
	"github.com/moddersomni/modforge/services/generation/routes"
	"github.com/moddersomni/modforge/services/generation/runs"
	"github.com/moddersomni/modforge/services/generation/store"
)

const janitorInterval = 5 * time.Minute

var rootCmd = &cobra.Command{
	Use:   "modforge",
	Short: "ModdersOmni modlist generation service",
	Long: `Modforge builds curated game modlists with an LLM driving the
Nexus Mods catalog through phased tool-calling.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the generation HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func serve() error {
	cfg := config.Load()

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "generation",
		JSON:    true,
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	lib, err := library.Load(cfg.LibraryPath)
	if err != nil {
		return fmt.Errorf("loading library: %w", err)
	}

	if cfg.OTelEndpoint != "" {
		cleanup, err := observability.InitTracer(cfg.OTelEndpoint)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer cleanup(context.Background())
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	registry := runs.NewRegistry(logger.Logger)
	modlists := store.NewMemory()

	pipeline := &generator.Pipeline{
		Catalog: nexus.NewClient(cfg.NexusAPIKey, nexus.WithLogger(logger.Logger)),
		Defaults: llm.DefaultCredentials{
			Provider: cfg.DefaultProvider,
			BaseURL:  cfg.DefaultBaseURL,
			APIKey:   cfg.DefaultAPIKey,
			Model:    cfg.DefaultModel,
		},
		Persist: modlists,
		Metrics: metrics,
		Retry:   generator.DefaultRetryPolicy(),
		Logger:  logger.Logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go registry.StartJanitor(ctx, janitorInterval, cfg.RunRetention)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("generation-service"))

	routes.RegisterRoutes(router, &handlers.Deps{
		Registry: registry,
		Library:  lib,
		Pipeline: pipeline,
		Store:    modlists,
		Metrics:  metrics,
		Logger:   logger.Logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("generation service listening",
			slog.String("port", cfg.Port),
			slog.String("library", cfg.LibraryPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
