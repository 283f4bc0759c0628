// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds process-wide settings for the generation service.
//
// All settings are read from environment variables so the service can run
// unchanged in containers and local development. Per-run LLM credentials
// arrive with each generation request; the values here are only the
// fallback used when a request carries no credentials at all.
package config

import (
	"os"
	"strconv"
	"time"
)

// Settings contains all process-wide configuration for the service.
type Settings struct {
	// Port is the HTTP listen port.
	Port string

	// NexusAPIKey authenticates catalog requests against Nexus Mods.
	NexusAPIKey string

	// LibraryPath points to the YAML file with games, playstyles, and
	// per-game build phases.
	LibraryPath string

	// DefaultProvider is the provider id used when a generation request
	// carries no credentials (e.g. "ollama" for local inference).
	DefaultProvider string

	// DefaultBaseURL overrides the default provider's endpoint.
	DefaultBaseURL string

	// DefaultAPIKey is the API key for the default provider.
	DefaultAPIKey string

	// DefaultModel overrides the default provider's model.
	DefaultModel string

	// RunRetention is how long finished runs are kept for SSE replay
	// before garbage collection.
	RunRetention time.Duration

	// OTelEndpoint is the OpenTelemetry collector address. Empty disables
	// trace export.
	OTelEndpoint string

	// LogLevel is the minimum log level ("debug", "info", "warn", "error").
	LogLevel string

	// LogDir enables file logging when non-empty.
	LogDir string
}

// Load reads Settings from the environment, applying defaults.
func Load() Settings {
	return Settings{
		Port:            envOr("MODFORGE_PORT", "12300"),
		NexusAPIKey:     os.Getenv("NEXUS_API_KEY"),
		LibraryPath:     envOr("MODFORGE_LIBRARY_PATH", "configs/library.yaml"),
		DefaultProvider: envOr("MODFORGE_DEFAULT_PROVIDER", "ollama"),
		DefaultBaseURL:  envOr("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
		DefaultAPIKey:   os.Getenv("MODFORGE_DEFAULT_API_KEY"),
		DefaultModel:    os.Getenv("MODFORGE_DEFAULT_MODEL"),
		RunRetention:    envDurationOr("MODFORGE_RUN_RETENTION", time.Hour),
		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:        envOr("MODFORGE_LOG_LEVEL", "info"),
		LogDir:          os.Getenv("MODFORGE_LOG_DIR"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Plain integers are treated as seconds.
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
