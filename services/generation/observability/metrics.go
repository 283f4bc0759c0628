// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the generation
// service.
//
// # Description
//
// Metrics cover the generation pipeline end to end:
//   - Run counters by terminal status (complete, paused, error)
//   - Phase duration histograms
//   - Provider failure counters by error class
//   - Catalog retry counters by failure reason
//   - Active run and SSE subscriber gauges
//
// # Integration
//
// Exposed via the /metrics endpoint. Construct with NewMetrics and an
// explicit registerer so tests can use isolated registries.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace    = "modforge"
	generationSubsystem = "generation"
)

// Metrics holds all Prometheus metrics for the generation service.
//
// A nil *Metrics is valid: every recording method no-ops, so library code
// never has to guard instrumentation behind nil checks.
type Metrics struct {
	// RunsTotal counts generation runs by terminal status.
	// Labels: status (complete, paused, error)
	RunsTotal *prometheus.CounterVec

	// PhaseDurationSeconds measures wall time per build phase.
	// Labels: status (success, failed)
	PhaseDurationSeconds *prometheus.HistogramVec

	// ProviderErrorsTotal counts LLM provider failures by class.
	// Labels: provider, error_type (rate_limit, auth_error, token_limit,
	// timeout, connection, unknown)
	ProviderErrorsTotal *prometheus.CounterVec

	// CatalogRetriesTotal counts catalog backoff waits by reason.
	// Labels: reason (nexus_rate_limit, nexus_server_error, nexus_timeout,
	// nexus_connection)
	CatalogRetriesTotal *prometheus.CounterVec

	// ActiveRuns tracks generation runs currently executing.
	ActiveRuns prometheus.Gauge

	// ActiveSubscribers tracks open SSE streams.
	ActiveSubscribers prometheus.Gauge
}

// NewMetrics creates and registers all generation metrics.
//
// # Inputs
//
//   - reg: Target registry. Pass prometheus.DefaultRegisterer in the serve
//     path, or a fresh prometheus.NewRegistry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "runs_total",
				Help:      "Total generation runs by terminal status",
			},
			[]string{"status"},
		),

		PhaseDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "phase_duration_seconds",
				Help:      "Wall time per build phase in seconds",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"status"},
		),

		ProviderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "provider_errors_total",
				Help:      "LLM provider failures by provider and error class",
			},
			[]string{"provider", "error_type"},
		),

		CatalogRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "catalog_retries_total",
				Help:      "Catalog backoff waits by failure reason",
			},
			[]string{"reason"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "active_runs",
				Help:      "Generation runs currently executing",
			},
		),

		ActiveSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: generationSubsystem,
				Name:      "active_subscribers",
				Help:      "Open SSE event streams",
			},
		),
	}
}

// RecordRun records a run reaching a terminal (or paused) status.
func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordPhaseDuration records one phase attempt's wall time.
func (m *Metrics) RecordPhaseDuration(seconds float64, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.PhaseDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordProviderError records a classified provider failure.
func (m *Metrics) RecordProviderError(provider, errorType string) {
	if m == nil {
		return
	}
	m.ProviderErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordCatalogRetry records one catalog backoff wait.
func (m *Metrics) RecordCatalogRetry(reason string) {
	if m == nil {
		return
	}
	m.CatalogRetriesTotal.WithLabelValues(reason).Inc()
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active run gauge.
func (m *Metrics) RunEnded() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}

// SubscriberConnected increments the SSE subscriber gauge.
func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Inc()
}

// SubscriberDisconnected decrements the SSE subscriber gauge.
func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Dec()
}
