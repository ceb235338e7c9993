// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package observability provides metrics and tracing for the reconstructor.
//
// # Description
//
// Prometheus collectors cover the reconstruction loop (steps, measured
// flows, prediction latency and failures, correction time) and the run
// lifecycle (runs by status, repetition duration). OpenTelemetry tracer
// and meter providers are installed by Init; packages that emit spans
// obtain their tracer through otel.Tracer.
//
// # Thread Safety
//
// All metric operations are thread-safe. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian_tm"
	engineSubsystem  = "engine"
	runSubsystem     = "run"
)

// Failure reasons used as label values.
const (
	ReasonNonFinite   = "non_finite"
	ReasonShape       = "shape"
	ReasonUnavailable = "unavailable"
	ReasonOther       = "other"
)

// Metrics holds the Prometheus collectors of one process.
//
// # Fields
//
//   - StepsTotal: reconstruction steps by selection policy
//   - MeasuredFlows: flows measured at the latest step, by policy
//   - PredictionSeconds: predictor latency
//   - PredictionFailuresTotal: predictor errors by reason
//   - CorrectionSeconds: forward-backward correction latency
//   - RunsTotal: harness repetitions by status (success, failed)
//   - RepetitionSeconds: wall time of one repetition
type Metrics struct {
	StepsTotal              *prometheus.CounterVec
	MeasuredFlows           *prometheus.GaugeVec
	PredictionSeconds       prometheus.Histogram
	PredictionFailuresTotal *prometheus.CounterVec
	CorrectionSeconds       prometheus.Histogram
	RunsTotal               *prometheus.CounterVec
	RepetitionSeconds       prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: registry to register with. prometheus.DefaultRegisterer for
//     the process-wide /metrics endpoint, prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics when called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "steps_total",
				Help:      "Total reconstruction steps by flow selection policy",
			},
			[]string{"policy"},
		),
		MeasuredFlows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "measured_flows",
				Help:      "Flows measured at the most recent step",
			},
			[]string{"policy"},
		),
		PredictionSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "prediction_seconds",
				Help:      "Predictor latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		PredictionFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "prediction_failures_total",
				Help:      "Predictor failures by reason",
			},
			[]string{"reason"},
		),
		CorrectionSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "correction_seconds",
				Help:      "Forward-backward correction latency in seconds",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
			},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: runSubsystem,
				Name:      "repetitions_total",
				Help:      "Harness repetitions by status",
			},
			[]string{"status"},
		),
		RepetitionSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: runSubsystem,
				Name:      "repetition_seconds",
				Help:      "Wall time of one repetition in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
		),
	}
}

// RecordStep records one reconstruction step.
func (m *Metrics) RecordStep(policy string, measured int) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(policy).Inc()
	m.MeasuredFlows.WithLabelValues(policy).Set(float64(measured))
}

// RecordPrediction records a predictor call. reason is ignored on success.
func (m *Metrics) RecordPrediction(d time.Duration, reason string, success bool) {
	if m == nil {
		return
	}
	m.PredictionSeconds.Observe(d.Seconds())
	if !success {
		m.PredictionFailuresTotal.WithLabelValues(reason).Inc()
	}
}

// RecordCorrection records one correction pass.
func (m *Metrics) RecordCorrection(d time.Duration) {
	if m == nil {
		return
	}
	m.CorrectionSeconds.Observe(d.Seconds())
}

// RecordRepetition records a finished harness repetition.
func (m *Metrics) RecordRepetition(d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RepetitionSeconds.Observe(d.Seconds())
}
