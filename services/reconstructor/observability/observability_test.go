// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordStep(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStep("fairness", 3)
	m.RecordStep("fairness", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("fairness")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MeasuredFlows.WithLabelValues("fairness")))
}

func TestMetrics_RecordPredictionFailure(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPrediction(time.Millisecond, ReasonNonFinite, false)
	m.RecordPrediction(time.Millisecond, ReasonNonFinite, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionFailuresTotal.WithLabelValues(ReasonNonFinite)))
}

func TestMetrics_RecordRepetition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRepetition(time.Second, true)
	m.RecordRepetition(time.Second, false)
	m.RecordRepetition(time.Second, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
}

// TestMetrics_NilSafe verifies a nil *Metrics can be used without panicking.
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStep("random", 1)
		m.RecordPrediction(time.Second, ReasonOther, false)
		m.RecordCorrection(time.Second)
		m.RecordRepetition(time.Second, true)
	})
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), TelemetryConfig{
		ServiceName:    "test",
		TraceExporter:  ExporterNone,
		MetricExporter: ExporterNone,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Stdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), TelemetryConfig{
		ServiceName:    "test",
		TraceExporter:  ExporterStdout,
		MetricExporter: ExporterStdout,
		Writer:         &buf,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_PrometheusMeter(t *testing.T) {
	shutdown, err := Init(context.Background(), TelemetryConfig{
		ServiceName:    "test",
		MetricExporter: ExporterPrometheus,
		Registerer:     prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), TelemetryConfig{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), TelemetryConfig{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
