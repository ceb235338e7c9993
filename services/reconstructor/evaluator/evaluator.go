// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluator turns a Scenario into a finished, stored run.
//
// # Description
//
// The Evaluator resolves the scenario's dataset and predictor, builds the
// engine configuration, runs the harness and persists the outcome to the
// configured RunStore and InfluxDB bucket. The CLI and the HTTP server
// share it.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/engine"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/harness"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
	"github.com/google/uuid"
)

// Store persists run records.
type Store interface {
	PutRun(rec *datatypes.RunRecord, data []datatypes.RepetitionData) error
}

// Sink receives per-repetition scores.
type Sink interface {
	WriteRun(ctx context.Context, rec *datatypes.RunRecord) error
	Close()
}

// SinkFactory opens the sink described by a scenario's influx section.
type SinkFactory func(spec *datatypes.InfluxSpec) (Sink, error)

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithStore persists every run in s.
func WithStore(s Store) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithMetrics records engine and harness metrics in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithSink writes every run whose scenario names no influx target to s.
// The caller owns s and closes it.
func WithSink(s Sink) Option {
	return func(e *Evaluator) { e.sink = s }
}

// WithSinkFactory replaces the InfluxDB sink constructor.
func WithSinkFactory(f SinkFactory) Option {
	return func(e *Evaluator) { e.sinks = f }
}

// Evaluator runs scenarios.
//
// # Thread Safety
//
// Safe for concurrent use; every Run builds its own engines.
type Evaluator struct {
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger
	sinks   SinkFactory
	sink    Sink
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{logger: slog.Default(), sinks: influxSink}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes sc and returns the stored record and the full report.
//
// # Outputs
//
//   - *datatypes.RunRecord: summary with a fresh RunID; Status is
//     StatusFailed when no repetition succeeded
//   - *harness.Report: outcomes including reconstructed matrices
//   - error: scenario resolution errors, harness configuration errors,
//     cancellation, or storage failures
func (e *Evaluator) Run(ctx context.Context, sc *datatypes.Scenario) (*datatypes.RunRecord, *harness.Report, error) {
	cfg, err := EngineConfig(sc)
	if err != nil {
		return nil, nil, err
	}
	p, err := BuildPredictor(sc.Predictor)
	if err != nil {
		return nil, nil, err
	}
	data, err := LoadData(sc.Dataset)
	if err != nil {
		return nil, nil, err
	}

	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "scenario", sc.Metadata.ID)
	logger.Info("run started",
		"policy", cfg.Policy, "ratio", cfg.Ratio, "correction", cfg.Correction,
		"step", cfg.Step, "ims_step", cfg.IMSStep, "run_times", sc.Harness.RunTimes)

	created := time.Now().UTC()
	factory := harness.Seeded(cfg, p, engine.WithLogger(logger), engine.WithMetrics(e.metrics))
	report, err := harness.Run(ctx, harness.Config{
		RunTimes:    sc.Harness.RunTimes,
		Parallelism: sc.Harness.Parallelism,
		TestDays:    sc.Dataset.TestDays,
		TestMode:    sc.Dataset.TestMode,
		Seed:        sc.Reconstruction.Seed,
	}, factory, data, harness.WithLogger(logger), harness.WithMetrics(e.metrics))
	if err != nil {
		return nil, nil, err
	}

	rec := NewRecord(runID, sc, created, report)
	if e.store != nil {
		if err := e.store.PutRun(rec, RepetitionData(runID, report)); err != nil {
			return nil, nil, fmt.Errorf("store run: %w", err)
		}
	}
	var werr error
	switch {
	case sc.Output.Influx != nil:
		werr = e.writeInflux(ctx, sc.Output.Influx, rec)
	case e.sink != nil:
		werr = e.sink.WriteRun(ctx, rec)
	}
	if werr != nil {
		// Scores are already in the run store.
		logger.Warn("influx write failed", "error", werr)
	}
	logger.Info("run finished", "status", rec.Status,
		"succeeded", rec.Succeeded, "failed", rec.Failed, "error_ratio", rec.Mean.ErrorRatio)
	return rec, report, nil
}

func (e *Evaluator) writeInflux(ctx context.Context, spec *datatypes.InfluxSpec, rec *datatypes.RunRecord) error {
	sink, err := e.sinks(spec)
	if err != nil {
		return err
	}
	defer sink.Close()
	return sink.WriteRun(ctx, rec)
}

func influxSink(spec *datatypes.InfluxSpec) (Sink, error) {
	token := ""
	if spec.TokenEnv != "" {
		token = os.Getenv(spec.TokenEnv)
	}
	return storage.NewInfluxSink(storage.InfluxConfig{
		URL:    spec.URL,
		Token:  token,
		Org:    spec.Org,
		Bucket: spec.Bucket,
	})
}
