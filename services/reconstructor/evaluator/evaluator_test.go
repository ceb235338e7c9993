// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/correction"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/engine"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/mask"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticScenario() *datatypes.Scenario {
	sc := &datatypes.Scenario{
		Metadata: datatypes.Metadata{ID: "synthetic-weighted"},
		Dataset: datatypes.DatasetSpec{
			DayPoints: 12,
			TestDays:  1,
			Synthetic: &datatypes.SyntheticSpec{Flows: 6, Days: 20, Noise: 0.05, Seed: 9},
		},
		Reconstruction: datatypes.ReconstructionSpec{
			MonitoringRatio: 0.3,
			FlowSelection:   "weighted",
			WindowStep:      4,
			IMSStep:         2,
			Correction:      "fwbw",
			Grid:            &datatypes.Grid{Width: 3, Height: 2},
		},
		Predictor: datatypes.PredictorSpec{Type: "mean-bidirectional"},
		Harness:   datatypes.HarnessSpec{RunTimes: 2},
		Output: datatypes.OutputSpec{
			Influx: &datatypes.InfluxSpec{URL: "http://influx:8086", Org: "o", Bucket: "b"},
		},
	}
	sc.ApplyDefaults()
	return sc
}

type fakeSink struct {
	written []*datatypes.RunRecord
	closed  bool
	err     error
}

func (f *fakeSink) WriteRun(_ context.Context, rec *datatypes.RunRecord) error {
	f.written = append(f.written, rec)
	return f.err
}

func (f *fakeSink) Close() { f.closed = true }

func TestEvaluator_Run(t *testing.T) {
	store, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	sink := &fakeSink{}

	ev := New(WithStore(store), WithSinkFactory(func(*datatypes.InfluxSpec) (Sink, error) { return sink, nil }))
	rec, report, err := ev.Run(context.Background(), syntheticScenario())
	require.NoError(t, err)

	assert.Equal(t, datatypes.StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.Succeeded)
	assert.Len(t, report.Outcomes, 2)

	stored, err := store.GetRun(rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, "synthetic-weighted", stored.ScenarioID)
	assert.Len(t, stored.Repetitions, 2)

	rep, err := store.GetRepetition(rec.RunID, 1)
	require.NoError(t, err)
	assert.Len(t, rep.Reconstructed, 12)
	assert.Len(t, rep.IMS, 11)
	require.NotNil(t, rep.Grid)
	assert.Equal(t, 3, rep.Grid.Width)

	require.Len(t, sink.written, 1)
	assert.True(t, sink.closed)
}

func TestEvaluator_InfluxFailureIsNotFatal(t *testing.T) {
	sink := &fakeSink{err: errors.New("connection refused")}
	ev := New(WithSinkFactory(func(*datatypes.InfluxSpec) (Sink, error) { return sink, nil }))
	rec, _, err := ev.Run(context.Background(), syntheticScenario())
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, rec.Status)
}

func TestEvaluator_ServerSink(t *testing.T) {
	sink := &fakeSink{}
	opened := 0
	ev := New(WithSink(sink), WithSinkFactory(func(*datatypes.InfluxSpec) (Sink, error) {
		opened++
		return &fakeSink{}, nil
	}))

	sc := syntheticScenario()
	sc.Output.Influx = nil
	rec, _, err := ev.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, sink.written, 1)
	assert.Equal(t, rec.RunID, sink.written[0].RunID)
	assert.Zero(t, opened)
	assert.False(t, sink.closed, "the caller owns the shared sink")

	_, _, err = ev.Run(context.Background(), syntheticScenario())
	require.NoError(t, err)
	assert.Equal(t, 1, opened)
	assert.Len(t, sink.written, 1, "a scenario target replaces the shared sink")
}

func TestEvaluator_AllRepetitionsFail(t *testing.T) {
	sc := syntheticScenario()
	sc.Output.Influx = nil
	// A window longer than the test block fails every repetition.
	sc.Dataset.TestDays = 4
	rec, _, err := New().Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, rec.Status)
	assert.Equal(t, 2, rec.Failed)
	assert.NotEmpty(t, rec.Repetitions[0].Error)
}

func TestEngineConfig(t *testing.T) {
	sc := syntheticScenario()
	sc.Reconstruction.Weights = []float64{1, 2, 3, 4}
	cfg, err := EngineConfig(sc)
	require.NoError(t, err)
	assert.Equal(t, mask.PolicyWeighted, cfg.Policy)
	assert.Equal(t, correction.ModeForwardBackward, cfg.Correction)
	assert.Equal(t, [4]float64{1, 2, 3, 4}, cfg.Weights)
	assert.Equal(t, engine.Shape{Width: 3, Height: 2}, cfg.Shape)

	sc.Reconstruction.WindowStep = 2
	_, err = EngineConfig(sc)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)

	sc.Reconstruction.FlowSelection = "greedy"
	_, err = EngineConfig(sc)
	assert.ErrorIs(t, err, ErrScenario)
}

func TestBuildPredictor(t *testing.T) {
	p, err := BuildPredictor(datatypes.PredictorSpec{Type: "last"})
	require.NoError(t, err)
	assert.IsType(t, predictor.LastValuePredictor{}, p)

	p, err = BuildPredictor(datatypes.PredictorSpec{Type: "http", URL: "http://model:12310", Timeout: "2s", Bidirectional: true})
	require.NoError(t, err)
	assert.True(t, predictor.IsBidirectional(p))

	_, err = BuildPredictor(datatypes.PredictorSpec{Type: "http", URL: "http://model", Timeout: "soon"})
	assert.ErrorIs(t, err, ErrScenario)

	_, err = BuildPredictor(datatypes.PredictorSpec{Type: "arima"})
	assert.ErrorIs(t, err, ErrScenario)
}

func TestLoadData(t *testing.T) {
	_, err := LoadData(datatypes.DatasetSpec{Name: "unknown", Path: "x.csv"})
	assert.ErrorIs(t, err, ErrScenario)

	rows := make([][]float64, 50)
	for i := range rows {
		rows[i] = []float64{float64(i), float64(2 * i)}
	}
	p, err := LoadData(datatypes.DatasetSpec{DayPoints: 10, Data: rows, Scaler: "minmax"})
	require.NoError(t, err)
	r, c := p.TestRaw.Dims()
	assert.Equal(t, 10, r)
	assert.Equal(t, 2, c)
}
