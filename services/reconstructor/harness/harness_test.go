// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/dataset"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/engine"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData(t *testing.T) *dataset.Prepared {
	t.Helper()
	raw, err := dataset.Synthetic(dataset.SyntheticConfig{Flows: 6, Days: 20, DayPoints: 12, Noise: 0.05, Seed: 3})
	require.NoError(t, err)
	p, err := dataset.Prepare(raw, dataset.PrepareConfig{DayPoints: 12, Scaler: dataset.ScalerStandard})
	require.NoError(t, err)
	return p
}

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Step = 4
	cfg.IMSStep = 2
	return cfg
}

func TestRun_AllSucceed(t *testing.T) {
	data := testData(t)
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	rep, err := Run(context.Background(),
		Config{RunTimes: 3, Parallelism: 2, TestDays: 1, TestMode: dataset.ModeRandom, Seed: 1},
		Seeded(testConfig(), predictor.MeanPredictor{}), data, WithMetrics(m))
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Succeeded)
	assert.Equal(t, 0, rep.Failed)
	require.Len(t, rep.Outcomes, 3)
	for i, o := range rep.Outcomes {
		assert.Equal(t, i, o.Repetition)
		assert.False(t, o.Failed)
		require.NotNil(t, o.Result)
		rows, flows := o.Result.Reconstructed.Dims()
		assert.Equal(t, 12, rows)
		assert.Equal(t, 6, flows)
	}
	assert.True(t, rep.Mean.Finite())
	assert.True(t, rep.Mean.HasIMS)
	assert.Greater(t, rep.Mean.ErrorRatio, 0.0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
}

// TestRun_FailedRepetitionIsSentinel verifies one failing repetition does not
// abort the others and is excluded from the mean.
func TestRun_FailedRepetitionIsSentinel(t *testing.T) {
	data := testData(t)
	good := Seeded(testConfig(), predictor.MeanPredictor{})
	bad := predictor.Func(func(_ context.Context, w window.Window) (predictor.Forecast, error) {
		_, flows := w.Dims()
		next := make([]float64, flows)
		next[0] = math.NaN()
		return predictor.Forecast{Next: next}, nil
	})
	factory := func(rep int) (*engine.Engine, error) {
		if rep == 1 {
			return engine.New(testConfig(), bad)
		}
		return good(rep)
	}

	rep, err := Run(context.Background(),
		Config{RunTimes: 3, TestDays: 1, TestMode: dataset.ModeLast}, factory, data)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	failed := rep.Outcomes[1]
	assert.True(t, failed.Failed)
	assert.Nil(t, failed.Result)
	var pe *predictor.PredictionError
	require.True(t, errors.As(failed.Err, &pe))
	assert.Equal(t, 0, pe.Step)

	assert.InDelta(t, (rep.Outcomes[0].Summary.ErrorRatio+rep.Outcomes[2].Summary.ErrorRatio)/2,
		rep.Mean.ErrorRatio, 1e-12)
}

func TestRun_FactoryError(t *testing.T) {
	data := testData(t)
	factory := func(int) (*engine.Engine, error) { return nil, engine.ErrInvalidConfig }
	rep, err := Run(context.Background(), Config{RunTimes: 2, TestDays: 1}, factory, data)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed)
	assert.ErrorIs(t, rep.Outcomes[0].Err, engine.ErrInvalidConfig)
	assert.Equal(t, 0.0, rep.Mean.ErrorRatio)
}

func TestRun_SequentialOrder(t *testing.T) {
	data := testData(t)
	var inFlight, maxInFlight atomic.Int32
	inner := Seeded(testConfig(), predictor.LastValuePredictor{})
	factory := func(rep int) (*engine.Engine, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		return inner(rep)
	}
	_, err := Run(context.Background(), Config{RunTimes: 4, TestDays: 1}, factory, data)
	require.NoError(t, err)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestRun_Cancelled(t *testing.T) {
	data := testData(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Config{RunTimes: 2, TestDays: 1}, Seeded(testConfig(), predictor.MeanPredictor{}), data)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidConfig(t *testing.T) {
	data := testData(t)
	f := Seeded(testConfig(), predictor.MeanPredictor{})
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero run times", Config{RunTimes: 0, TestDays: 1}},
		{"zero days", Config{RunTimes: 1, TestDays: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.cfg, f, data)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
