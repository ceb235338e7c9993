// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/correction"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/mask"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// traffic returns rows×flows of positive, non-constant values.
func traffic(rows, flows int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	m := mat.NewDense(rows, flows, nil)
	for i := 0; i < rows; i++ {
		for f := 0; f < flows; f++ {
			m.Set(i, f, 10+float64(f)+5*math.Sin(float64(i)/4)+rng.Float64())
		}
	}
	return m
}

func split(data *mat.Dense, warm int) (init, truth *mat.Dense) {
	rows, flows := data.Dims()
	init = mat.DenseCopyOf(data.Slice(0, warm, 0, flows))
	truth = mat.DenseCopyOf(data.Slice(warm, rows, 0, flows))
	return init, truth
}

func baseConfig() Config {
	return Config{
		Ratio:      0.5,
		Policy:     mask.PolicyFairness,
		Step:       3,
		Weights:    [4]float64{1, 1, 1, 1},
		Correction: correction.ModeNone,
		Seed:       1,
	}
}

// TestRun_ConstantScenario is the four-flow, half-ratio scenario: every row
// takes exactly two flows from truth and the others from the window mean.
func TestRun_ConstantScenario(t *testing.T) {
	data := mat.NewDense(8, 4, nil)
	for i := 0; i < 8; i++ {
		data.SetRow(i, []float64{1, 2, 3, 4})
	}
	init, truth := split(data, 3)

	e, err := New(baseConfig(), predictor.MeanPredictor{})
	require.NoError(t, err)
	res, err := e.Run(context.Background(), init, truth)
	require.NoError(t, err)

	rows, cols := res.Reconstructed.Dims()
	assert.Equal(t, 5, rows)
	assert.Equal(t, 4, cols)
	for i := 0; i < rows; i++ {
		assert.Equal(t, 2.0, floats.Sum(res.Mask.RawRowView(i)), "row %d", i)
		assert.Equal(t, []float64{1, 2, 3, 4}, res.Reconstructed.RawRowView(i))
	}
}

// TestRun_UnmeasuredComeFromPredictor checks the blend on non-constant data.
func TestRun_UnmeasuredComeFromPredictor(t *testing.T) {
	init, truth := split(traffic(20, 5, 9), 4)
	cfg := baseConfig()
	cfg.Step = 4
	cfg.Ratio = 0.4

	var windows []window.Window
	spy := predictor.Func(func(ctx context.Context, w window.Window) (predictor.Forecast, error) {
		windows = append(windows, w)
		return predictor.MeanPredictor{}.Predict(ctx, w)
	})
	e, err := New(cfg, spy)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), init, truth)
	require.NoError(t, err)
	require.Len(t, windows, 16)

	for i := 0; i < 16; i++ {
		fc, err := predictor.MeanPredictor{}.Predict(context.Background(), windows[i])
		require.NoError(t, err)
		for f := 0; f < 5; f++ {
			if res.Mask.At(i, f) == 0 {
				assert.Equal(t, fc.Next[f], res.Reconstructed.At(i, f), "row %d flow %d", i, f)
			}
		}
	}
}

// TestRun_MaskFidelity verifies measured entries equal truth exactly under
// every policy, with and without correction.
func TestRun_MaskFidelity(t *testing.T) {
	init, truth := split(traffic(60, 7, 3), 10)
	cases := []struct {
		name       string
		policy     mask.Policy
		correction correction.Mode
		p          predictor.Predictor
	}{
		{"random", mask.PolicyRandom, correction.ModeNone, predictor.MeanPredictor{}},
		{"fairness", mask.PolicyFairness, correction.ModeNone, predictor.LastValuePredictor{}},
		{"weighted", mask.PolicyWeighted, correction.ModeNone, predictor.MeanBidirectional{}},
		{"fairness fwbw", mask.PolicyFairness, correction.ModeForwardBackward, predictor.MeanBidirectional{}},
		{"weighted fwbw", mask.PolicyWeighted, correction.ModeForwardBackward, predictor.MeanBidirectional{}},
		{"random backward", mask.PolicyRandom, correction.ModeBackward, predictor.MeanBidirectional{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Step = 6
			cfg.Ratio = 0.3
			cfg.Policy = tc.policy
			cfg.Correction = tc.correction

			e, err := New(cfg, tc.p)
			require.NoError(t, err)
			res, err := e.Run(context.Background(), init, truth)
			require.NoError(t, err)

			rows, flows := res.Mask.Dims()
			for i := 0; i < rows; i++ {
				assert.Equal(t, float64(mask.Quota(cfg.Ratio, flows)), floats.Sum(res.Mask.RawRowView(i)),
					"cardinality at row %d", i)
				for f := 0; f < flows; f++ {
					if res.Mask.At(i, f) == 1 {
						assert.Equal(t, truth.At(i, f), res.Reconstructed.At(i, f), "row %d flow %d", i, f)
					}
				}
			}
		})
	}
}

func TestRun_TruthNotMutated(t *testing.T) {
	init, truth := split(traffic(30, 4, 5), 6)
	before := mat.DenseCopyOf(truth)
	cfg := baseConfig()
	cfg.Step = 6
	cfg.Correction = correction.ModeForwardBackward

	e, err := New(cfg, predictor.MeanBidirectional{})
	require.NoError(t, err)
	res, err := e.Run(context.Background(), init, truth)
	require.NoError(t, err)

	assert.True(t, mat.Equal(before, truth))
	assert.True(t, mat.Equal(before, res.Truth))
}

// TestRun_IMSNonInterference verifies enabling the IMS rollout leaves the
// reconstruction bit-identical.
func TestRun_IMSNonInterference(t *testing.T) {
	init, truth := split(traffic(50, 6, 11), 8)
	cfg := baseConfig()
	cfg.Step = 8
	cfg.Policy = mask.PolicyRandom
	cfg.Correction = correction.ModeForwardBackward

	plain, err := New(cfg, predictor.MeanBidirectional{})
	require.NoError(t, err)
	want, err := plain.Run(context.Background(), init, truth)
	require.NoError(t, err)
	assert.Nil(t, want.IMS)

	cfg.IMSStep = 4
	rolled, err := New(cfg, predictor.MeanBidirectional{})
	require.NoError(t, err)
	got, err := rolled.Run(context.Background(), init, truth)
	require.NoError(t, err)

	assert.True(t, mat.Equal(want.Reconstructed, got.Reconstructed))
	assert.True(t, mat.Equal(want.Mask, got.Mask))

	rows, _ := got.IMS.Dims()
	assert.Equal(t, 42-4+1, rows)
	assert.True(t, mat.Equal(got.IMSTruth, truth.Slice(3, 42, 0, 6)))
}

// TestIMS_LeavesBufferUntouched rolls out directly against a buffer.
func TestIMS_LeavesBufferUntouched(t *testing.T) {
	buf, err := window.NewBuffer(traffic(5, 3, 2), 5, 2)
	require.NoError(t, err)
	require.NoError(t, buf.Append([]float64{1, 2, 3}, []float64{1, 0, 0}))

	w, err := window.Build(buf, 1)
	require.NoError(t, err)
	beforeValues, err := buf.Values(0, buf.Filled())
	require.NoError(t, err)
	beforeMask, err := buf.Mask(0, buf.Filled())
	require.NoError(t, err)

	_, err = IMS(context.Background(), predictor.MeanBidirectional{}, w, 3, correction.ModeForwardBackward)
	require.NoError(t, err)

	afterValues, err := buf.Values(0, buf.Filled())
	require.NoError(t, err)
	afterMask, err := buf.Mask(0, buf.Filled())
	require.NoError(t, err)
	assert.True(t, mat.Equal(beforeValues, afterValues))
	assert.True(t, mat.Equal(beforeMask, afterMask))
	assert.Equal(t, 6, buf.Filled())
}

// TestIMS_LastValueRollout verifies that a last-value model rolled forward
// returns the newest row of the starting window.
func TestIMS_LastValueRollout(t *testing.T) {
	init, truth := split(traffic(25, 3, 8), 5)
	cfg := baseConfig()
	cfg.Step = 5
	cfg.IMSStep = 3

	e, err := New(cfg, predictor.LastValuePredictor{})
	require.NoError(t, err)
	res, err := e.Run(context.Background(), init, truth)
	require.NoError(t, err)

	assert.Equal(t, init.RawRowView(4), res.IMS.RawRowView(0))
	rows, _ := res.IMS.Dims()
	for i := 1; i < rows; i++ {
		assert.Equal(t, res.Reconstructed.RawRowView(i-1), res.IMS.RawRowView(i), "ims row %d", i)
	}
}

// TestIMS_SingleStepMatchesMainLoop checks that a one-step rollout sees the
// same window as the main loop, local ratio look-back included.
func TestIMS_SingleStepMatchesMainLoop(t *testing.T) {
	init, truth := split(traffic(34, 4, 5), 4)
	cfg := baseConfig()
	cfg.Step = 4
	cfg.Policy = mask.PolicyRandom
	cfg.IMSStep = 1

	var nexts [][]float64
	ratioModel := predictor.Func(func(_ context.Context, w window.Window) (predictor.Forecast, error) {
		next := append([]float64(nil), w.LocalRatio.RawRowView(0)...)
		nexts = append(nexts, next)
		return predictor.Forecast{Next: next}, nil
	})
	e, err := New(cfg, ratioModel)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), init, truth)
	require.NoError(t, err)

	rows, _ := res.IMS.Dims()
	require.Equal(t, 30, rows)
	require.Len(t, nexts, 2*rows, "one main-loop and one rollout prediction per step")
	for step := 0; step < rows; step++ {
		main, rollout := nexts[2*step], nexts[2*step+1]
		assert.Equal(t, main, rollout, "step %d", step)
		assert.Equal(t, main, res.IMS.RawRowView(step), "step %d", step)
	}
}

func TestIMS_InvalidSteps(t *testing.T) {
	_, err := IMS(context.Background(), predictor.MeanPredictor{}, window.Window{}, 0, correction.ModeNone)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestRun_NonFiniteAborts verifies a NaN prediction aborts with the step set.
func TestRun_NonFiniteAborts(t *testing.T) {
	init, truth := split(traffic(12, 2, 1), 3)
	var calls int32
	p := predictor.Func(func(ctx context.Context, w window.Window) (predictor.Forecast, error) {
		if atomic.AddInt32(&calls, 1) == 4 {
			return predictor.Forecast{Next: []float64{1, math.Inf(-1)}}, nil
		}
		return predictor.MeanPredictor{}.Predict(ctx, w)
	})

	e, err := New(baseConfig(), p)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), init, truth)
	assert.Nil(t, res)
	require.ErrorIs(t, err, predictor.ErrNonFinite)

	var pe *predictor.PredictionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Step)
	assert.Equal(t, 1, pe.Flow)
}

// TestRun_InsufficientWarmup verifies the warm-up check happens before any
// prediction.
func TestRun_InsufficientWarmup(t *testing.T) {
	var calls int32
	p := predictor.Func(func(ctx context.Context, w window.Window) (predictor.Forecast, error) {
		atomic.AddInt32(&calls, 1)
		return predictor.MeanPredictor{}.Predict(ctx, w)
	})
	cfg := baseConfig()
	cfg.Step = 5
	e, err := New(cfg, p)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), traffic(4, 3, 1), traffic(10, 3, 2))
	assert.ErrorIs(t, err, ErrInsufficientWarmup)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRun_ShapeErrors(t *testing.T) {
	e, err := New(baseConfig(), predictor.MeanPredictor{})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), traffic(3, 3, 1), traffic(5, 4, 1))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	cfg := baseConfig()
	cfg.Shape = Shape{Width: 2, Height: 3}
	grid, err := New(cfg, predictor.MeanPredictor{})
	require.NoError(t, err)
	_, err = grid.Run(context.Background(), traffic(3, 4, 1), traffic(5, 4, 1))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	cfg.IMSStep = 9
	cfg.Shape = Shape{}
	deep, err := New(cfg, predictor.MeanPredictor{})
	require.NoError(t, err)
	_, err = deep.Run(context.Background(), traffic(3, 4, 1), traffic(5, 4, 1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRun_GridShape(t *testing.T) {
	init, truth := split(traffic(20, 6, 4), 3)
	cfg := baseConfig()
	cfg.Shape = Shape{Width: 3, Height: 2}

	e, err := New(cfg, predictor.MeanPredictor{})
	require.NoError(t, err)
	res, err := e.Run(context.Background(), init, truth)
	require.NoError(t, err)
	assert.Equal(t, cfg.Shape, res.Shape)

	x, y := res.Shape.Cell(4)
	assert.Equal(t, 1, x)
	assert.Equal(t, 1, y)
	assert.Equal(t, 4, res.Shape.Index(x, y))
}

func TestRun_ContextCancelled(t *testing.T) {
	init, truth := split(traffic(20, 2, 1), 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, err := New(baseConfig(), predictor.MeanPredictor{})
	require.NoError(t, err)
	_, err = e.Run(ctx, init, truth)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_StepObserver(t *testing.T) {
	init, truth := split(traffic(13, 4, 1), 3)
	var events []StepEvent
	e, err := New(baseConfig(), predictor.MeanPredictor{}, WithStepObserver(func(ev StepEvent) {
		events = append(events, ev)
	}))
	require.NoError(t, err)
	_, err = e.Run(context.Background(), init, truth)
	require.NoError(t, err)

	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, i, ev.T)
		assert.Equal(t, 10, ev.Horizon)
		assert.Equal(t, 2, ev.Measured)
	}
}

func TestNew_RequiresBidirectional(t *testing.T) {
	cfg := baseConfig()
	cfg.Correction = correction.ModeForwardBackward
	_, err := New(cfg, predictor.MeanPredictor{})
	assert.ErrorIs(t, err, ErrNotBidirectional)

	cfg = baseConfig()
	cfg.Policy = mask.PolicyWeighted
	_, err = New(cfg, predictor.LastValuePredictor{})
	assert.ErrorIs(t, err, ErrNotBidirectional)

	_, err = New(baseConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ratio", func(c *Config) { c.Ratio = 0 }},
		{"full ratio", func(c *Config) { c.Ratio = 1 }},
		{"nan ratio", func(c *Config) { c.Ratio = math.NaN() }},
		{"unknown policy", func(c *Config) { c.Policy = "greedy" }},
		{"unknown correction", func(c *Config) { c.Correction = "smooth" }},
		{"zero step", func(c *Config) { c.Step = 0 }},
		{"short correction window", func(c *Config) { c.Step = 2; c.Correction = correction.ModeForwardBackward }},
		{"negative ims", func(c *Config) { c.IMSStep = -1 }},
		{"negative weight", func(c *Config) { c.Policy = mask.PolicyWeighted; c.Weights = [4]float64{1, -1, 0, 0} }},
		{"zero weights", func(c *Config) { c.Policy = mask.PolicyWeighted; c.Weights = [4]float64{} }},
		{"half grid", func(c *Config) { c.Shape = Shape{Width: 3} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, baseConfig().Validate())
	assert.NoError(t, DefaultConfig().Validate())
}
