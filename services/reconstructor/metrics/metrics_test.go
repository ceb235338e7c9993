// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// TestErrorRatio_UnmeasuredOnly verifies measured entries are excluded.
func TestErrorRatio_UnmeasuredOnly(t *testing.T) {
	truth := mat.NewDense(2, 2, []float64{3, 100, 4, 100})
	pred := mat.NewDense(2, 2, []float64{0, -5, 0, 7})
	mask := mat.NewDense(2, 2, []float64{0, 1, 0, 1})

	got, err := ErrorRatio(truth, pred, mask)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-12)

	var typedNil *mat.Dense
	all, err := ErrorRatio(truth, truth, typedNil)
	require.NoError(t, err)
	assert.Zero(t, all)
}

func TestErrorRatio_Degenerate(t *testing.T) {
	zero := mat.NewDense(1, 2, nil)
	got, err := ErrorRatio(zero, mat.NewDense(1, 2, []float64{1, 1}), nil)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))

	_, err = ErrorRatio(zero, mat.NewDense(2, 1, nil), nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestR2_RMSE_MAE(t *testing.T) {
	truth := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	perfect, err := R2(truth, truth)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, perfect, 1e-12)

	pred := mat.NewDense(2, 2, []float64{2, 3, 4, 5})
	rmse, err := RMSE(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rmse, 1e-12)

	mae, err := MAE(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mae, 1e-12)

	r2, err := R2(truth, pred)
	require.NoError(t, err)
	// SSres = 4, SStot = 5
	assert.InDelta(t, 1-4.0/5.0, r2, 1e-12)
}

func TestMAPE_SkipsZeroTruth(t *testing.T) {
	truth := mat.NewDense(1, 3, []float64{0, 2, 4})
	pred := mat.NewDense(1, 3, []float64{9, 1, 5})
	got, err := MAPE(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, (0.5+0.25)/2, got, 1e-12)
}

func TestMasked_NullValue(t *testing.T) {
	truth := mat.NewDense(1, 3, []float64{-1, 2, 4})
	pred := mat.NewDense(1, 3, []float64{50, 3, 2})

	mse, err := MaskedMSE(truth, pred, -1)
	require.NoError(t, err)
	assert.InDelta(t, (1.0+4.0)/2, mse, 1e-12)

	rmse, err := MaskedRMSE(truth, pred, -1)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(2.5), rmse, 1e-12)

	nanTruth := mat.NewDense(1, 2, []float64{math.NaN(), 2})
	mse, err = MaskedMSE(nanTruth, mat.NewDense(1, 2, []float64{0, 4}), math.NaN())
	require.NoError(t, err)
	assert.InDelta(t, 4.0, mse, 1e-12)
}

func TestScore(t *testing.T) {
	truth := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	mask := mat.NewDense(2, 2, []float64{1, 0, 0, 1})

	var noIMS *mat.Dense
	s, err := Score(truth, truth, mask, noIMS, noIMS)
	require.NoError(t, err)
	assert.Zero(t, s.ErrorRatio)
	assert.InDelta(t, 1.0, s.R2, 1e-12)
	assert.False(t, s.HasIMS)
	assert.True(t, s.Finite())

	ims := mat.NewDense(1, 2, []float64{3, 4})
	s, err = Score(truth, truth, mask, ims, ims)
	require.NoError(t, err)
	assert.Zero(t, s.IMSErrorRatio)
	assert.Zero(t, s.IMSRMSE)
	assert.True(t, s.HasIMS)

	s.R2 = math.Inf(1)
	assert.False(t, s.Finite())
}
