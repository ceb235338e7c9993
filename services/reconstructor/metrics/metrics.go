// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package metrics scores a reconstruction against ground truth.
//
// # Description
//
// ErrorRatio is the headline metric and only looks at entries that were
// inferred (mask 0). R2, RMSE, MAE and MAPE are computed over every entry.
// The Masked* variants skip entries whose truth equals a null value, the
// convention used for missing samples in graph-diffusion training data.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrShapeMismatch indicates matrices of different dimensions.
var ErrShapeMismatch = errors.New("metric input shape mismatch")

// Summary collects the scores of one repetition.
//
// IMS fields are only meaningful when HasIMS is set.
type Summary struct {
	ErrorRatio    float64 `json:"error_ratio" yaml:"error_ratio"`
	R2            float64 `json:"r2" yaml:"r2"`
	RMSE          float64 `json:"rmse" yaml:"rmse"`
	MAE           float64 `json:"mae" yaml:"mae"`
	MAPE          float64 `json:"mape" yaml:"mape"`
	IMSErrorRatio float64 `json:"ims_error_ratio" yaml:"ims_error_ratio"`
	IMSR2         float64 `json:"ims_r2" yaml:"ims_r2"`
	IMSRMSE       float64 `json:"ims_rmse" yaml:"ims_rmse"`
	HasIMS        bool    `json:"has_ims" yaml:"has_ims"`
}

// Finite reports whether every meaningful field is a finite number.
func (s Summary) Finite() bool {
	vals := []float64{s.ErrorRatio, s.R2, s.RMSE, s.MAE, s.MAPE}
	if s.HasIMS {
		vals = append(vals, s.IMSErrorRatio, s.IMSR2, s.IMSRMSE)
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Score computes every Summary field. ims and imsTruth may be nil.
func Score(truth, pred, mask, ims, imsTruth mat.Matrix) (Summary, error) {
	var s Summary
	var err error
	if s.ErrorRatio, err = ErrorRatio(truth, pred, mask); err != nil {
		return s, err
	}
	if s.R2, err = R2(truth, pred); err != nil {
		return s, err
	}
	if s.RMSE, err = RMSE(truth, pred); err != nil {
		return s, err
	}
	if s.MAE, err = MAE(truth, pred); err != nil {
		return s, err
	}
	if s.MAPE, err = MAPE(truth, pred); err != nil {
		return s, err
	}
	if isNil(ims) || isNil(imsTruth) {
		return s, nil
	}
	s.HasIMS = true
	if s.IMSErrorRatio, err = ErrorRatio(imsTruth, ims, nil); err != nil {
		return s, err
	}
	if s.IMSR2, err = R2(imsTruth, ims); err != nil {
		return s, err
	}
	if s.IMSRMSE, err = RMSE(imsTruth, ims); err != nil {
		return s, err
	}
	return s, nil
}

// ErrorRatio returns sqrt(sum((y-yhat)^2)) / sqrt(sum(y^2)) over the
// entries where mask is 0. A nil mask selects every entry. The result is
// 0 when no entry is selected and NaN when the selected truth is all zero
// but the prediction is not.
func ErrorRatio(truth, pred, mask mat.Matrix) (float64, error) {
	if err := same(truth, pred); err != nil {
		return 0, err
	}
	if isNil(mask) {
		mask = nil
	} else if err := same(truth, mask); err != nil {
		return 0, err
	}
	rows, cols := truth.Dims()
	var errSq, normSq float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if mask != nil && mask.At(i, j) != 0 {
				continue
			}
			y := truth.At(i, j)
			d := y - pred.At(i, j)
			errSq += d * d
			normSq += y * y
		}
	}
	switch {
	case errSq == 0:
		return 0, nil
	case normSq == 0:
		return math.NaN(), nil
	}
	return math.Sqrt(errSq) / math.Sqrt(normSq), nil
}

// R2 is the coefficient of determination over all entries, flattened.
func R2(truth, pred mat.Matrix) (float64, error) {
	y, yhat, err := flatten(truth, pred)
	if err != nil {
		return 0, err
	}
	return stat.RSquaredFrom(yhat, y, nil), nil
}

// RMSE is the root mean squared error over all entries.
func RMSE(truth, pred mat.Matrix) (float64, error) {
	y, yhat, err := flatten(truth, pred)
	if err != nil {
		return 0, err
	}
	return floats.Distance(y, yhat, 2) / math.Sqrt(float64(len(y))), nil
}

// MAE is the mean absolute error over all entries.
func MAE(truth, pred mat.Matrix) (float64, error) {
	y, yhat, err := flatten(truth, pred)
	if err != nil {
		return 0, err
	}
	return floats.Distance(y, yhat, 1) / float64(len(y)), nil
}

// MAPE is the mean absolute percentage error over entries with nonzero truth.
func MAPE(truth, pred mat.Matrix) (float64, error) {
	return MaskedMAPE(truth, pred, 0)
}

// MaskedMSE is the mean squared error over entries whose truth differs from
// nullVal. NaN nullVal skips NaN truth entries.
func MaskedMSE(truth, pred mat.Matrix, nullVal float64) (float64, error) {
	var sum float64
	n, err := eachValid(truth, pred, nullVal, func(y, yhat float64) {
		d := y - yhat
		sum += d * d
	})
	if err != nil || n == 0 {
		return 0, err
	}
	return sum / float64(n), nil
}

// MaskedRMSE is the square root of MaskedMSE.
func MaskedRMSE(truth, pred mat.Matrix, nullVal float64) (float64, error) {
	mse, err := MaskedMSE(truth, pred, nullVal)
	return math.Sqrt(mse), err
}

// MaskedMAPE is the mean of |y-yhat|/|y| over entries whose truth differs
// from nullVal and is nonzero.
func MaskedMAPE(truth, pred mat.Matrix, nullVal float64) (float64, error) {
	var sum float64
	n := 0
	_, err := eachValid(truth, pred, nullVal, func(y, yhat float64) {
		if y != 0 {
			sum += math.Abs(y-yhat) / math.Abs(y)
			n++
		}
	})
	if err != nil || n == 0 {
		return 0, err
	}
	return sum / float64(n), nil
}

func eachValid(truth, pred mat.Matrix, nullVal float64, fn func(y, yhat float64)) (int, error) {
	if err := same(truth, pred); err != nil {
		return 0, err
	}
	rows, cols := truth.Dims()
	n := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			y := truth.At(i, j)
			if math.IsNaN(nullVal) && math.IsNaN(y) || y == nullVal {
				continue
			}
			fn(y, pred.At(i, j))
			n++
		}
	}
	return n, nil
}

func flatten(truth, pred mat.Matrix) (y, yhat []float64, err error) {
	if err := same(truth, pred); err != nil {
		return nil, nil, err
	}
	rows, cols := truth.Dims()
	if rows*cols == 0 {
		return nil, nil, fmt.Errorf("%w: empty matrix", ErrShapeMismatch)
	}
	y = make([]float64, 0, rows*cols)
	yhat = make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			y = append(y, truth.At(i, j))
			yhat = append(yhat, pred.At(i, j))
		}
	}
	return y, yhat, nil
}

func same(a, b mat.Matrix) error {
	if a == nil || b == nil {
		return fmt.Errorf("%w: nil matrix", ErrShapeMismatch)
	}
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, ar, ac, br, bc)
	}
	return nil
}

// isNil reports whether m is nil or a typed nil *mat.Dense.
func isNil(m mat.Matrix) bool {
	if m == nil {
		return true
	}
	d, ok := m.(*mat.Dense)
	return ok && d == nil
}
