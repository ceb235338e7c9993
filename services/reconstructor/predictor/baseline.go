// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package predictor

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Baseline predictor names accepted by NewBaseline.
const (
	KindMean              = "mean"
	KindLast              = "last"
	KindMeanBidirectional = "mean-bidirectional"
)

// NewBaseline returns the baseline predictor called name.
func NewBaseline(name string) (Predictor, error) {
	switch strings.ToLower(name) {
	case KindMean:
		return MeanPredictor{}, nil
	case KindLast:
		return LastValuePredictor{}, nil
	case KindMeanBidirectional:
		return MeanBidirectional{}, nil
	}
	return nil, fmt.Errorf("unknown baseline predictor %q", name)
}

// MeanPredictor predicts every flow as the mean of its window values.
type MeanPredictor struct{}

// Predict implements Predictor.
func (MeanPredictor) Predict(_ context.Context, w window.Window) (Forecast, error) {
	_, flows := w.Dims()
	next := make([]float64, flows)
	for f := range next {
		next[f] = stat.Mean(mat.Col(nil, f, w.Values), nil)
	}
	return Forecast{Next: next}, nil
}

// LastValuePredictor repeats the newest window row.
type LastValuePredictor struct{}

// Predict implements Predictor.
func (LastValuePredictor) Predict(_ context.Context, w window.Window) (Forecast, error) {
	step, _ := w.Dims()
	return Forecast{Next: mat.Row(nil, step-1, w.Values)}, nil
}

// MeanBidirectional is a running-mean model with both heads.
//
// The forward head at row j is the mean of rows [0, j]; the backward head
// at row j is the mean of rows [j, Step). Next equals the forward head of
// the last row.
type MeanBidirectional struct{}

// Bidirectional implements Bidirectional.
func (MeanBidirectional) Bidirectional() bool { return true }

// Predict implements Predictor.
func (MeanBidirectional) Predict(_ context.Context, w window.Window) (Forecast, error) {
	step, flows := w.Dims()
	fw := mat.NewDense(step, flows, nil)
	bw := mat.NewDense(step, flows, nil)
	for f := 0; f < flows; f++ {
		sum := 0.0
		for j := 0; j < step; j++ {
			sum += w.Values.At(j, f)
			fw.Set(j, f, sum/float64(j+1))
		}
		sum = 0
		for j := step - 1; j >= 0; j-- {
			sum += w.Values.At(j, f)
			bw.Set(j, f, sum/float64(step-j))
		}
	}
	return Forecast{
		Next:     mat.Row(nil, step-1, fw),
		Forward:  fw,
		Backward: bw,
	}, nil
}
