// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package predictor adapts trained traffic models to the reconstruction
// engine.
//
// # Description
//
// The engine sees every model through one method: given a window of Step
// rows (values, measurement indicator and local measurement ratio per
// flow) return the value of every flow one step past the window. Models
// trained with forward and backward heads additionally return, for every
// window row j, the forward prediction of row j+1 and the backward
// prediction of row j-1; those feed the correction step.
//
// Guard must wrap every predictor handed to the engine. It turns
// non-finite output into a *PredictionError, which aborts the run.
package predictor

import (
	"context"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"gonum.org/v1/gonum/mat"
)

// Forecast is the output of one prediction.
//
// # Fields
//
//   - Next: one value per flow for the row after the window
//   - Forward: Step×Flows, row j predicts window row j+1 (bidirectional only)
//   - Backward: Step×Flows, row j predicts window row j-1 (bidirectional only)
type Forecast struct {
	Next     []float64
	Forward  *mat.Dense
	Backward *mat.Dense
}

// HasHeads reports whether both forward and backward heads are present.
func (f Forecast) HasHeads() bool {
	return f.Forward != nil && f.Backward != nil
}

// Predictor is the capability every model exposes to the engine.
type Predictor interface {
	Predict(ctx context.Context, w window.Window) (Forecast, error)
}

// Bidirectional is implemented by predictors that may return forward and
// backward heads. Bidirectional() reports whether they actually do.
type Bidirectional interface {
	Predictor
	Bidirectional() bool
}

// IsBidirectional reports whether p returns forward and backward heads.
func IsBidirectional(p Predictor) bool {
	b, ok := p.(Bidirectional)
	return ok && b.Bidirectional()
}

// Func adapts a plain function to the Predictor interface.
type Func func(ctx context.Context, w window.Window) (Forecast, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, w window.Window) (Forecast, error) {
	return f(ctx, w)
}
