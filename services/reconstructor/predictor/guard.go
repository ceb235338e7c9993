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
	"math"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"gonum.org/v1/gonum/mat"
)

// Head names used in PredictionError.
const (
	HeadNext     = "next"
	HeadForward  = "forward"
	HeadBackward = "backward"
)

type guarded struct {
	inner Predictor
}

// Guard wraps p so that every forecast is checked before it is returned.
//
// # Description
//
// The wrapped predictor fails with a *PredictionError on the first NaN or
// Inf in any head, and with ErrShapeMismatch when Next does not have one
// value per flow or a head is not Step×Flows. Guarding an already guarded
// predictor returns it unchanged.
func Guard(p Predictor) Predictor {
	if g, ok := p.(*guarded); ok {
		return g
	}
	return &guarded{inner: p}
}

func (g *guarded) Bidirectional() bool { return IsBidirectional(g.inner) }

func (g *guarded) Predict(ctx context.Context, w window.Window) (Forecast, error) {
	fc, err := g.inner.Predict(ctx, w)
	if err != nil {
		return Forecast{}, err
	}
	if err := Check(fc, w); err != nil {
		return Forecast{}, err
	}
	return fc, nil
}

// Check validates fc against the dimensions of w.
func Check(fc Forecast, w window.Window) error {
	step, flows := w.Dims()
	if len(fc.Next) != flows {
		return fmt.Errorf("%w: next has %d values, window has %d flows", ErrShapeMismatch, len(fc.Next), flows)
	}
	for f, v := range fc.Next {
		if !finite(v) {
			return &PredictionError{Step: -1, Head: HeadNext, Flow: f, Value: v}
		}
	}
	if (fc.Forward == nil) != (fc.Backward == nil) {
		return fmt.Errorf("%w: forward and backward heads must be returned together", ErrShapeMismatch)
	}
	if !fc.HasHeads() {
		return nil
	}
	for _, h := range []struct {
		name string
		m    *mat.Dense
	}{{HeadForward, fc.Forward}, {HeadBackward, fc.Backward}} {
		r, c := h.m.Dims()
		if r != step || c != flows {
			return fmt.Errorf("%w: %s head is %dx%d, want %dx%d", ErrShapeMismatch, h.name, r, c, step, flows)
		}
		for i := 0; i < r; i++ {
			for f, v := range h.m.RawRowView(i) {
				if !finite(v) {
					return &PredictionError{Step: -1, Head: h.name, Row: i, Flow: f, Value: v}
				}
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
