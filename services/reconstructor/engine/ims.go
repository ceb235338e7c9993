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
	"fmt"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/correction"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// IMS rolls w forward steps times without new measurements and returns the
// last predicted row.
//
// # Description
//
// The window is copied into a scratch buffer of Step+steps rows. Each
// rollout step predicts from the newest Step rows, optionally corrects
// their interior with mode, and appends the prediction with mask 0. The
// caller's buffers are never touched.
//
// # Inputs
//
//   - p: predictor; should already be guarded
//   - w: starting window, e.g. the engine's current corrected window
//   - steps: rollout depth, at least 1
//   - mode: correction applied inside the rollout, ModeNone to skip
//
// # Outputs
//
//   - []float64: one value per flow for the row steps past the window
//   - error: predictor failure or invalid arguments
func IMS(ctx context.Context, p predictor.Predictor, w window.Window, steps int, mode correction.Mode) ([]float64, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: ims step %d", ErrInvalidConfig, steps)
	}
	ctx, span := tracer.Start(ctx, "Engine.IMS", trace.WithAttributes(attribute.Int("tm.ims_step", steps)))
	defer span.End()

	scratch, err := window.FromWindow(w, steps)
	if err != nil {
		return nil, err
	}
	_, flows := w.Dims()
	unmeasured := make([]float64, flows)
	correcting := mode != "" && mode != correction.ModeNone

	for k := 0; k < steps; k++ {
		sw, err := window.Build(scratch, k)
		if err != nil {
			return nil, err
		}
		fc, err := p.Predict(ctx, sw)
		if err != nil {
			return nil, fmt.Errorf("ims %d/%d: %w", k+1, steps, err)
		}
		if correcting && fc.HasHeads() {
			corrected, err := correction.Apply(mode, sw.Values, sw.Mask, fc.Forward, fc.Backward)
			if err != nil {
				return nil, err
			}
			if err := reviseInterior(scratch, k, corrected); err != nil {
				return nil, err
			}
		}
		if err := scratch.Append(fc.Next, unmeasured); err != nil {
			return nil, err
		}
	}

	last, err := scratch.Values(scratch.Filled()-1, scratch.Filled())
	if err != nil {
		return nil, err
	}
	return last.RawRowView(0), nil
}
