// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package correction revises the interior of a reconstruction window from
// the forward and backward heads of a bidirectional predictor.
//
// # Description
//
// For a window of Step rows, rows 1..Step-2 are re-estimated per flow as
//
//	corrected[j] = values[j]*alpha_j + forward[j-1]*beta_j + backward[j+1]*gamma_j
//
// where forward[j-1] is the forward head's estimate of row j and
// backward[j+1] the backward head's. The first and last rows anchor the
// two heads and are never revised. Measured entries are always kept.
//
// The weights come from the window's measurement density and from how
// well each head reproduced the measured entries (see Losses and
// ComputeWeights); alpha+beta+gamma is 1 at every interior position.
//
// ModeBackward is an experimental blend of the original value and the
// backward head only, weighted by a density series. It is selectable but
// not the default.
package correction

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Mode selects the correction formula.
type Mode string

const (
	ModeNone            Mode = "none"
	ModeForwardBackward Mode = "fwbw"
	ModeBackward        Mode = "backward"
)

// ParseMode converts a configuration string into a Mode. The empty string
// means ModeNone.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return ModeNone, nil
	case ModeNone, ModeForwardBackward, ModeBackward:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Apply returns a copy of values with the unmeasured interior entries
// replaced by their corrected estimate.
//
// # Inputs
//
//   - mode: correction formula. ModeNone returns an unchanged copy.
//   - values, mask: Step×Flows window
//   - forward, backward: Step×Flows heads; forward row j predicts row j+1,
//     backward row j predicts row j-1
//
// # Outputs
//
//   - *mat.Dense: Step×Flows corrected window
//   - error: ErrShapeMismatch when any input disagrees with values
//
// # Limitations
//
//   - Windows shorter than 3 rows have no interior and are returned unchanged.
func Apply(mode Mode, values, mask, forward, backward *mat.Dense) (*mat.Dense, error) {
	step, flows := values.Dims()
	out := mat.DenseCopyOf(values)
	if mode == ModeNone {
		return out, nil
	}
	if err := sameShape(step, flows, mask, forward, backward); err != nil {
		return nil, err
	}
	if step < 3 {
		return out, nil
	}

	var alpha, beta, gamma *mat.Dense
	switch mode {
	case ModeForwardBackward:
		rlFw, rlBw := Losses(values, mask, forward, backward)
		w := ComputeWeights(mask, rlFw, rlBw)
		alpha, beta, gamma = w.Alpha, w.Beta, w.Gamma
	case ModeBackward:
		alpha, gamma = backwardWeights(mask)
		beta = mat.NewDense(step, flows, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	for j := 1; j < step-1; j++ {
		for f := 0; f < flows; f++ {
			if mask.At(j, f) == 1 {
				continue
			}
			v := values.At(j, f)*alpha.At(j, f) +
				forward.At(j-1, f)*beta.At(j, f) +
				backward.At(j+1, f)*gamma.At(j, f)
			out.Set(j, f, v)
		}
	}
	return out, nil
}

func sameShape(step, flows int, ms ...*mat.Dense) error {
	for _, m := range ms {
		if m == nil {
			return fmt.Errorf("%w: missing matrix", ErrShapeMismatch)
		}
		r, c := m.Dims()
		if r != step || c != flows {
			return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrShapeMismatch, r, c, step, flows)
		}
	}
	return nil
}
