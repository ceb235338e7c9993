// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mask

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Weighted extends Fairness with reconstruction loss and dispersion.
//
// # Description
//
// Each flow gets four terms, every one min-max scaled over all flows into
// [Epsilon, 1]:
//
//	rl_fw, rl_bw  forward/backward reconstruction loss
//	cl            consecutive loss
//	std           population standard deviation of the window values
//
// and a weight 1 / (c0*rl_fw + c1*rl_bw + c2*cl + c3*std). The Quota flows
// with the smallest weight are measured.
//
// # Limitations
//
// The coefficients carry no meaning beyond "larger coefficient, larger
// influence". They are taken as configured.
type Weighted struct {
	Coefficients [4]float64
}

// Select implements Selector.
func (w Weighted) Select(in Input) ([]float64, error) {
	flows, err := validate(in)
	if err != nil {
		return nil, err
	}
	if in.Values == nil || len(in.ForwardLoss) != flows || len(in.BackwardLoss) != flows {
		return nil, fmt.Errorf("%w: weighted selection needs values and %d forward/backward losses",
			ErrShapeMismatch, flows)
	}
	rows, vf := in.Values.Dims()
	if vf != flows {
		return nil, fmt.Errorf("%w: values have %d flows, history %d", ErrShapeMismatch, vf, flows)
	}
	for _, c := range w.Coefficients {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative coefficient %v", ErrInvalidInput, c)
		}
	}
	if floats.Sum(w.Coefficients[:]) == 0 {
		return nil, fmt.Errorf("%w: all coefficients are zero", ErrInvalidInput)
	}

	stds := make([]float64, flows)
	col := make([]float64, rows)
	for f := 0; f < flows; f++ {
		mat.Col(col, f, in.Values)
		_, stds[f] = stat.PopMeanStdDev(col, nil)
	}

	terms := [4][]float64{
		scale(in.ForwardLoss),
		scale(in.BackwardLoss),
		scale(ConsecutiveLoss(in.History)),
		scale(stds),
	}
	weights := make([]float64, flows)
	for f := range weights {
		denom := 0.0
		for k, c := range w.Coefficients {
			denom += c * terms[k][f]
		}
		weights[f] = 1 / denom
	}
	return pick(ascending(weights), Quota(in.Ratio, flows), flows), nil
}

// scale maps x linearly into [Epsilon, 1]. A constant vector maps to Epsilon.
func scale(x []float64) []float64 {
	out := make([]float64, len(x))
	lo, hi := floats.Min(x), floats.Max(x)
	for i, v := range x {
		if hi == lo {
			out[i] = Epsilon
			continue
		}
		out[i] = Epsilon + (v-lo)/(hi-lo)*(1-Epsilon)
	}
	return out
}
