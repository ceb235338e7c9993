// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package window

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Window is a read-only snapshot of Step consecutive buffer rows.
//
// # Fields
//
//   - Start: buffer row of Values row 0
//   - Values: Step×Flows traffic values (measured or inferred)
//   - Mask: Step×Flows measurement indicator
//   - LocalRatio: Step×Flows fraction of the Step rows ending at each row
//     that were measured. Feeds predictors trained with a third channel.
//
// All matrices are private copies; mutating them does not affect the
// buffer they came from.
type Window struct {
	Start      int
	Values     *mat.Dense
	Mask       *mat.Dense
	LocalRatio *mat.Dense
}

// Dims returns (step, flows).
func (w Window) Dims() (int, int) {
	if w.Values == nil {
		return 0, 0
	}
	return w.Values.Dims()
}

// MeasuredCount returns the number of measured rows of flow f.
func (w Window) MeasuredCount(f int) int {
	rows, _ := w.Mask.Dims()
	n := 0
	for i := 0; i < rows; i++ {
		if w.Mask.At(i, f) == 1 {
			n++
		}
	}
	return n
}

// Build returns the window of rows [t, t+Step) of b.
//
// Build only reads from b. Two calls with the same buffer state and t
// return identical matrices.
func Build(b *Buffer, t int) (Window, error) {
	if t < 0 || t+b.step > b.filled {
		return Window{}, fmt.Errorf("%w: window at %d needs rows up to %d, have %d",
			ErrOutOfRange, t, t+b.step, b.filled)
	}
	values, err := b.Values(t, t+b.step)
	if err != nil {
		return Window{}, err
	}
	mask, err := b.Mask(t, t+b.step)
	if err != nil {
		return Window{}, err
	}
	return Window{
		Start:      t,
		Values:     values,
		Mask:       mask,
		LocalRatio: localRatio(b, t),
	}, nil
}

// FromWindow allocates a scratch buffer seeded with the values and mask of w
// (unlike NewBuffer, the mask is preserved rather than set to 1) with room
// for horizon appended rows.
//
// The mask rows that preceded w in its source buffer are recovered from
// w.LocalRatio, so windows built on the scratch buffer report the same
// local ratio as the source buffer would.
func FromWindow(w Window, horizon int) (*Buffer, error) {
	step, flows := w.Dims()
	if step == 0 || flows == 0 || w.Mask == nil {
		return nil, fmt.Errorf("%w: empty window", ErrInvalidShape)
	}
	if horizon < 0 {
		return nil, fmt.Errorf("%w: horizon=%d", ErrInvalidShape, horizon)
	}
	b := &Buffer{
		values: mat.NewDense(step+horizon, flows, nil),
		mask:   mat.NewDense(step+horizon, flows, nil),
		step:   step,
		flows:  flows,
		filled: step,
	}
	b.values.Slice(0, step, 0, flows).(*mat.Dense).Copy(w.Values)
	b.mask.Slice(0, step, 0, flows).(*mat.Dense).Copy(w.Mask)
	b.history = priorMask(w)
	return b, nil
}

// priorMask recovers the min(step-1, w.Start) mask rows before w, oldest
// first. Window row r averages min(step, Start+r+1) rows, so the sum of
// the rows before w that it covers is H(r) = ratio*n - sum(mask[0..r]),
// and the row m places before w is H(step-1-m) - H(step-m).
func priorMask(w Window) *mat.Dense {
	step, flows := w.Dims()
	h := min(step-1, w.Start)
	if w.LocalRatio == nil || h <= 0 {
		return nil
	}
	prior := func(r, f int) float64 {
		if r >= step-1 {
			return 0
		}
		n := min(step, w.Start+r+1)
		in := 0.0
		for i := 0; i <= r; i++ {
			in += w.Mask.At(i, f)
		}
		return w.LocalRatio.At(r, f)*float64(n) - in
	}
	out := mat.NewDense(h, flows, nil)
	for m := 1; m <= h; m++ {
		for f := 0; f < flows; f++ {
			v := math.Round(prior(step-1-m, f) - prior(step-m, f))
			out.Set(h-m, f, math.Max(0, math.Min(1, v)))
		}
	}
	return out
}

// localRatio computes, for every row r of the window starting at t, the
// mean mask over rows [r-step+1, r], clipped to the rows the buffer knows
// about (its history included).
func localRatio(b *Buffer, t int) *mat.Dense {
	first := 0
	if b.history != nil {
		first = -b.history.RawMatrix().Rows
	}
	out := mat.NewDense(b.step, b.flows, nil)
	for j := 0; j < b.step; j++ {
		r := t + j
		lo := max(r-b.step+1, first)
		n := float64(r - lo + 1)
		for f := 0; f < b.flows; f++ {
			sum := 0.0
			for i := lo; i <= r; i++ {
				if i < 0 {
					sum += b.history.At(i-first, f)
				} else {
					sum += b.mask.At(i, f)
				}
			}
			out.Set(j, f, sum/n)
		}
	}
	return out
}
