// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package window holds the reconstruction state of one test run: the
// traffic matrix buffer, its parallel measurement mask buffer, and the
// sliding window views handed to predictors.
//
// # Layout
//
// A Buffer covers a warm-up block of Step rows followed by Horizon rows
// that are appended one per timestep:
//
//	row:   0 .. Step-1   | Step .. Step+Horizon-1
//	       warm-up (mask 1) | reconstructed
//
// The window for timestep t covers rows [t, t+Step) and the row produced
// at t is written to t+Step.
//
// # Thread Safety
//
// A Buffer is owned by a single engine run and is not safe for concurrent
// mutation. Windows are deep copies and may be shared freely.
package window

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Buffer is the append-only traffic matrix plus measurement mask of one run.
//
// # Description
//
// Values and mask share the same (Step+Horizon)×Flows shape. The warm-up
// rows are copied from the caller and fully measured. Rows past the
// warm-up are written exactly once through Append; interior rows of the
// most recent window can be revised through Revise, which never touches
// measured entries.
//
// # Invariants
//
//   - mask entries are exactly 0 or 1
//   - a measured entry is never rewritten after Append
type Buffer struct {
	values *mat.Dense
	mask   *mat.Dense
	step   int
	flows  int
	filled int

	// history holds mask rows logically before row 0, oldest first. Only
	// scratch buffers built by FromWindow carry one.
	history *mat.Dense
}

// NewBuffer allocates a buffer for horizon timesteps seeded with the last
// step rows of init.
//
// # Inputs
//
//   - init: warm-up matrix with at least step rows. Not retained.
//   - step: window length.
//   - horizon: number of timesteps to reconstruct.
//
// # Outputs
//
//   - *Buffer: buffer with Filled() == step
//   - error: ErrInsufficientRows when init is shorter than step,
//     ErrInvalidShape for non-positive step, horizon or flow count
func NewBuffer(init mat.Matrix, step, horizon int) (*Buffer, error) {
	if init == nil {
		return nil, fmt.Errorf("%w: nil warm-up matrix", ErrInvalidShape)
	}
	rows, flows := init.Dims()
	if step <= 0 || horizon < 0 || flows == 0 {
		return nil, fmt.Errorf("%w: step=%d horizon=%d flows=%d", ErrInvalidShape, step, horizon, flows)
	}
	if rows < step {
		return nil, fmt.Errorf("%w: have %d rows, need %d", ErrInsufficientRows, rows, step)
	}

	b := &Buffer{
		values: mat.NewDense(step+horizon, flows, nil),
		mask:   mat.NewDense(step+horizon, flows, nil),
		step:   step,
		flows:  flows,
		filled: step,
	}
	offset := rows - step
	for i := 0; i < step; i++ {
		for f := 0; f < flows; f++ {
			b.values.Set(i, f, init.At(offset+i, f))
			b.mask.Set(i, f, 1)
		}
	}
	return b, nil
}

// Step returns the window length.
func (b *Buffer) Step() int { return b.step }

// Flows returns the number of flows per row.
func (b *Buffer) Flows() int { return b.flows }

// Filled returns the number of rows written so far, warm-up included.
func (b *Buffer) Filled() int { return b.filled }

// Capacity returns the total number of rows the buffer can hold.
func (b *Buffer) Capacity() int {
	r, _ := b.values.Dims()
	return r
}

// Append writes the next row. values and mask are copied.
func (b *Buffer) Append(values, mask []float64) error {
	if b.filled >= b.Capacity() {
		return fmt.Errorf("%w: buffer full at %d rows", ErrOutOfRange, b.filled)
	}
	if len(values) != b.flows || len(mask) != b.flows {
		return fmt.Errorf("%w: row has %d values and %d mask entries, want %d",
			ErrInvalidShape, len(values), len(mask), b.flows)
	}
	b.values.SetRow(b.filled, values)
	b.mask.SetRow(b.filled, mask)
	b.filled++
	return nil
}

// Revise overwrites the unmeasured entries of row with corrected values.
//
// Entries whose mask is 1 are left untouched so that measured ground truth
// is never replaced by an estimate.
func (b *Buffer) Revise(row int, corrected []float64) error {
	if row < 0 || row >= b.filled {
		return fmt.Errorf("%w: row %d of %d", ErrOutOfRange, row, b.filled)
	}
	if len(corrected) != b.flows {
		return fmt.Errorf("%w: got %d values, want %d", ErrInvalidShape, len(corrected), b.flows)
	}
	for f, v := range corrected {
		if b.mask.At(row, f) == 0 {
			b.values.Set(row, f, v)
		}
	}
	return nil
}

// Values returns a copy of rows [from, to) of the traffic matrix.
func (b *Buffer) Values(from, to int) (*mat.Dense, error) {
	return b.slice(b.values, from, to)
}

// Mask returns a copy of rows [from, to) of the measurement mask.
func (b *Buffer) Mask(from, to int) (*mat.Dense, error) {
	return b.slice(b.mask, from, to)
}

// Reconstructed returns copies of the rows written after the warm-up.
//
// The returned matrices have Filled()-Step rows; after a complete run this
// equals the horizon.
func (b *Buffer) Reconstructed() (values, mask *mat.Dense, err error) {
	if b.filled == b.step {
		return nil, nil, fmt.Errorf("%w: nothing reconstructed yet", ErrOutOfRange)
	}
	values, err = b.Values(b.step, b.filled)
	if err != nil {
		return nil, nil, err
	}
	mask, err = b.Mask(b.step, b.filled)
	if err != nil {
		return nil, nil, err
	}
	return values, mask, nil
}

func (b *Buffer) slice(src *mat.Dense, from, to int) (*mat.Dense, error) {
	if from < 0 || to > b.filled || from >= to {
		return nil, fmt.Errorf("%w: rows [%d, %d) of %d", ErrOutOfRange, from, to, b.filled)
	}
	out := mat.NewDense(to-from, b.flows, nil)
	out.Copy(src.Slice(from, to, 0, b.flows))
	return out, nil
}
