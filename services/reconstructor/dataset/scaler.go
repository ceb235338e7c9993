// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scaler names accepted by NewScaler.
const (
	ScalerStandard = "sd"
	ScalerMinMax   = "minmax"
	ScalerNone     = "none"
)

// Scaler is a per-flow affine transform fitted on training data.
//
// Fit must be called before Transform or Inverse. Both return new matrices.
type Scaler interface {
	Fit(m mat.Matrix) error
	Transform(m mat.Matrix) (*mat.Dense, error)
	Inverse(m mat.Matrix) (*mat.Dense, error)
}

// NewScaler returns the scaler registered under name. The empty name
// selects the standard scaler.
func NewScaler(name string) (Scaler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ScalerStandard:
		return &StandardScaler{}, nil
	case ScalerMinMax:
		return &MinMaxScaler{}, nil
	case ScalerNone:
		return &affine{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScaler, name)
}

// affine holds x' = (x - shift) / scale per column. The zero value with
// nil slices is the identity.
type affine struct {
	shift  []float64
	scale  []float64
	fitted bool
}

func (a *affine) Fit(m mat.Matrix) error {
	_, cols := m.Dims()
	a.shift = make([]float64, cols)
	a.scale = make([]float64, cols)
	floats.AddConst(1, a.scale)
	a.fitted = true
	return nil
}

func (a *affine) Transform(m mat.Matrix) (*mat.Dense, error) {
	return a.apply(m, func(x, shift, scale float64) float64 { return (x - shift) / scale })
}

func (a *affine) Inverse(m mat.Matrix) (*mat.Dense, error) {
	return a.apply(m, func(x, shift, scale float64) float64 { return x*scale + shift })
}

func (a *affine) apply(m mat.Matrix, fn func(x, shift, scale float64) float64) (*mat.Dense, error) {
	if !a.fitted {
		return nil, ErrNotFitted
	}
	rows, cols := m.Dims()
	if cols != len(a.shift) {
		return nil, fmt.Errorf("%w: fitted on %d flows, got %d", ErrMalformed, len(a.shift), cols)
	}
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, j int, v float64) float64 { return fn(v, a.shift[j], a.scale[j]) }, m)
	return out, nil
}

// StandardScaler centers each flow on its mean and divides by its
// population standard deviation. Constant flows get a unit scale.
type StandardScaler struct {
	affine
}

// Fit computes per-flow mean and standard deviation.
func (s *StandardScaler) Fit(m mat.Matrix) error {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return ErrEmpty
	}
	s.shift = make([]float64, cols)
	s.scale = make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.shift[j], s.scale[j] = mean, std
	}
	s.fitted = true
	return nil
}

// MinMaxScaler maps each flow onto [0, 1] using its training range.
// Constant flows get a unit scale.
type MinMaxScaler struct {
	affine
}

// Fit computes per-flow minimum and range.
func (s *MinMaxScaler) Fit(m mat.Matrix) error {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return ErrEmpty
	}
	s.shift = make([]float64, cols)
	s.scale = make([]float64, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		lo, hi := floats.Min(col), floats.Max(col)
		span := hi - lo
		if span == 0 {
			span = 1
		}
		s.shift[j], s.scale[j] = lo, span
	}
	s.fitted = true
	return nil
}
