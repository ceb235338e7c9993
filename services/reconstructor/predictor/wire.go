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
	"fmt"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"gonum.org/v1/gonum/mat"
)

// PredictRequest is the JSON body sent to a model server.
//
// Matrices are row-major, one inner slice per window row.
type PredictRequest struct {
	Values        [][]float64 `json:"values" binding:"required"`
	Mask          [][]float64 `json:"mask" binding:"required"`
	LocalRatio    [][]float64 `json:"local_ratio,omitempty"`
	Bidirectional bool        `json:"bidirectional,omitempty"`
}

// PredictResponse is the JSON body returned by a model server.
type PredictResponse struct {
	Next     []float64   `json:"next"`
	Forward  [][]float64 `json:"forward,omitempty"`
	Backward [][]float64 `json:"backward,omitempty"`
}

// EncodeWindow converts w into its wire form.
func EncodeWindow(w window.Window, bidirectional bool) PredictRequest {
	return PredictRequest{
		Values:        Rows(w.Values),
		Mask:          Rows(w.Mask),
		LocalRatio:    Rows(w.LocalRatio),
		Bidirectional: bidirectional,
	}
}

// Window rebuilds a window from its wire form.
func (r PredictRequest) Window() (window.Window, error) {
	values, err := Dense(r.Values)
	if err != nil {
		return window.Window{}, fmt.Errorf("values: %w", err)
	}
	mask, err := Dense(r.Mask)
	if err != nil {
		return window.Window{}, fmt.Errorf("mask: %w", err)
	}
	vr, vc := values.Dims()
	mr, mc := mask.Dims()
	if vr != mr || vc != mc {
		return window.Window{}, fmt.Errorf("%w: values %dx%d, mask %dx%d", ErrShapeMismatch, vr, vc, mr, mc)
	}
	w := window.Window{Values: values, Mask: mask}
	if len(r.LocalRatio) > 0 {
		if w.LocalRatio, err = Dense(r.LocalRatio); err != nil {
			return window.Window{}, fmt.Errorf("local_ratio: %w", err)
		}
	}
	return w, nil
}

// EncodeForecast converts fc into its wire form.
func EncodeForecast(fc Forecast) PredictResponse {
	return PredictResponse{
		Next:     fc.Next,
		Forward:  Rows(fc.Forward),
		Backward: Rows(fc.Backward),
	}
}

// Forecast rebuilds a forecast from its wire form.
func (r PredictResponse) Forecast() (Forecast, error) {
	fc := Forecast{Next: r.Next}
	var err error
	if len(r.Forward) > 0 {
		if fc.Forward, err = Dense(r.Forward); err != nil {
			return Forecast{}, fmt.Errorf("forward: %w", err)
		}
	}
	if len(r.Backward) > 0 {
		if fc.Backward, err = Dense(r.Backward); err != nil {
			return Forecast{}, fmt.Errorf("backward: %w", err)
		}
	}
	return fc, nil
}

// Rows copies m into a slice of rows. A nil matrix yields nil.
func Rows(m *mat.Dense) [][]float64 {
	if m == nil {
		return nil
	}
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

// Dense builds a matrix from equally long rows.
func Dense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrShapeMismatch)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}
