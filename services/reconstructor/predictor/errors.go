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
	"errors"
	"fmt"
)

var (
	// ErrNonFinite is wrapped by every PredictionError.
	ErrNonFinite = errors.New("non-finite prediction")

	// ErrShapeMismatch indicates a forecast whose dimensions do not match the window.
	ErrShapeMismatch = errors.New("forecast shape mismatch")

	// ErrUnavailable indicates the model server could not be reached or refused the request.
	ErrUnavailable = errors.New("predictor unavailable")
)

// PredictionError reports a NaN or Inf produced by a model.
//
// It is fatal for the run that observed it. Step is -1 until the engine
// fills in the timestep.
type PredictionError struct {
	Step  int
	Head  string
	Row   int
	Flow  int
	Value float64
}

// Error implements error.
func (e *PredictionError) Error() string {
	return fmt.Sprintf("non-finite %s prediction %v at step %d (row %d, flow %d)",
		e.Head, e.Value, e.Step, e.Row, e.Flow)
}

// Unwrap returns ErrNonFinite.
func (e *PredictionError) Unwrap() error { return ErrNonFinite }
