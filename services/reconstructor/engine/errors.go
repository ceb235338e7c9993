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

import "errors"

var (
	// ErrInvalidConfig wraps every Config.Validate failure.
	ErrInvalidConfig = errors.New("invalid reconstruction config")

	// ErrInsufficientWarmup indicates fewer warm-up rows than the window step.
	ErrInsufficientWarmup = errors.New("insufficient warm-up data")

	// ErrShapeMismatch indicates warm-up, ground truth and grid disagree on the flow count.
	ErrShapeMismatch = errors.New("flow count mismatch")

	// ErrNotBidirectional indicates a configuration that needs forward and
	// backward heads paired with a predictor that has none.
	ErrNotBidirectional = errors.New("predictor has no forward/backward heads")

	// ErrEmptyHorizon indicates ground truth without rows.
	ErrEmptyHorizon = errors.New("empty test horizon")
)
