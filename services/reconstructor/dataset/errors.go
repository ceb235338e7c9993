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

import "errors"

var (
	// ErrEmpty indicates a dataset with no rows or no flows.
	ErrEmpty = errors.New("empty dataset")

	// ErrMalformed indicates a CSV record that cannot be parsed.
	ErrMalformed = errors.New("malformed dataset")

	// ErrTooShort indicates too few rows for the requested split or test window.
	ErrTooShort = errors.New("dataset too short")

	// ErrUnknownScaler indicates an unsupported scaler name.
	ErrUnknownScaler = errors.New("unknown scaler")

	// ErrUnknownMode indicates an unsupported test-window mode.
	ErrUnknownMode = errors.New("unknown test window mode")

	// ErrNotFitted indicates Transform or Inverse was called before Fit.
	ErrNotFitted = errors.New("scaler not fitted")
)
