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

import "errors"

var (
	// ErrInsufficientRows indicates the warm-up block is shorter than the window.
	ErrInsufficientRows = errors.New("insufficient warm-up rows")

	// ErrInvalidShape indicates mismatched or non-positive dimensions.
	ErrInvalidShape = errors.New("invalid buffer shape")

	// ErrOutOfRange indicates a row index outside the written part of the buffer.
	ErrOutOfRange = errors.New("row out of range")
)
