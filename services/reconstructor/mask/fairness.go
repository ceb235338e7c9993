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
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Fairness measures the flows that have gone unmeasured the longest.
type Fairness struct{}

// Select ranks flows by 1/ConsecutiveLoss ascending and measures the
// first Quota of them. Ties keep flow order.
func (Fairness) Select(in Input) ([]float64, error) {
	flows, err := validate(in)
	if err != nil {
		return nil, err
	}
	cl := ConsecutiveLoss(in.History)
	weights := make([]float64, flows)
	for f, c := range cl {
		weights[f] = 1 / nonZero(c)
	}
	return pick(ascending(weights), Quota(in.Ratio, flows), flows), nil
}

// ConsecutiveLoss returns, per flow, the number of rows since it was last
// measured in history: 1 when measured in the last row, rows-lastIndex
// otherwise, and rows when never measured.
func ConsecutiveLoss(history mat.Matrix) []float64 {
	rows, flows := history.Dims()
	out := make([]float64, flows)
	for f := 0; f < flows; f++ {
		last := -1
		for i := rows - 1; i >= 0; i-- {
			if history.At(i, f) == 1 {
				last = i
				break
			}
		}
		switch {
		case last == rows-1:
			out[f] = 1
		case last < 0:
			out[f] = float64(rows)
		default:
			out[f] = float64(rows - last)
		}
	}
	return out
}

// ascending returns the indices of w sorted by value, stable on ties.
func ascending(w []float64) []int {
	idx := make([]int, len(w))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return w[idx[a]] < w[idx[b]] })
	return idx
}

func nonZero(v float64) float64 {
	if v == 0 {
		return Epsilon
	}
	return v
}
