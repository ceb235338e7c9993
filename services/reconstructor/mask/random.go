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

import "math/rand"

// Random measures flows independently of their history.
type Random struct {
	rng       *rand.Rand
	bernoulli bool
}

// NewRandom returns a uniform-subset selector drawing from rng.
func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

// Select draws Quota flows uniformly without replacement. In Bernoulli mode
// each flow is measured with probability Ratio instead, and a single random
// flow is measured when the draw comes up empty.
func (r *Random) Select(in Input) ([]float64, error) {
	flows, err := validate(in)
	if err != nil {
		return nil, err
	}
	if !r.bernoulli {
		return pick(r.rng.Perm(flows), Quota(in.Ratio, flows), flows), nil
	}

	row := make([]float64, flows)
	picked := false
	for f := range row {
		if r.rng.Float64() < in.Ratio {
			row[f] = 1
			picked = true
		}
	}
	if !picked {
		row[r.rng.Intn(flows)] = 1
	}
	return row, nil
}
