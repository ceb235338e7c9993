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
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SyntheticConfig describes a generated diurnal traffic matrix.
type SyntheticConfig struct {
	Flows     int
	Days      int
	DayPoints int
	// Noise is the standard deviation of the multiplicative noise.
	Noise float64
	Seed  int64
}

// Synthetic generates Days*DayPoints rows of diurnal traffic. Every flow
// follows base*(1 + 0.5*sin(2πt/day + phase)) with its own base and phase
// plus Gaussian noise. Values are clipped at zero.
func Synthetic(cfg SyntheticConfig) (*mat.Dense, error) {
	if cfg.Flows <= 0 || cfg.Days <= 0 || cfg.DayPoints <= 0 || cfg.Noise < 0 {
		return nil, fmt.Errorf("%w: %+v", ErrMalformed, cfg)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	base := make([]float64, cfg.Flows)
	phase := make([]float64, cfg.Flows)
	for f := range base {
		base[f] = 1 + 9*rng.Float64()
		phase[f] = 2 * math.Pi * rng.Float64()
	}

	rows := cfg.Days * cfg.DayPoints
	out := mat.NewDense(rows, cfg.Flows, nil)
	for t := 0; t < rows; t++ {
		angle := 2 * math.Pi * float64(t%cfg.DayPoints) / float64(cfg.DayPoints)
		for f := 0; f < cfg.Flows; f++ {
			v := base[f] * (1 + 0.5*math.Sin(angle+phase[f]) + cfg.Noise*rng.NormFloat64())
			out.Set(t, f, math.Max(v, 0))
		}
	}
	return out, nil
}
