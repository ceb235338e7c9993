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

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/correction"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/mask"
)

// Config is the immutable configuration of one Engine.
//
// # Fields
//
//   - Ratio: monitoring ratio in (0, 1)
//   - Policy: flow selection policy
//   - Step: window length, and the number of warm-up rows used
//   - IMSStep: rollout depth of the iterated multi-step rollout, 0 disables it
//   - Weights: coefficients of the weighted policy (rl_fw, rl_bw, cl, std)
//   - Correction: forward-backward correction formula, ModeNone disables it
//   - Seed: seed of the random selection policies
//   - Shape: optional grid layout; flows are cells in row-major order
type Config struct {
	Ratio      float64
	Policy     mask.Policy
	Step       int
	IMSStep    int
	Weights    [4]float64
	Correction correction.Mode
	Seed       int64
	Shape      Shape
}

// DefaultConfig returns a fairness-policy configuration without correction
// or IMS.
func DefaultConfig() Config {
	return Config{
		Ratio:      0.3,
		Policy:     mask.PolicyFairness,
		Step:       30,
		Weights:    [4]float64{1, 1, 1, 1},
		Correction: correction.ModeNone,
	}
}

// Validate reports the first configuration error, wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	if math.IsNaN(c.Ratio) || c.Ratio <= 0 || c.Ratio >= 1 {
		return fmt.Errorf("%w: monitoring ratio %v not in (0, 1)", ErrInvalidConfig, c.Ratio)
	}
	if _, err := mask.ParsePolicy(string(c.Policy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := correction.ParseMode(string(c.Correction)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Step < 1 {
		return fmt.Errorf("%w: window step %d", ErrInvalidConfig, c.Step)
	}
	if c.correcting() && c.Step < 3 {
		return fmt.Errorf("%w: correction needs a window of at least 3 rows, got %d", ErrInvalidConfig, c.Step)
	}
	if c.IMSStep < 0 {
		return fmt.Errorf("%w: ims step %d", ErrInvalidConfig, c.IMSStep)
	}
	if c.Policy == mask.PolicyWeighted {
		sum := 0.0
		for _, w := range c.Weights {
			if w < 0 || math.IsNaN(w) {
				return fmt.Errorf("%w: weighted coefficient %v", ErrInvalidConfig, w)
			}
			sum += w
		}
		if sum == 0 {
			return fmt.Errorf("%w: weighted coefficients are all zero", ErrInvalidConfig)
		}
	}
	if (c.Shape.Width == 0) != (c.Shape.Height == 0) || c.Shape.Width < 0 || c.Shape.Height < 0 {
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidConfig, c.Shape.Width, c.Shape.Height)
	}
	return nil
}

func (c Config) correcting() bool {
	return c.Correction != "" && c.Correction != correction.ModeNone
}

// needsHeads reports whether the configuration consumes forward and
// backward heads.
func (c Config) needsHeads() bool {
	return c.correcting() || c.Policy == mask.PolicyWeighted
}

// Shape lays flows out on a Width×Height grid. The zero Shape means flows
// are a flat vector.
type Shape struct {
	Width  int
	Height int
}

// IsGrid reports whether s describes a grid.
func (s Shape) IsGrid() bool { return s.Width > 0 && s.Height > 0 }

// Flows returns the number of cells.
func (s Shape) Flows() int { return s.Width * s.Height }

// Cell returns the (x, y) grid position of flow.
func (s Shape) Cell(flow int) (x, y int) {
	return flow % s.Width, flow / s.Width
}

// Index returns the flow index of cell (x, y).
func (s Shape) Index(x, y int) int {
	return y*s.Width + x
}
