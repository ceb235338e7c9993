// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mask chooses which flows are measured at each timestep.
//
// # Description
//
// A Selector receives the recent measurement history of every flow and
// returns a 0/1 row with Quota(ratio, flows) ones. Three policies exist:
//
//   - random: uniform subset of exactly Quota flows, history ignored
//   - fairness: flows measured longest ago first
//   - weighted: fairness blended with forward/backward reconstruction
//     loss and value dispersion
//
// random-iid keeps the per-flow Bernoulli draw for experiments; its
// cardinality only matches the quota in expectation.
//
// # Thread Safety
//
// Fairness and Weighted selectors are stateless. Random selectors own a
// *rand.Rand and must not be shared between goroutines.
package mask

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Policy names a flow selection policy.
type Policy string

const (
	PolicyRandom    Policy = "random"
	PolicyBernoulli Policy = "random-iid"
	PolicyFairness  Policy = "fairness"
	PolicyWeighted  Policy = "weighted"
)

// Epsilon replaces zero consecutive losses and is the lower bound of
// min-max scaled weighted terms.
const Epsilon = 1e-4

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyRandom, PolicyBernoulli, PolicyFairness, PolicyWeighted:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Input is everything a Selector may look at.
//
// # Fields
//
//   - History: Step×Flows 0/1 mask of the current window
//   - Values: Step×Flows traffic values of the current window (weighted only)
//   - ForwardLoss, BackwardLoss: per-flow reconstruction losses (weighted only)
//   - Ratio: monitoring ratio in (0, 1)
type Input struct {
	History      *mat.Dense
	Values       *mat.Dense
	ForwardLoss  []float64
	BackwardLoss []float64
	Ratio        float64
}

// Selector produces the measurement row for the next timestep.
type Selector interface {
	Select(in Input) ([]float64, error)
}

// Quota returns the number of flows to measure: round(ratio*flows),
// at least one when flows > 0 and never more than flows.
func Quota(ratio float64, flows int) int {
	if flows <= 0 {
		return 0
	}
	m := int(math.Round(ratio * float64(flows)))
	if m < 1 {
		m = 1
	}
	if m > flows {
		m = flows
	}
	return m
}

// New returns the Selector for policy. rng is used by the random policies
// and may be nil for the others.
func New(policy Policy, weights [4]float64, rng *rand.Rand) (Selector, error) {
	switch policy {
	case PolicyRandom, PolicyBernoulli:
		if rng == nil {
			return nil, fmt.Errorf("%w: %s policy needs a random source", ErrInvalidInput, policy)
		}
		return &Random{rng: rng, bernoulli: policy == PolicyBernoulli}, nil
	case PolicyFairness:
		return Fairness{}, nil
	case PolicyWeighted:
		return Weighted{Coefficients: weights}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
}

func validate(in Input) (flows int, err error) {
	if in.Ratio <= 0 || in.Ratio >= 1 || math.IsNaN(in.Ratio) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRatio, in.Ratio)
	}
	if in.History == nil {
		return 0, fmt.Errorf("%w: nil history", ErrInvalidInput)
	}
	rows, flows := in.History.Dims()
	if rows == 0 || flows == 0 {
		return 0, fmt.Errorf("%w: empty history", ErrInvalidInput)
	}
	return flows, nil
}

// pick returns a 0/1 row with ones at the first m indices of order.
func pick(order []int, m, flows int) []float64 {
	row := make([]float64, flows)
	for _, idx := range order[:m] {
		row[idx] = 1
	}
	return row
}
