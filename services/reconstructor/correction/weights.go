// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package correction

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LossEpsilon stands in for every loss when no head has a nonzero error.
const LossEpsilon = 1e-7

// Weights are the per-row, per-flow confidence factors of one window.
//
// Rows 0 and Step-1 are filled for completeness but only rows 1..Step-2
// are used by Apply.
type Weights struct {
	Alpha *mat.Dense
	Beta  *mat.Dense
	Gamma *mat.Dense
}

// Losses returns the per-flow error ratio of each head on measured entries.
//
// # Description
//
// The forward head is scored on pairs (values[j+1], forward[j]) and the
// backward head on pairs (values[j], backward[j+1]), in both cases only
// where the target row is measured. The error ratio is
// sqrt(sum((y-yhat)^2)) / sqrt(sum(y^2)); a flow with no measured targets
// or an all-zero target scores 0.
//
// Zero losses are then replaced by the largest loss of the same head so
// that a flow never looks perfectly reconstructed by accident. When every
// loss of a head is zero all of them become LossEpsilon.
func Losses(values, mask, forward, backward mat.Matrix) (rlFw, rlBw []float64) {
	step, flows := values.Dims()
	rlFw = make([]float64, flows)
	rlBw = make([]float64, flows)
	for f := 0; f < flows; f++ {
		var fwErr, fwNorm, bwErr, bwNorm float64
		for j := 0; j < step-1; j++ {
			if mask.At(j+1, f) == 1 {
				y := values.At(j+1, f)
				d := y - forward.At(j, f)
				fwErr += d * d
				fwNorm += y * y
			}
			if mask.At(j, f) == 1 {
				y := values.At(j, f)
				d := y - backward.At(j+1, f)
				bwErr += d * d
				bwNorm += y * y
			}
		}
		rlFw[f] = ratio(fwErr, fwNorm)
		rlBw[f] = ratio(bwErr, bwNorm)
	}
	fillZeros(rlFw)
	fillZeros(rlBw)
	return rlFw, rlBw
}

// ComputeWeights derives alpha, beta and gamma from the window mask and the
// head losses.
//
// # Description
//
// Per flow, with eta the measured fraction of the whole window:
//
//	alpha   = 1 - eta
//	mu_j    = measured(0..j) / (j+1)
//	rho_j   = measured(j..Step-1) / (Step-j)
//	beta_j  = (rlBw + mu_j)  * (1-alpha) / (rlFw + rlBw + mu_j + rho_j)
//	gamma_j = (rlFw + rho_j) * (1-alpha) / (rlFw + rlBw + mu_j + rho_j)
//
// so alpha+beta+gamma == 1. Losses must be positive, as returned by Losses.
func ComputeWeights(mask mat.Matrix, rlFw, rlBw []float64) Weights {
	step, flows := mask.Dims()
	w := Weights{
		Alpha: mat.NewDense(step, flows, nil),
		Beta:  mat.NewDense(step, flows, nil),
		Gamma: mat.NewDense(step, flows, nil),
	}
	col := make([]float64, step)
	prefix := make([]float64, step)
	for f := 0; f < flows; f++ {
		mat.Col(col, f, mask)
		floats.CumSum(prefix, col)
		total := prefix[step-1]
		alpha := 1 - total/float64(step)

		for j := 0; j < step; j++ {
			mu := prefix[j] / float64(j+1)
			before := 0.0
			if j > 0 {
				before = prefix[j-1]
			}
			rho := (total - before) / float64(step-j)
			denom := rlFw[f] + rlBw[f] + mu + rho

			w.Alpha.Set(j, f, alpha)
			w.Beta.Set(j, f, (rlBw[f]+mu)*(1-alpha)/denom)
			w.Gamma.Set(j, f, (rlFw[f]+rho)*(1-alpha)/denom)
		}
	}
	return w
}

// backwardWeights returns (alpha, gamma) of the experimental backward-only
// blend: gamma_j = d_j * sum_k (m_{j+k}/n)^(k+1) over the n = Step-j rows
// from j onwards, with d_j their measured fraction, and alpha = 1-gamma.
func backwardWeights(mask mat.Matrix) (alpha, gamma *mat.Dense) {
	step, flows := mask.Dims()
	alpha = mat.NewDense(step, flows, nil)
	gamma = mat.NewDense(step, flows, nil)
	for f := 0; f < flows; f++ {
		for j := 0; j < step; j++ {
			n := float64(step - j)
			count, series := 0.0, 0.0
			for k := 0; j+k < step; k++ {
				m := mask.At(j+k, f)
				count += m
				series += math.Pow(m/n, float64(k+1))
			}
			g := count / n * series
			gamma.Set(j, f, g)
			alpha.Set(j, f, 1-g)
		}
	}
	return alpha, gamma
}

func ratio(errSq, normSq float64) float64 {
	if normSq == 0 {
		return 0
	}
	return math.Sqrt(errSq) / math.Sqrt(normSq)
}

func fillZeros(x []float64) {
	hi := floats.Max(x)
	if hi == 0 {
		hi = LossEpsilon
	}
	for i, v := range x {
		if v == 0 {
			x[i] = hi
		}
	}
}
