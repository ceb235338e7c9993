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
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Test window modes.
const (
	ModeLast   = "last"
	ModeRandom = "random"
)

// tailMargin is the number of trailing test rows never used by a test window.
const tailMargin = 10

var dayPoints = map[string]int{
	"abilene": 288,
	"geant":   96,
}

// DayPoints returns the number of timesteps per day of a known dataset.
func DayPoints(name string) (int, bool) {
	n, ok := dayPoints[strings.ToLower(name)]
	return n, ok
}

// Split divides data into whole-day train, validation and test blocks
// holding 60%, 20% and the remaining days.
func Split(data mat.Matrix, day int) (train, valid, test *mat.Dense, err error) {
	rows, cols := data.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil, nil, ErrEmpty
	}
	if day <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: day_points=%d", ErrMalformed, day)
	}
	days := float64(rows) / float64(day)
	trainEnd := int(days*0.6) * day
	validEnd := trainEnd + int(days*0.2)*day
	if trainEnd == 0 || validEnd >= rows {
		return nil, nil, nil, fmt.Errorf("%w: %d rows is %.1f days", ErrTooShort, rows, days)
	}
	return rowsOf(data, 0, trainEnd), rowsOf(data, trainEnd, validEnd), rowsOf(data, validEnd, rows), nil
}

// PrepareConfig controls Prepare.
//
//   - DayPoints: timesteps per day
//   - Scaler: scaler name for NewScaler
//   - Unit: divisor applied to raw values before scaling; 0 means 1
type PrepareConfig struct {
	DayPoints int
	Scaler    string
	Unit      float64
}

// Prepared is the test block of a dataset in raw and normalized form.
type Prepared struct {
	TestRaw   *mat.Dense
	TestNorm  *mat.Dense
	Scaler    Scaler
	DayPoints int
}

// Prepare clips negative traffic to zero, applies the unit divisor, splits
// the data and normalizes the test block with a scaler fitted on the
// training block.
func Prepare(data mat.Matrix, cfg PrepareConfig) (*Prepared, error) {
	clean := mat.DenseCopyOf(data)
	unit := cfg.Unit
	if unit == 0 {
		unit = 1
	}
	clean.Apply(func(_, _ int, v float64) float64 {
		if v <= 0 {
			return 0
		}
		return v / unit
	}, clean)

	train, _, test, err := Split(clean, cfg.DayPoints)
	if err != nil {
		return nil, err
	}
	scaler, err := NewScaler(cfg.Scaler)
	if err != nil {
		return nil, err
	}
	if err := scaler.Fit(train); err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	norm, err := scaler.Transform(test)
	if err != nil {
		return nil, err
	}
	return &Prepared{TestRaw: test, TestNorm: norm, Scaler: scaler, DayPoints: cfg.DayPoints}, nil
}

// Sample is one test window.
//
//   - Start: test row of Truth row 0
//   - Init: the step normalized rows preceding Start
//   - Truth, TruthRaw: the horizon rows from Start, normalized and raw
type Sample struct {
	Start    int
	Init     *mat.Dense
	Truth    *mat.Dense
	TruthRaw *mat.Dense
}

// TestWindow cuts a warm-up block and a horizon of days*DayPoints rows out
// of the test block.
//
// ModeLast ends the horizon ten rows before the end of the test block.
// ModeRandom draws the start uniformly from every position that leaves
// room for the warm-up block and the same ten-row margin; rng is required.
func (p *Prepared) TestWindow(step, days int, mode string, rng *rand.Rand) (Sample, error) {
	rows, _ := p.TestNorm.Dims()
	horizon := days * p.DayPoints
	if step <= 0 || horizon <= 0 {
		return Sample{}, fmt.Errorf("%w: step=%d horizon=%d", ErrMalformed, step, horizon)
	}
	last := rows - horizon - tailMargin
	if last < step {
		return Sample{}, fmt.Errorf("%w: %d test rows cannot hold %d warm-up and %d horizon rows",
			ErrTooShort, rows, step, horizon)
	}

	var idx int
	switch strings.ToLower(mode) {
	case "", ModeLast:
		idx = last
	case ModeRandom:
		if rng == nil {
			return Sample{}, fmt.Errorf("%w: random mode needs a random source", ErrUnknownMode)
		}
		idx = step + rng.Intn(last-step+1)
	default:
		return Sample{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	return Sample{
		Start:    idx,
		Init:     rowsOf(p.TestNorm, idx-step, idx),
		Truth:    rowsOf(p.TestNorm, idx, idx+horizon),
		TruthRaw: rowsOf(p.TestRaw, idx, idx+horizon),
	}, nil
}

func rowsOf(m mat.Matrix, from, to int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(to-from, cols, nil)
	for i := from; i < to; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i-from, j, m.At(i, j))
		}
	}
	return out
}
