// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/correction"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/dataset"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/engine"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/harness"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/mask"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"gonum.org/v1/gonum/mat"
)

// ErrScenario wraps scenario values that pass tag validation but cannot be
// resolved.
var ErrScenario = errors.New("cannot resolve scenario")

// EngineConfig converts the reconstruction section of sc.
func EngineConfig(sc *datatypes.Scenario) (engine.Config, error) {
	r := sc.Reconstruction
	policy, err := mask.ParsePolicy(r.FlowSelection)
	if err != nil {
		return engine.Config{}, fmt.Errorf("%w: %v", ErrScenario, err)
	}
	mode, err := correction.ParseMode(r.Correction)
	if err != nil {
		return engine.Config{}, fmt.Errorf("%w: %v", ErrScenario, err)
	}
	cfg := engine.Config{
		Ratio:      r.MonitoringRatio,
		Policy:     policy,
		Step:       r.WindowStep,
		IMSStep:    r.IMSStep,
		Correction: mode,
		Seed:       r.Seed,
	}
	switch len(r.Weights) {
	case 0:
		cfg.Weights = [4]float64{1, 1, 1, 1}
	case 4:
		copy(cfg.Weights[:], r.Weights)
	default:
		return engine.Config{}, fmt.Errorf("%w: weights need 4 coefficients, got %d", ErrScenario, len(r.Weights))
	}
	if r.Grid != nil {
		cfg.Shape = engine.Shape{Width: r.Grid.Width, Height: r.Grid.Height}
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// BuildPredictor returns the predictor described by spec.
func BuildPredictor(spec datatypes.PredictorSpec) (predictor.Predictor, error) {
	if spec.Type != "http" {
		p, err := predictor.NewBaseline(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScenario, err)
		}
		return p, nil
	}
	timeout := time.Duration(0)
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: predictor timeout: %v", ErrScenario, err)
		}
		timeout = d
	}
	return predictor.NewHTTPPredictor(predictor.HTTPConfig{
		BaseURL:       spec.URL,
		Timeout:       timeout,
		RateLimit:     spec.RateLimit,
		Burst:         spec.Burst,
		Bidirectional: spec.Bidirectional,
	})
}

// LoadData reads or generates the dataset of spec and prepares its test block.
func LoadData(spec datatypes.DatasetSpec) (*dataset.Prepared, error) {
	day := spec.DayPoints
	if day == 0 {
		n, ok := dataset.DayPoints(spec.Name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown dataset %q and no day_points", ErrScenario, spec.Name)
		}
		day = n
	}

	var (
		raw *mat.Dense
		err error
	)
	switch {
	case spec.Synthetic != nil:
		raw, err = dataset.Synthetic(dataset.SyntheticConfig{
			Flows:     spec.Synthetic.Flows,
			Days:      spec.Synthetic.Days,
			DayPoints: day,
			Noise:     spec.Synthetic.Noise,
			Seed:      spec.Synthetic.Seed,
		})
	case len(spec.Data) > 0:
		raw, err = predictor.Dense(spec.Data)
	default:
		raw, err = dataset.LoadFile(spec.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return dataset.Prepare(raw, dataset.PrepareConfig{DayPoints: day, Scaler: spec.Scaler, Unit: spec.Unit})
}

// NewRecord summarizes report as a RunRecord.
func NewRecord(runID string, sc *datatypes.Scenario, created time.Time, report *harness.Report) *datatypes.RunRecord {
	rec := &datatypes.RunRecord{
		RunID:       runID,
		ScenarioID:  sc.Metadata.ID,
		Status:      datatypes.StatusCompleted,
		CreatedAt:   created,
		ElapsedMs:   report.Elapsed.Milliseconds(),
		Scenario:    *sc,
		Succeeded:   report.Succeeded,
		Failed:      report.Failed,
		Mean:        report.Mean,
		Repetitions: make([]datatypes.RepetitionRecord, 0, len(report.Outcomes)),
	}
	// Inline data is not worth keeping twice.
	rec.Scenario.Dataset.Data = nil
	if report.Succeeded == 0 {
		rec.Status = datatypes.StatusFailed
	}
	for _, o := range report.Outcomes {
		r := datatypes.RepetitionRecord{
			Repetition: o.Repetition,
			Start:      o.Start,
			Failed:     o.Failed,
			Summary:    o.Summary,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		rec.Repetitions = append(rec.Repetitions, r)
	}
	return rec
}

// RepetitionData extracts the matrices of every successful repetition.
func RepetitionData(runID string, report *harness.Report) []datatypes.RepetitionData {
	var out []datatypes.RepetitionData
	for _, o := range report.Outcomes {
		if o.Failed || o.Result == nil {
			continue
		}
		d := datatypes.RepetitionData{
			RunID:         runID,
			Repetition:    o.Repetition,
			Reconstructed: predictor.Rows(o.Result.Reconstructed),
			Mask:          predictor.Rows(o.Result.Mask),
			Truth:         predictor.Rows(o.Result.Truth),
		}
		if o.Result.IMS != nil {
			d.IMS = predictor.Rows(o.Result.IMS)
		}
		if o.Result.Shape.IsGrid() {
			d.Grid = &datatypes.Grid{Width: o.Result.Shape.Width, Height: o.Result.Shape.Height}
		}
		out = append(out, d)
	}
	return out
}
