// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the reconstructor service.
//
// This file contains the Scenario, the YAML/JSON description of one
// reconstruction experiment. For API and storage records see run.go.
package datatypes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/AleutianTM/pkg/validation"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultMonitoringRatio  = 0.30
	DefaultWindowStep       = 30
	DefaultFlowSelection    = "fairness"
	DefaultCorrection       = "fwbw"
	DefaultScaler           = "sd"
	DefaultTestMode         = "last"
	DefaultTestDays         = 5
	DefaultRunTimes         = 1
	DefaultPredictorType    = "mean-bidirectional"
	DefaultPredictorTimeout = "10s"
)

// MaxSyntheticCells bounds flows*days*day_points of a generated dataset.
const MaxSyntheticCells = 1 << 24

// presetDayPoints is the largest day size among the named datasets.
const presetDayPoints = 288

// =============================================================================
// Scenario
// =============================================================================

// Scenario describes one reconstruction experiment.
//
// # Description
//
// A Scenario is read from YAML by the CLI or bound from JSON by the
// POST /v1/runs handler. ApplyDefaults fills unset fields; Validate checks
// the result against the validate tags.
//
// # Example
//
//	metadata:
//	  id: abilene-fair-30
//	dataset:
//	  path: data/abilene.csv
//	  name: abilene
//	reconstruction:
//	  monitoring_ratio: 0.3
//	  flow_selection: fairness
//	  window_step: 30
//	  ims_step: 12
//	predictor:
//	  type: mean-bidirectional
//	harness:
//	  run_times: 10
type Scenario struct {
	Metadata       Metadata           `yaml:"metadata" json:"metadata"`
	Dataset        DatasetSpec        `yaml:"dataset" json:"dataset"`
	Reconstruction ReconstructionSpec `yaml:"reconstruction" json:"reconstruction"`
	Predictor      PredictorSpec      `yaml:"predictor" json:"predictor"`
	Harness        HarnessSpec        `yaml:"harness" json:"harness"`
	Output         OutputSpec         `yaml:"output" json:"output"`
}

// Metadata identifies a scenario.
type Metadata struct {
	ID          string `yaml:"id" json:"id" validate:"required,name"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty" validate:"max=1024"`
}

// DatasetSpec selects the traffic matrix.
//
// Exactly one of Path, Synthetic or Data must be set. DayPoints defaults to
// the preset of Name (abilene, geant) when zero.
type DatasetSpec struct {
	Path      string         `yaml:"path,omitempty" json:"path,omitempty"`
	Name      string         `yaml:"name,omitempty" json:"name,omitempty" validate:"omitempty,name"`
	DayPoints int            `yaml:"day_points,omitempty" json:"day_points,omitempty" validate:"gte=0,lte=1440"`
	Scaler    string         `yaml:"scaler,omitempty" json:"scaler,omitempty" validate:"omitempty,oneof=sd minmax none"`
	Unit      float64        `yaml:"unit,omitempty" json:"unit,omitempty" validate:"gte=0"`
	TestMode  string         `yaml:"test_mode,omitempty" json:"test_mode,omitempty" validate:"omitempty,oneof=last random"`
	TestDays  int            `yaml:"test_days,omitempty" json:"test_days,omitempty" validate:"gte=0,lte=366"`
	Synthetic *SyntheticSpec `yaml:"synthetic,omitempty" json:"synthetic,omitempty"`
	Data      [][]float64    `yaml:"-" json:"data,omitempty"`
}

// SyntheticSpec configures the generated diurnal dataset.
type SyntheticSpec struct {
	Flows int     `yaml:"flows" json:"flows" validate:"gte=1,lte=4096"`
	Days  int     `yaml:"days" json:"days" validate:"gte=1,lte=366"`
	Noise float64 `yaml:"noise" json:"noise" validate:"gte=0"`
	Seed  int64   `yaml:"seed" json:"seed"`
}

// ReconstructionSpec mirrors the engine configuration.
type ReconstructionSpec struct {
	MonitoringRatio float64   `yaml:"monitoring_ratio" json:"monitoring_ratio" validate:"ratio"`
	FlowSelection   string    `yaml:"flow_selection" json:"flow_selection" validate:"oneof=random random-iid fairness weighted"`
	WindowStep      int       `yaml:"window_step" json:"window_step" validate:"gte=1,lte=10000"`
	IMSStep         int       `yaml:"ims_step" json:"ims_step" validate:"gte=0,lte=10000"`
	Weights         []float64 `yaml:"weights,omitempty" json:"weights,omitempty" validate:"omitempty,len=4,dive,gte=0"`
	Correction      string    `yaml:"correction" json:"correction" validate:"oneof=none fwbw backward"`
	Seed            int64     `yaml:"seed,omitempty" json:"seed,omitempty"`
	Grid            *Grid     `yaml:"grid,omitempty" json:"grid,omitempty"`
}

// Grid is the optional width×height layout of the flows.
type Grid struct {
	Width  int `yaml:"width" json:"width" validate:"gte=1"`
	Height int `yaml:"height" json:"height" validate:"gte=1"`
}

// PredictorSpec selects the predictor.
//
// Types mean, last and mean-bidirectional are built in. Type http calls a
// model server speaking the /v1/tm/predict wire format at URL.
type PredictorSpec struct {
	Type          string  `yaml:"type" json:"type" validate:"oneof=mean last mean-bidirectional http"`
	URL           string  `yaml:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`
	Timeout       string  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RateLimit     float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" validate:"gte=0"`
	Burst         int     `yaml:"burst,omitempty" json:"burst,omitempty" validate:"gte=0"`
	Bidirectional bool    `yaml:"bidirectional,omitempty" json:"bidirectional,omitempty"`
}

// HarnessSpec controls repetitions.
type HarnessSpec struct {
	RunTimes    int `yaml:"run_times" json:"run_times" validate:"gte=1,lte=1000"`
	Parallelism int `yaml:"parallelism,omitempty" json:"parallelism,omitempty" validate:"gte=0,lte=64"`
}

// OutputSpec controls where results go. Both sinks are optional.
type OutputSpec struct {
	StorePath string      `yaml:"store_path,omitempty" json:"store_path,omitempty"`
	Influx    *InfluxSpec `yaml:"influx,omitempty" json:"influx,omitempty"`
}

// InfluxSpec locates the InfluxDB bucket receiving per-repetition scores.
// The token is read from the environment variable TokenEnv.
type InfluxSpec struct {
	URL      string `yaml:"url" json:"url" validate:"required,url"`
	Org      string `yaml:"org" json:"org" validate:"required"`
	Bucket   string `yaml:"bucket" json:"bucket" validate:"required"`
	TokenEnv string `yaml:"token_env,omitempty" json:"token_env,omitempty"`
}

// ErrInvalidScenario wraps every scenario parse or validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// LoadScenario reads, defaults and validates the scenario at path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes YAML, applies defaults and validates. Unknown keys
// are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyDefaults fills unset fields.
func (s *Scenario) ApplyDefaults() {
	d := &s.Dataset
	if d.Scaler == "" {
		d.Scaler = DefaultScaler
	}
	if d.TestMode == "" {
		d.TestMode = DefaultTestMode
	}
	if d.TestDays == 0 {
		d.TestDays = DefaultTestDays
	}

	r := &s.Reconstruction
	if r.MonitoringRatio == 0 {
		r.MonitoringRatio = DefaultMonitoringRatio
	}
	if r.FlowSelection == "" {
		r.FlowSelection = DefaultFlowSelection
	}
	if r.WindowStep == 0 {
		r.WindowStep = DefaultWindowStep
	}
	if r.Correction == "" {
		r.Correction = DefaultCorrection
	}
	if len(r.Weights) == 0 {
		r.Weights = []float64{1, 1, 1, 1}
	}

	if s.Predictor.Type == "" {
		s.Predictor.Type = DefaultPredictorType
	}
	if s.Predictor.Timeout == "" {
		s.Predictor.Timeout = DefaultPredictorTimeout
	}
	if s.Harness.RunTimes == 0 {
		s.Harness.RunTimes = DefaultRunTimes
	}
}

// Validate checks the validate tags plus the cross-field rules tags cannot
// express.
func (s *Scenario) Validate() error {
	if err := validation.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	sources := 0
	if s.Dataset.Path != "" {
		sources++
	}
	if s.Dataset.Synthetic != nil {
		sources++
	}
	if len(s.Dataset.Data) > 0 {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("%w: exactly one of dataset.path, dataset.synthetic or dataset.data must be set", ErrInvalidScenario)
	}
	if s.Predictor.Type == "http" && s.Predictor.URL == "" {
		return fmt.Errorf("%w: predictor.url is required for http predictors", ErrInvalidScenario)
	}
	if s.Dataset.DayPoints == 0 && s.Dataset.Name == "" {
		return fmt.Errorf("%w: dataset.day_points or a known dataset.name is required", ErrInvalidScenario)
	}
	if syn := s.Dataset.Synthetic; syn != nil {
		day := s.Dataset.DayPoints
		if day == 0 {
			day = presetDayPoints
		}
		if cells := syn.Flows * syn.Days * day; cells > MaxSyntheticCells {
			return fmt.Errorf("%w: synthetic dataset of %d cells exceeds %d", ErrInvalidScenario, cells, MaxSyntheticCells)
		}
	}
	return nil
}
