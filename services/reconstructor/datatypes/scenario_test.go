// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
metadata:
  id: abilene-fair
dataset:
  path: data/abilene.csv
  name: abilene
`

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, DefaultMonitoringRatio, s.Reconstruction.MonitoringRatio)
	assert.Equal(t, DefaultFlowSelection, s.Reconstruction.FlowSelection)
	assert.Equal(t, DefaultWindowStep, s.Reconstruction.WindowStep)
	assert.Equal(t, 0, s.Reconstruction.IMSStep)
	assert.Equal(t, []float64{1, 1, 1, 1}, s.Reconstruction.Weights)
	assert.Equal(t, DefaultCorrection, s.Reconstruction.Correction)
	assert.Equal(t, DefaultPredictorType, s.Predictor.Type)
	assert.Equal(t, DefaultTestDays, s.Dataset.TestDays)
	assert.Equal(t, 1, s.Harness.RunTimes)
}

func TestParseScenario_Full(t *testing.T) {
	src := `
metadata:
  id: geant-weighted
  version: "2"
dataset:
  synthetic:
    flows: 16
    days: 30
    noise: 0.1
  day_points: 96
  scaler: minmax
  test_mode: random
  test_days: 2
reconstruction:
  monitoring_ratio: 0.2
  flow_selection: weighted
  window_step: 26
  ims_step: 6
  weights: [1, 1, 2, 0.5]
  correction: backward
  seed: 42
  grid: {width: 4, height: 4}
predictor:
  type: http
  url: http://localhost:12310
  timeout: 2s
  rate_limit: 50
harness:
  run_times: 10
  parallelism: 4
output:
  store_path: /tmp/runs
  influx:
    url: http://localhost:8086
    org: aleutian
    bucket: tm
    token_env: INFLUX_TOKEN
`
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, 16, s.Dataset.Synthetic.Flows)
	assert.Equal(t, []float64{1, 1, 2, 0.5}, s.Reconstruction.Weights)
	assert.Equal(t, 4, s.Reconstruction.Grid.Width)
	assert.Equal(t, "http://localhost:12310", s.Predictor.URL)
	assert.Equal(t, "tm", s.Output.Influx.Bucket)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing id", "dataset: {path: a.csv, day_points: 10}"},
		{"bad id", "metadata: {id: Bad Id}\ndataset: {path: a.csv, day_points: 10}"},
		{"ratio one", minimalScenario + "reconstruction: {monitoring_ratio: 1}"},
		{"unknown policy", minimalScenario + "reconstruction: {flow_selection: greedy}"},
		{"unknown key", minimalScenario + "extra: 1"},
		{"http without url", minimalScenario + "predictor: {type: http}"},
		{"three weights", minimalScenario + "reconstruction: {weights: [1, 1, 1]}"},
		{"no source", "metadata: {id: a}\ndataset: {day_points: 10}"},
		{"two sources", "metadata: {id: a}\ndataset: {path: a.csv, day_points: 10, synthetic: {flows: 1, days: 1}}"},
		{"no day size", "metadata: {id: a}\ndataset: {path: a.csv}"},
		{"day points cap", "metadata: {id: a}\ndataset: {path: a.csv, day_points: 100000}"},
		{"run times cap", minimalScenario + "harness: {run_times: 1001}"},
		{"test days cap", "metadata: {id: a}\ndataset: {path: a.csv, day_points: 10, test_days: 400}"},
		{"synthetic flows cap", "metadata: {id: a}\ndataset: {day_points: 10, synthetic: {flows: 100000, days: 1}}"},
		{"synthetic cells", "metadata: {id: a}\ndataset: {day_points: 1440, synthetic: {flows: 4096, days: 30}}"},
		{"preset cells", "metadata: {id: a}\ndataset: {name: abilene, synthetic: {flows: 4096, days: 366}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			assert.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o600))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "abilene-fair", s.Metadata.ID)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
