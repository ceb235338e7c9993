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
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/metrics"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is the persisted summary of one harness run.
//
// # Fields
//
//   - RunID: UUID assigned when the run started
//   - ScenarioID: Metadata.ID of the scenario
//   - Status: StatusCompleted when at least one repetition succeeded
//   - Scenario: the defaulted scenario the run used
//   - Mean: averages over successful repetitions
//   - Repetitions: one entry per repetition, failures included
type RunRecord struct {
	RunID       string             `json:"run_id"`
	ScenarioID  string             `json:"scenario_id"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	ElapsedMs   int64              `json:"elapsed_ms"`
	Scenario    Scenario           `json:"scenario"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Mean        metrics.Summary    `json:"mean"`
	Repetitions []RepetitionRecord `json:"repetitions"`
}

// RepetitionRecord is the outcome of one repetition.
type RepetitionRecord struct {
	Repetition int             `json:"repetition"`
	Start      int             `json:"start"`
	Failed     bool            `json:"failed"`
	Error      string          `json:"error,omitempty"`
	Summary    metrics.Summary `json:"summary"`
	DurationMs int64           `json:"duration_ms"`
}

// RepetitionData holds the matrices of one successful repetition, in
// traffic units. Rows are timesteps, columns flows.
type RepetitionData struct {
	RunID         string      `json:"run_id"`
	Repetition    int         `json:"repetition"`
	Reconstructed [][]float64 `json:"reconstructed"`
	Mask          [][]float64 `json:"mask"`
	Truth         [][]float64 `json:"truth"`
	IMS           [][]float64 `json:"ims,omitempty"`
	Grid          *Grid       `json:"grid,omitempty"`
}

// =============================================================================
// API types
// =============================================================================

// RunResponse is returned by POST /v1/runs and GET /v1/runs/:runId.
type RunResponse struct {
	RunID      string          `json:"run_id"`
	ScenarioID string          `json:"scenario_id"`
	Status     string          `json:"status"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Mean       metrics.Summary `json:"mean"`
	ElapsedMs  int64           `json:"elapsed_ms"`
}

// NewRunResponse summarizes rec for the API.
func NewRunResponse(rec *RunRecord) RunResponse {
	return RunResponse{
		RunID:      rec.RunID,
		ScenarioID: rec.ScenarioID,
		Status:     rec.Status,
		Succeeded:  rec.Succeeded,
		Failed:     rec.Failed,
		Mean:       rec.Mean,
		ElapsedMs:  rec.ElapsedMs,
	}
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
