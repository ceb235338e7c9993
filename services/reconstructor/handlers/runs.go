// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianTM/pkg/validation"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/engine"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/evaluator"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/harness"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
	"github.com/gin-gonic/gin"
)

// Runner executes scenarios.
type Runner interface {
	Run(ctx context.Context, sc *datatypes.Scenario) (*datatypes.RunRecord, *harness.Report, error)
}

// RunReader looks up stored runs.
type RunReader interface {
	GetRun(id string) (*datatypes.RunRecord, error)
}

// MaxRequestBytes bounds the body of POST /v1/runs and /v1/tm/predict.
const MaxRequestBytes = 32 << 20

// RunPolicy limits what a scenario posted to the server may reach.
//
// Output targets are never taken from a request: the server writes every
// run to its own store and, when configured, its own InfluxDB bucket.
type RunPolicy struct {
	// AllowPaths accepts dataset.path, which names a file on the server.
	AllowPaths bool

	// AllowRemotePredictor accepts predictor.type "http", which makes the
	// server call the URL named in the request.
	AllowRemotePredictor bool
}

// check returns the reason sc is refused, or "" when it is accepted.
func (p RunPolicy) check(sc *datatypes.Scenario) string {
	switch {
	case sc.Output.Influx != nil || sc.Output.StorePath != "":
		return "output is configured by the server; remove the output section"
	case sc.Dataset.Path != "" && !p.AllowPaths:
		return "dataset.path is disabled on this server; send dataset.data"
	case sc.Predictor.Type == "http" && !p.AllowRemotePredictor:
		return "predictor.type http is disabled on this server"
	}
	return ""
}

// HandleCreateRun runs the scenario in the request body and returns its
// summary.
//
// # Description
//
// The body is a Scenario in JSON of at most MaxRequestBytes. The dataset
// must be inline (dataset.data) or synthetic unless policy.AllowPaths is
// set, since a path names a file on the server. Scenarios carrying an
// output section are refused. The run is synchronous; the response carries
// the run_id under which the record was stored.
//
// # Responses
//
//   - 201: datatypes.RunResponse
//   - 400: malformed, oversized, invalid or refused scenario
//   - 500: run or storage failure
func HandleCreateRun(runner Runner, policy RunPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBytes)
		var sc datatypes.Scenario
		if err := c.ShouldBindJSON(&sc); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		sc.ApplyDefaults()
		if err := sc.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if reason := policy.check(&sc); reason != "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: reason})
			return
		}

		rec, _, err := runner.Run(c.Request.Context(), &sc)
		if err != nil {
			status := http.StatusInternalServerError
			if isClientError(err) {
				status = http.StatusBadRequest
			} else {
				slog.Error("run failed", "scenario", sc.Metadata.ID, "error", err)
			}
			c.JSON(status, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusCreated, datatypes.NewRunResponse(rec))
	}
}

// HandleGetRun returns the stored summary of :runId.
func HandleGetRun(store RunReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("runId")
		if err := validation.ValidateRunID(id); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		rec, err := store.GetRun(id)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "run not found"})
			return
		}
		if err != nil {
			slog.Error("get run failed", "run_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to read run"})
			return
		}
		c.JSON(http.StatusOK, datatypes.NewRunResponse(rec))
	}
}

func isClientError(err error) bool {
	return errors.Is(err, datatypes.ErrInvalidScenario) ||
		errors.Is(err, evaluator.ErrScenario) ||
		errors.Is(err, engine.ErrInvalidConfig) ||
		errors.Is(err, engine.ErrNotBidirectional) ||
		errors.Is(err, harness.ErrInvalidConfig)
}
