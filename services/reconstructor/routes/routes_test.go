// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/harness"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, *datatypes.Scenario) (*datatypes.RunRecord, *harness.Report, error) {
	return &datatypes.RunRecord{}, &harness.Report{}, nil
}

type nopStore struct{}

func (nopStore) GetRun(string) (*datatypes.RunRecord, error) { return &datatypes.RunRecord{}, nil }

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

func TestSetupRoutes_RegistersEndpoints(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{Runner: nopRunner{}, Store: nopStore{}, Gatherer: prometheus.NewRegistry()})

	for _, r := range []struct{ method, path string }{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/tm/predict"},
		{"POST", "/v1/runs"},
		{"GET", "/v1/runs/:runId"},
	} {
		assert.True(t, hasRoute(router, r.method, r.path), "%s %s not registered", r.method, r.path)
	}
}

func TestSetupRoutes_WithoutStore(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{Runner: nopRunner{}})
	assert.False(t, hasRoute(router, "GET", "/v1/runs/:runId"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "sample_total", Help: "sample"})
	reg.MustRegister(c)
	c.Inc()

	router := gin.New()
	SetupRoutes(router, Deps{Runner: nopRunner{}, Gatherer: reg})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sample_total 1")
}
