// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconstructor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	return newTestServiceWith(t, Config{})
}

func newTestServiceWith(t *testing.T, cfg Config) Service {
	t.Helper()
	tel := observability.TelemetryConfig{
		ServiceName:    "reconstructor-test",
		TraceExporter:  observability.ExporterNone,
		MetricExporter: observability.ExporterNone,
	}
	cfg.GinMode = gin.TestMode
	cfg.Telemetry = &tel
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, 12310, cfg.Port)
	assert.Equal(t, "mean", cfg.PredictModel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.NotNil(t, cfg.Telemetry)
	assert.Equal(t, "reconstructor-service", cfg.Telemetry.ServiceName)
	assert.NotNil(t, cfg.Logger)

	kept := applyConfigDefaults(Config{Port: 9000, PredictModel: "last"})
	assert.Equal(t, 9000, kept.Port)
	assert.Equal(t, "last", kept.PredictModel)
}

func TestService_HealthAndMetrics(t *testing.T) {
	router := newTestService(t).Router()

	w := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

// TestService_RunLifecycle posts a synthetic scenario and reads it back.
func TestService_RunLifecycle(t *testing.T) {
	router := newTestService(t).Router()

	sc := datatypes.Scenario{
		Metadata: datatypes.Metadata{ID: "server-fairness"},
		Dataset: datatypes.DatasetSpec{
			DayPoints: 12,
			TestDays:  1,
			Synthetic: &datatypes.SyntheticSpec{Flows: 4, Days: 20, Noise: 0.05, Seed: 3},
		},
		Reconstruction: datatypes.ReconstructionSpec{
			MonitoringRatio: 0.5,
			FlowSelection:   "fairness",
			WindowStep:      4,
			Correction:      "none",
		},
		Predictor: datatypes.PredictorSpec{Type: "mean"},
		Harness:   datatypes.HarnessSpec{RunTimes: 1},
	}

	w := do(t, router, http.MethodPost, "/v1/runs", sc)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created datatypes.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "server-fairness", created.ScenarioID)
	assert.Equal(t, datatypes.StatusCompleted, created.Status)
	assert.Equal(t, 1, created.Succeeded)

	w = do(t, router, http.MethodGet, "/v1/runs/"+created.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched datatypes.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, created.RunID, fetched.RunID)

	w = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Contains(t, w.Body.String(), "tm_")
}

func TestService_RejectsServerPaths(t *testing.T) {
	router := newTestService(t).Router()
	sc := datatypes.Scenario{
		Metadata:       datatypes.Metadata{ID: "paths"},
		Dataset:        datatypes.DatasetSpec{Path: "/etc/passwd", DayPoints: 12},
		Reconstruction: datatypes.ReconstructionSpec{MonitoringRatio: 0.5},
	}
	w := do(t, router, http.MethodPost, "/v1/runs", sc)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// influxCollector records the write requests an InfluxDB sink sends.
type influxCollector struct {
	mu    sync.Mutex
	auth  []string
	lines int
}

func newInfluxCollector(t *testing.T) (*influxCollector, string) {
	t.Helper()
	c := &influxCollector{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.lines += strings.Count(strings.TrimSpace(string(body)), "\n") + 1
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return c, srv.URL
}

func (c *influxCollector) snapshot() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.auth...), c.lines
}

func smallSynthetic(id string) datatypes.Scenario {
	return datatypes.Scenario{
		Metadata: datatypes.Metadata{ID: id},
		Dataset: datatypes.DatasetSpec{
			DayPoints: 12,
			TestDays:  1,
			Synthetic: &datatypes.SyntheticSpec{Flows: 3, Days: 20, Seed: 1},
		},
		Reconstruction: datatypes.ReconstructionSpec{MonitoringRatio: 0.5, WindowStep: 4, Correction: "none"},
		Predictor:      datatypes.PredictorSpec{Type: "mean"},
	}
}

// TestService_IgnoresRequestInfluxTarget checks that a posted scenario
// cannot make the server send an environment value to a URL it names.
func TestService_IgnoresRequestInfluxTarget(t *testing.T) {
	t.Setenv("RECONSTRUCTOR_TEST_SECRET", "s3cret")
	collector, url := newInfluxCollector(t)
	router := newTestServiceWith(t, Config{AllowRemotePredictor: true}).Router()

	sc := smallSynthetic("exfil")
	sc.Output.Influx = &datatypes.InfluxSpec{URL: url, Org: "o", Bucket: "b", TokenEnv: "RECONSTRUCTOR_TEST_SECRET"}
	w := do(t, router, http.MethodPost, "/v1/runs", sc)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	auth, _ := collector.snapshot()
	assert.Empty(t, auth, "no request may reach the named target")
}

func TestService_RejectsRemotePredictorByDefault(t *testing.T) {
	hit := false
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer model.Close()
	router := newTestService(t).Router()

	sc := smallSynthetic("remote")
	sc.Predictor = datatypes.PredictorSpec{Type: "http", URL: model.URL}
	w := do(t, router, http.MethodPost, "/v1/runs", sc)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, hit)
}

func TestService_WritesToConfiguredInflux(t *testing.T) {
	collector, url := newInfluxCollector(t)
	router := newTestServiceWith(t, Config{
		Influx: &storage.InfluxConfig{URL: url, Token: "server-token", Org: "o", Bucket: "b"},
	}).Router()

	sc := smallSynthetic("server-influx")
	sc.Harness.RunTimes = 2
	w := do(t, router, http.MethodPost, "/v1/runs", sc)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	auth, lines := collector.snapshot()
	require.NotEmpty(t, auth)
	for _, a := range auth {
		assert.Equal(t, "Token server-token", a)
	}
	assert.Equal(t, 2, lines, "one point per repetition")
}

func TestService_RunStopsOnCancel(t *testing.T) {
	tel := observability.TelemetryConfig{
		ServiceName:    "reconstructor-test",
		TraceExporter:  observability.ExporterNone,
		MetricExporter: observability.ExporterNone,
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	svc, err := New(Config{Port: port, GinMode: gin.TestMode, Telemetry: &tel})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.NoError(t, svc.Close(), "Close after Run must be a no-op")
}
