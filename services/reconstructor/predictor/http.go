// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// PredictPath is the model server endpoint used by HTTPPredictor.
const PredictPath = "/v1/tm/predict"

var (
	tracer = otel.Tracer("aleutian.tm.predictor")
	meter  = otel.Meter("aleutian.tm.predictor")

	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter
	metricsOnce    sync.Once
	metricsErr     error
)

// HTTPConfig configures an HTTPPredictor.
//
// # Fields
//
//   - BaseURL: model server root, e.g. "http://localhost:12310"
//   - Timeout: per-request timeout. Default: 10s
//   - RateLimit: maximum requests per second, 0 for unlimited
//   - Burst: limiter burst size. Default: 1
//   - Bidirectional: ask the server for forward and backward heads
type HTTPConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RateLimit     float64
	Burst         int
	Bidirectional bool
}

// HTTPPredictor calls a remote model server for every window.
type HTTPPredictor struct {
	endpoint      string
	client        *http.Client
	limiter       *rate.Limiter
	bidirectional bool
}

// NewHTTPPredictor builds a predictor for the server at cfg.BaseURL.
func NewHTTPPredictor(cfg HTTPConfig) (*HTTPPredictor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: empty base URL", ErrUnavailable)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &HTTPPredictor{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + PredictPath,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:       rate.NewLimiter(limit, cfg.Burst),
		bidirectional: cfg.Bidirectional,
	}, nil
}

// Bidirectional implements Bidirectional.
func (p *HTTPPredictor) Bidirectional() bool { return p.bidirectional }

// Predict posts w to the model server and decodes its forecast.
func (p *HTTPPredictor) Predict(ctx context.Context, w window.Window) (Forecast, error) {
	step, flows := w.Dims()
	ctx, span := tracer.Start(ctx, "HTTPPredictor.Predict",
		trace.WithAttributes(
			attribute.Int("tm.step", step),
			attribute.Int("tm.flows", flows),
		),
	)
	defer span.End()

	start := time.Now()
	fc, err := p.do(ctx, w)
	recordRequest(ctx, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Forecast{}, err
	}
	return fc, nil
}

func (p *HTTPPredictor) do(ctx context.Context, w window.Window) (Forecast, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body, err := json.Marshal(EncodeWindow(w, p.bidirectional))
	if err != nil {
		return Forecast{}, fmt.Errorf("encode window: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Forecast{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Forecast{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Forecast{}, fmt.Errorf("decode forecast: %w", err)
	}
	return out.Forecast()
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		requestLatency, err = meter.Float64Histogram(
			"tm_predictor_request_duration_seconds",
			metric.WithDescription("Duration of model server requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		requestTotal, err = meter.Int64Counter(
			"tm_predictor_requests_total",
			metric.WithDescription("Total number of model server requests"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordRequest(ctx context.Context, d time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	requestLatency.Record(ctx, d.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}
