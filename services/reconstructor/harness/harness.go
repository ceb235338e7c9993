// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package harness runs repeated reconstruction experiments.
//
// # Description
//
// Every repetition draws a test window, builds a fresh engine, runs it,
// maps the reconstruction back to traffic units and scores it. A failing
// repetition becomes a failed Outcome; the remaining repetitions still run.
//
// # Thread Safety
//
// Repetitions share only the read-only dataset and the predictor. Each
// owns its engine, buffers and random sources, so they may run in
// parallel when Config.Parallelism > 1.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/dataset"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/engine"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/metrics"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Config controls a harness run.
//
//   - RunTimes: number of repetitions, at least 1
//   - Parallelism: repetitions in flight at once; values below 2 run them in order
//   - TestDays: horizon length in days of the dataset
//   - TestMode: dataset.ModeLast or dataset.ModeRandom
//   - Seed: base seed; repetition i draws its test window with Seed+i
type Config struct {
	RunTimes    int
	Parallelism int
	TestDays    int
	TestMode    string
	Seed        int64
}

// Factory builds the engine of repetition rep.
type Factory func(rep int) (*engine.Engine, error)

// Seeded returns a Factory whose engines use cfg with Seed offset by the
// repetition index.
func Seeded(cfg engine.Config, p predictor.Predictor, opts ...engine.Option) Factory {
	return func(rep int) (*engine.Engine, error) {
		c := cfg
		c.Seed += int64(rep)
		return engine.New(c, p, opts...)
	}
}

// Outcome is the result of one repetition.
//
// A failed repetition has Failed set, Err holding the cause and a zero
// Summary. Result holds the reconstruction in traffic units and is nil for
// failed repetitions.
type Outcome struct {
	Repetition int
	Start      int
	Failed     bool
	Err        error
	Summary    metrics.Summary
	Duration   time.Duration
	Result     *engine.Result
}

// Report aggregates the outcomes of a harness run.
//
// Mean averages successful repetitions; the IMS fields average only those
// that carry an IMS score.
type Report struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Mean      metrics.Summary
	Elapsed   time.Duration
}

// Option customizes Run.
type Option func(*runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithMetrics records repetition outcomes in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *runner) { r.metrics = m }
}

type runner struct {
	cfg     Config
	factory Factory
	data    *dataset.Prepared
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Run executes cfg.RunTimes repetitions over data.
//
// # Outputs
//
//   - *Report: one Outcome per repetition, in repetition order
//   - error: ErrInvalidConfig before any repetition starts, or the context
//     error when ctx is cancelled. Repetition failures are not errors.
func Run(ctx context.Context, cfg Config, factory Factory, data *dataset.Prepared, opts ...Option) (*Report, error) {
	if cfg.RunTimes < 1 {
		return nil, fmt.Errorf("%w: run_times=%d", ErrInvalidConfig, cfg.RunTimes)
	}
	if cfg.TestDays < 1 {
		return nil, fmt.Errorf("%w: test_days=%d", ErrInvalidConfig, cfg.TestDays)
	}
	if factory == nil || data == nil {
		return nil, fmt.Errorf("%w: nil factory or dataset", ErrInvalidConfig)
	}
	r := &runner{cfg: cfg, factory: factory, data: data, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	started := time.Now()
	outcomes := make([]Outcome, cfg.RunTimes)

	g, gctx := errgroup.WithContext(ctx)
	limit := cfg.Parallelism
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := 0; i < cfg.RunTimes; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.repetition(gctx, i)
			return nil
		})
	}
	// Repetition failures live in outcomes; only cancellation reaches here.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep := summarize(outcomes)
	rep.Elapsed = time.Since(started)
	r.logger.Info("harness finished",
		"run_times", cfg.RunTimes, "succeeded", rep.Succeeded, "failed", rep.Failed,
		"error_ratio", rep.Mean.ErrorRatio, "elapsed", rep.Elapsed)
	return rep, nil
}

func (r *runner) repetition(ctx context.Context, i int) Outcome {
	start := time.Now()
	out, err := r.evaluate(ctx, i)
	out.Repetition = i
	out.Duration = time.Since(start)
	if err != nil {
		out.Failed = true
		out.Err = err
		out.Summary = metrics.Summary{}
		out.Result = nil
		r.logger.Warn("repetition failed", "repetition", i, "error", err)
	} else {
		r.logger.Info("repetition finished", "repetition", i,
			"error_ratio", out.Summary.ErrorRatio, "r2", out.Summary.R2, "elapsed", out.Duration)
	}
	r.metrics.RecordRepetition(out.Duration, err == nil)
	return out
}

func (r *runner) evaluate(ctx context.Context, i int) (Outcome, error) {
	eng, err := r.factory(i)
	if err != nil {
		return Outcome{}, fmt.Errorf("build engine: %w", err)
	}
	rng := rand.New(rand.NewSource(r.cfg.Seed + int64(i)))
	sample, err := r.data.TestWindow(eng.Config().Step, r.cfg.TestDays, r.cfg.TestMode, rng)
	if err != nil {
		return Outcome{}, fmt.Errorf("test window: %w", err)
	}
	out := Outcome{Start: sample.Start}

	res, err := eng.Run(ctx, sample.Init, sample.Truth)
	if err != nil {
		return out, err
	}
	raw, err := r.inverse(res, sample.TruthRaw)
	if err != nil {
		return out, err
	}
	summary, err := metrics.Score(raw.Truth, raw.Reconstructed, raw.Mask, raw.IMS, raw.IMSTruth)
	if err != nil {
		return out, err
	}
	if !summary.Finite() {
		return out, fmt.Errorf("%w: %+v", ErrNonFiniteResult, summary)
	}
	out.Summary = summary
	out.Result = raw
	return out, nil
}

// inverse maps a normalized result to traffic units with truthRaw as ground truth.
func (r *runner) inverse(res *engine.Result, truthRaw *mat.Dense) (*engine.Result, error) {
	pred, err := r.data.Scaler.Inverse(res.Reconstructed)
	if err != nil {
		return nil, err
	}
	if !finite(pred) {
		return nil, ErrNonFiniteResult
	}
	raw := &engine.Result{
		Reconstructed: pred,
		Mask:          res.Mask,
		Truth:         truthRaw,
		Shape:         res.Shape,
	}
	if res.IMS != nil {
		if raw.IMS, err = r.data.Scaler.Inverse(res.IMS); err != nil {
			return nil, err
		}
		if !finite(raw.IMS) {
			return nil, ErrNonFiniteResult
		}
		horizon, flows := truthRaw.Dims()
		imsRows, _ := res.IMS.Dims()
		raw.IMSTruth = mat.DenseCopyOf(truthRaw.Slice(horizon-imsRows, horizon, 0, flows))
	}
	return raw, nil
}

func finite(m *mat.Dense) bool {
	for _, v := range m.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func summarize(outcomes []Outcome) *Report {
	rep := &Report{Outcomes: outcomes}
	var mean metrics.Summary
	imsCount := 0
	for _, o := range outcomes {
		if o.Failed {
			rep.Failed++
			continue
		}
		rep.Succeeded++
		s := o.Summary
		mean.ErrorRatio += s.ErrorRatio
		mean.R2 += s.R2
		mean.RMSE += s.RMSE
		mean.MAE += s.MAE
		mean.MAPE += s.MAPE
		if s.HasIMS {
			imsCount++
			mean.IMSErrorRatio += s.IMSErrorRatio
			mean.IMSR2 += s.IMSR2
			mean.IMSRMSE += s.IMSRMSE
		}
	}
	if rep.Succeeded > 0 {
		n := float64(rep.Succeeded)
		mean.ErrorRatio /= n
		mean.R2 /= n
		mean.RMSE /= n
		mean.MAE /= n
		mean.MAPE /= n
	}
	if imsCount > 0 {
		n := float64(imsCount)
		mean.HasIMS = true
		mean.IMSErrorRatio /= n
		mean.IMSR2 /= n
		mean.IMSRMSE /= n
	}
	rep.Mean = mean
	return rep
}
