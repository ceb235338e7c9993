// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package engine runs the iterative multi-step traffic matrix
// reconstruction loop.
//
// # Description
//
// Starting from a fully measured warm-up window, every timestep t:
//
//  1. builds the window of the last Step rows
//  2. asks the predictor for the next row (and, for bidirectional models,
//     forward/backward heads over the window)
//  3. optionally corrects the interior of the window from those heads
//  4. optionally rolls the window IMSStep steps ahead without measurements
//  5. selects the flows measured at t
//  6. writes truth for measured flows and the prediction for the rest
//
// Measured entries are copied from ground truth, never computed, and are
// never revised afterwards.
//
// # Thread Safety
//
// An Engine owns a selector with its own random source. Run must not be
// called concurrently on the same Engine; build one Engine per repetition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/correction"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/mask"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"
)

var tracer = otel.Tracer("aleutian.tm.engine")

// Result is everything a finished run hands to metric computation.
//
// # Fields
//
//   - Reconstructed: Horizon×Flows values, row t aligned with truth row t
//   - Mask: Horizon×Flows measurement mask of Reconstructed
//   - IMS: (Horizon-IMSStep+1)×Flows rollouts, nil when IMS is disabled
//   - IMSTruth: ground truth aligned with IMS, row i is truth row i+IMSStep-1
//   - Truth: copy of the ground truth
//   - Shape: grid layout of the flows, zero for flat flows
type Result struct {
	Reconstructed *mat.Dense
	Mask          *mat.Dense
	IMS           *mat.Dense
	IMSTruth      *mat.Dense
	Truth         *mat.Dense
	Shape         Shape
}

// StepEvent describes one completed timestep.
type StepEvent struct {
	T        int
	Horizon  int
	Measured int
	Elapsed  time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records steps and predictor calls in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStepObserver calls fn after every timestep.
func WithStepObserver(fn func(StepEvent)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithSelector replaces the policy selector built from the config.
func WithSelector(s mask.Selector) Option {
	return func(e *Engine) { e.selector = s }
}

// Engine reconstructs a traffic matrix for one test window.
type Engine struct {
	cfg       Config
	predictor predictor.Predictor
	selector  mask.Selector
	logger    *slog.Logger
	metrics   *observability.Metrics
	observer  func(StepEvent)
}

// New validates cfg and builds an Engine around p.
//
// # Outputs
//
//   - *Engine: ready to Run
//   - error: ErrInvalidConfig, or ErrNotBidirectional when correction or the
//     weighted policy is configured for a predictor without heads
func New(cfg Config, p predictor.Predictor, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil predictor", ErrInvalidConfig)
	}
	if cfg.Correction == "" {
		cfg.Correction = correction.ModeNone
	}
	if cfg.needsHeads() && !predictor.IsBidirectional(p) {
		return nil, fmt.Errorf("%w: policy %s, correction %s", ErrNotBidirectional, cfg.Policy, cfg.Correction)
	}

	e := &Engine{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.selector == nil {
		sel, err := mask.New(cfg.Policy, cfg.Weights, rand.New(rand.NewSource(cfg.Seed)))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		e.selector = sel
	}
	e.predictor = predictor.Instrumented(predictor.Guard(p), e.metrics)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run reconstructs len(truth) timesteps.
//
// # Inputs
//
//   - ctx: checked between timesteps; cancellation aborts without a result
//   - init: warm-up data, at least Step rows; only the last Step are used
//   - truth: Horizon×Flows ground truth; never modified
//
// # Outputs
//
//   - *Result: complete reconstruction
//   - error: ErrInsufficientWarmup, ErrShapeMismatch or ErrEmptyHorizon before
//     the loop starts; a *predictor.PredictionError (with Step set) or another
//     predictor error from inside the loop
func (e *Engine) Run(ctx context.Context, init, truth mat.Matrix) (*Result, error) {
	horizon, flows, err := e.check(init, truth)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Engine.Run", trace.WithAttributes(
		attribute.Int("tm.horizon", horizon),
		attribute.Int("tm.flows", flows),
		attribute.Int("tm.step", e.cfg.Step),
		attribute.String("tm.policy", string(e.cfg.Policy)),
		attribute.String("tm.correction", string(e.cfg.Correction)),
	))
	defer span.End()

	res, err := e.run(ctx, init, truth, horizon, flows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func (e *Engine) check(init, truth mat.Matrix) (horizon, flows int, err error) {
	if init == nil || truth == nil {
		return 0, 0, fmt.Errorf("%w: nil input", ErrShapeMismatch)
	}
	initRows, initFlows := init.Dims()
	horizon, flows = truth.Dims()
	if initRows < e.cfg.Step {
		return 0, 0, fmt.Errorf("%w: have %d rows, window needs %d", ErrInsufficientWarmup, initRows, e.cfg.Step)
	}
	if horizon == 0 {
		return 0, 0, ErrEmptyHorizon
	}
	if initFlows != flows {
		return 0, 0, fmt.Errorf("%w: warm-up has %d flows, truth %d", ErrShapeMismatch, initFlows, flows)
	}
	if e.cfg.Shape.IsGrid() && e.cfg.Shape.Flows() != flows {
		return 0, 0, fmt.Errorf("%w: grid %dx%d holds %d cells, data has %d flows",
			ErrShapeMismatch, e.cfg.Shape.Width, e.cfg.Shape.Height, e.cfg.Shape.Flows(), flows)
	}
	if e.cfg.IMSStep > horizon {
		return 0, 0, fmt.Errorf("%w: ims step %d exceeds horizon %d", ErrInvalidConfig, e.cfg.IMSStep, horizon)
	}
	return horizon, flows, nil
}

func (e *Engine) run(ctx context.Context, init, truth mat.Matrix, horizon, flows int) (*Result, error) {
	step := e.cfg.Step
	buf, err := window.NewBuffer(init, step, horizon)
	if err != nil {
		return nil, err
	}

	var ims *mat.Dense
	if e.cfg.IMSStep > 0 {
		ims = mat.NewDense(horizon-e.cfg.IMSStep+1, flows, nil)
	}

	e.logger.Debug("reconstruction started",
		"horizon", horizon, "flows", flows, "step", step,
		"policy", e.cfg.Policy, "correction", e.cfg.Correction, "ims_step", e.cfg.IMSStep)

	started := time.Now()
	progressEvery := horizon / 10
	if progressEvery == 0 {
		progressEvery = 1
	}
	row := make([]float64, flows)

	for t := 0; t < horizon; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stepStart := time.Now()

		w, err := window.Build(buf, t)
		if err != nil {
			return nil, err
		}
		fc, err := e.predictor.Predict(ctx, w)
		if err != nil {
			return nil, stepError(t, err)
		}
		if e.cfg.needsHeads() && !fc.HasHeads() {
			return nil, stepError(t, fmt.Errorf("%w: forecast has no forward/backward heads", predictor.ErrShapeMismatch))
		}

		// Losses score the heads against the window they were predicted from.
		var rlFw, rlBw []float64
		if e.cfg.Policy == mask.PolicyWeighted {
			rlFw, rlBw = correction.Losses(w.Values, w.Mask, fc.Forward, fc.Backward)
		}

		if e.cfg.correcting() {
			if w, err = e.correct(buf, w, fc); err != nil {
				return nil, stepError(t, err)
			}
		}

		if ims != nil && t <= horizon-e.cfg.IMSStep {
			rolled, err := IMS(ctx, e.predictor, w, e.cfg.IMSStep, e.cfg.Correction)
			if err != nil {
				return nil, stepError(t, err)
			}
			ims.SetRow(t, rolled)
		}

		next, err := e.selector.Select(mask.Input{
			History:      w.Mask,
			Values:       w.Values,
			ForwardLoss:  rlFw,
			BackwardLoss: rlBw,
			Ratio:        e.cfg.Ratio,
		})
		if err != nil {
			return nil, stepError(t, err)
		}

		measured := 0
		for f := range row {
			if next[f] == 1 {
				row[f] = truth.At(t, f)
				measured++
			} else {
				row[f] = fc.Next[f]
			}
		}
		if err := buf.Append(row, next); err != nil {
			return nil, stepError(t, err)
		}

		e.metrics.RecordStep(string(e.cfg.Policy), measured)
		if e.observer != nil {
			e.observer(StepEvent{T: t, Horizon: horizon, Measured: measured, Elapsed: time.Since(stepStart)})
		}
		if (t+1)%progressEvery == 0 {
			e.logger.Debug("reconstruction progress", "t", t+1, "horizon", horizon)
		}
	}

	values, maskOut, err := buf.Reconstructed()
	if err != nil {
		return nil, err
	}
	res := &Result{
		Reconstructed: values,
		Mask:          maskOut,
		Truth:         mat.DenseCopyOf(truth),
		Shape:         e.cfg.Shape,
	}
	if ims != nil {
		res.IMS = ims
		res.IMSTruth = mat.DenseCopyOf(res.Truth.Slice(e.cfg.IMSStep-1, horizon, 0, flows))
	}

	e.logger.Debug("reconstruction finished", "horizon", horizon, "elapsed", time.Since(started))
	return res, nil
}

// correct revises the interior rows of the window starting at w.Start and
// returns the window as it now stands in buf.
func (e *Engine) correct(buf *window.Buffer, w window.Window, fc predictor.Forecast) (window.Window, error) {
	start := time.Now()
	corrected, err := correction.Apply(e.cfg.Correction, w.Values, w.Mask, fc.Forward, fc.Backward)
	if err != nil {
		return w, err
	}
	if err := reviseInterior(buf, w.Start, corrected); err != nil {
		return w, err
	}
	e.metrics.RecordCorrection(time.Since(start))
	w.Values = corrected
	return w, nil
}

func reviseInterior(buf *window.Buffer, start int, corrected *mat.Dense) error {
	step, _ := corrected.Dims()
	for j := 1; j < step-1; j++ {
		if err := buf.Revise(start+j, corrected.RawRowView(j)); err != nil {
			return err
		}
	}
	return nil
}

func stepError(t int, err error) error {
	var pe *predictor.PredictionError
	if errors.As(err, &pe) {
		pe.Step = t
	}
	return fmt.Errorf("step %d: %w", t, err)
}
