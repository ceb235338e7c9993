// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconstructor assembles the traffic-matrix reconstruction HTTP
// service.
//
// # Description
//
// The service exposes scenario runs (POST /v1/runs), stored run lookup
// (GET /v1/runs/:runId), the built-in baseline model server
// (POST /v1/tm/predict), health and Prometheus metrics. Runs are executed
// synchronously by an evaluator.Evaluator and persisted to a Badger run
// store.
package reconstructor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/evaluator"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/handlers"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/routes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the reconstructor service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails, then
	// shuts down gracefully and releases every resource.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases resources without serving. Safe to call after Run.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds reconstructor service configuration.
//
// All fields are optional with defaults applied by New.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// StorePath is the Badger run store directory.
	// Empty keeps runs in memory for the lifetime of the process.
	StorePath string

	// AllowPaths lets scenarios name dataset files on the server.
	AllowPaths bool

	// AllowRemotePredictor lets scenarios use predictor.type "http", making
	// the server call the URL they name.
	AllowRemotePredictor bool

	// Influx, when set, receives the scores of every run. Scenarios cannot
	// name their own target on the server.
	Influx *storage.InfluxConfig

	// PredictModel is the default baseline served on /v1/tm/predict.
	// Default: "mean"
	PredictModel string

	// Telemetry selects the OpenTelemetry exporters.
	// Default: observability.DefaultTelemetryConfig("reconstructor-service")
	Telemetry *observability.TelemetryConfig

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: leaves the GIN_MODE setting alone
	GinMode string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// Logger is the service logger. Default: slog.Default()
	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config    Config
	router    *gin.Engine
	registry  *prometheus.Registry
	store     *storage.RunStore
	sink      *storage.InfluxSink
	telemetry func(context.Context) error
	logger    *slog.Logger
}

// New creates a reconstructor Service.
//
// # Description
//
// New initializes, in order:
//  1. default configuration for missing values
//  2. OpenTelemetry providers
//  3. a dedicated Prometheus registry with the engine collectors
//  4. the run store and the optional InfluxDB sink
//  5. the evaluator and HTTP routes
//
// # Outputs
//
//   - Service: ready to Run
//   - error: telemetry, run store or sink initialization failure
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	s.logger = s.config.Logger

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tcfg := *s.config.Telemetry
	tcfg.Registerer = s.registry
	shutdown, err := observability.Init(context.Background(), tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = shutdown

	storeCfg := storage.InMemoryConfig()
	if s.config.StorePath != "" {
		storeCfg = storage.DefaultConfig(s.config.StorePath)
	}
	storeCfg.Logger = s.logger.With("component", "badger")
	if s.store, err = storage.Open(storeCfg); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	opts := []evaluator.Option{
		evaluator.WithStore(s.store),
		evaluator.WithMetrics(observability.NewMetrics(s.registry)),
		evaluator.WithLogger(s.logger),
	}
	if s.config.Influx != nil {
		if s.sink, err = storage.NewInfluxSink(*s.config.Influx); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to create influx sink: %w", err)
		}
		opts = append(opts, evaluator.WithSink(s.sink))
	}
	s.initRouter(evaluator.New(opts...))
	return s, nil
}

// Run serves HTTP until ctx is done.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting reconstructor server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down reconstructor server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases the run store and telemetry providers.
func (s *service) Close() error {
	return s.cleanup()
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.PredictModel == "" {
		cfg.PredictModel = "mean"
	}
	if cfg.Telemetry == nil {
		t := observability.DefaultTelemetryConfig("reconstructor-service")
		cfg.Telemetry = &t
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (s *service) initRouter(ev *evaluator.Evaluator) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Runner:       ev,
		Store:        s.store,
		Gatherer:     s.registry,
		PredictModel: s.config.PredictModel,
		Policy: handlers.RunPolicy{
			AllowPaths:           s.config.AllowPaths,
			AllowRemotePredictor: s.config.AllowRemotePredictor,
		},
	})
}

// cleanup is idempotent.
func (s *service) cleanup() error {
	var errs []error
	if s.sink != nil {
		s.sink.Close()
		s.sink = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close run store: %w", err))
		}
		s.store = nil
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		s.telemetry = nil
	}
	return errors.Join(errs...)
}
