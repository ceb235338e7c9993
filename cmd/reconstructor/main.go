// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command reconstructor starts the traffic-matrix reconstruction HTTP
// server.
//
// This is the entry point for the containerized service. It reads its
// configuration from environment variables.
//
// # Environment Variables
//
//   - RECONSTRUCTOR_PORT: HTTP server port (default: 12310)
//   - RECONSTRUCTOR_STORE_PATH: Badger run store directory (default: in memory)
//   - RECONSTRUCTOR_ALLOW_PATHS: "true" lets scenarios read dataset files
//   - RECONSTRUCTOR_ALLOW_REMOTE_PREDICTOR: "true" lets scenarios use http predictors
//   - RECONSTRUCTOR_INFLUX_URL, _ORG, _BUCKET, _TOKEN: InfluxDB receiving every run
//   - RECONSTRUCTOR_PREDICT_MODEL: baseline on /v1/tm/predict (default: mean)
//   - RECONSTRUCTOR_LOG_LEVEL: debug, info, warn, error (default: info)
//   - OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/AleutianAI/AleutianTM/pkg/logging"
	"github.com/AleutianAI/AleutianTM/services/reconstructor"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
)

func main() {
	level, err := logging.ParseLevel(getEnvString("RECONSTRUCTOR_LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger, err := logging.New(logging.Config{Level: level, Service: "reconstructor", JSON: true, Writer: os.Stdout})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg := reconstructor.Config{
		Port:         getEnvInt("RECONSTRUCTOR_PORT", 12310),
		StorePath:    os.Getenv("RECONSTRUCTOR_STORE_PATH"),
		AllowPaths:   getEnvBool("RECONSTRUCTOR_ALLOW_PATHS", false),
		PredictModel: getEnvString("RECONSTRUCTOR_PREDICT_MODEL", "mean"),
		GinMode:      "release",
		Logger:       logger.Slog(),

		AllowRemotePredictor: getEnvBool("RECONSTRUCTOR_ALLOW_REMOTE_PREDICTOR", false),
	}
	if url := os.Getenv("RECONSTRUCTOR_INFLUX_URL"); url != "" {
		cfg.Influx = &storage.InfluxConfig{
			URL:    url,
			Token:  os.Getenv("RECONSTRUCTOR_INFLUX_TOKEN"),
			Org:    os.Getenv("RECONSTRUCTOR_INFLUX_ORG"),
			Bucket: os.Getenv("RECONSTRUCTOR_INFLUX_BUCKET"),
		}
	}
	slog.Info("Starting reconstructor",
		"port", cfg.Port,
		"store_path", cfg.StorePath,
		"allow_paths", cfg.AllowPaths,
		"allow_remote_predictor", cfg.AllowRemotePredictor,
		"influx", cfg.Influx != nil,
	)

	svc, err := reconstructor.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create reconstructor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil {
		slog.Error("Reconstructor error", "error", err)
		os.Exit(1)
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
