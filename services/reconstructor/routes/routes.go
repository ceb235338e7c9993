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
	"github.com/AleutianAI/AleutianTM/services/reconstructor/handlers"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the routes need.
//
//   - Runner: executes POST /v1/runs
//   - Store: serves GET /v1/runs/:runId; nil disables the route
//   - Gatherer: source of /metrics; nil uses the default registry
//   - Policy: what posted scenarios may reach on this server
//   - PredictModel: default baseline for /v1/tm/predict
type Deps struct {
	Runner       handlers.Runner
	Store        handlers.RunReader
	Gatherer     prometheus.Gatherer
	Policy       handlers.RunPolicy
	PredictModel string
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	model := deps.PredictModel
	if model == "" {
		model = predictor.KindMean
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/tm/predict", handlers.HandlePredict(model))

		runs := v1.Group("/runs")
		{
			runs.POST("", handlers.HandleCreateRun(deps.Runner, deps.Policy))
			if deps.Store != nil {
				runs.GET("/:runId", handlers.HandleGetRun(deps.Store))
			}
		}
	}
}
