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
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/gin-gonic/gin"
)

// HandlePredict serves the built-in baseline models over the predictor
// wire format.
//
// The model is chosen with the ?model= query parameter (mean, last,
// mean-bidirectional), defaulting to defaultModel. Requests asking for
// heads are answered by the bidirectional baseline. Bodies over
// MaxRequestBytes are refused with 400.
func HandlePredict(defaultModel string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBytes)
		var req predictor.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		w, err := req.Window()
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		name := c.DefaultQuery("model", defaultModel)
		if req.Bidirectional {
			name = predictor.KindMeanBidirectional
		}
		model, err := predictor.NewBaseline(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		fc, err := predictor.Guard(model).Predict(c.Request.Context(), w)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, predictor.ErrNonFinite) {
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, predictor.EncodeForecast(fc))
	}
}
