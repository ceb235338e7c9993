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
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/window"
)

type instrumented struct {
	inner   Predictor
	metrics *observability.Metrics
}

// Instrumented wraps p so that latency and failures are recorded in m.
// A nil m returns p unchanged.
func Instrumented(p Predictor, m *observability.Metrics) Predictor {
	if m == nil {
		return p
	}
	return &instrumented{inner: p, metrics: m}
}

func (i *instrumented) Bidirectional() bool { return IsBidirectional(i.inner) }

func (i *instrumented) Predict(ctx context.Context, w window.Window) (Forecast, error) {
	start := time.Now()
	fc, err := i.inner.Predict(ctx, w)
	i.metrics.RecordPrediction(time.Since(start), failureReason(err), err == nil)
	return fc, err
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNonFinite):
		return observability.ReasonNonFinite
	case errors.Is(err, ErrShapeMismatch):
		return observability.ReasonShape
	case errors.Is(err, ErrUnavailable):
		return observability.ReasonUnavailable
	}
	return observability.ReasonOther
}
