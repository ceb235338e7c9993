// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxMeasurement is the measurement repetition scores are written to.
const InfluxMeasurement = "tm_reconstruction"

// InfluxConfig locates the target bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes one point per successful repetition.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink creates a sink writing to cfg.Bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx sink needs url, org and bucket")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// WriteRun writes the scores of every successful repetition of rec.
// Failed repetitions are skipped.
func (s *InfluxSink) WriteRun(ctx context.Context, rec *datatypes.RunRecord) error {
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	r := rec.Scenario.Reconstruction
	for _, rep := range rec.Repetitions {
		if rep.Failed {
			continue
		}
		sum := rep.Summary
		p := influxdb2.NewPointWithMeasurement(InfluxMeasurement).
			AddTag("run_id", rec.RunID).
			AddTag("scenario", rec.ScenarioID).
			AddTag("policy", r.FlowSelection).
			AddTag("correction", r.Correction).
			AddTag("repetition", strconv.Itoa(rep.Repetition)).
			AddField("monitoring_ratio", r.MonitoringRatio).
			AddField("error_ratio", sum.ErrorRatio).
			AddField("r2", sum.R2).
			AddField("rmse", sum.RMSE).
			AddField("mae", sum.MAE).
			AddField("mape", sum.MAPE).
			AddField("duration_ms", rep.DurationMs).
			SetTime(ts.Add(time.Duration(rep.Repetition) * time.Millisecond))
		if sum.HasIMS {
			p.AddField("ims_error_ratio", sum.IMSErrorRatio).
				AddField("ims_r2", sum.IMSR2).
				AddField("ims_rmse", sum.IMSRMSE)
		}
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return fmt.Errorf("write repetition %d: %w", rep.Repetition, err)
		}
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
