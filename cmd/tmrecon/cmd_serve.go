// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/AleutianAI/AleutianTM/services/reconstructor"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
	"github.com/spf13/cobra"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	cfg := reconstructor.Config{}
	var influx storage.InfluxConfig
	var tokenEnv string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reconstruction HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.StorePath = expandHome(cfg.StorePath)
			cfg.Logger = g.slog()
			if influx.URL != "" {
				influx.Token = os.Getenv(tokenEnv)
				cfg.Influx = &influx
			}
			svc, err := reconstructor.New(cfg)
			if err != nil {
				return err
			}
			return svc.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&cfg.Port, "port", 12310, "HTTP port")
	cmd.Flags().StringVar(&cfg.StorePath, "store", "", "Run store directory (default in memory)")
	cmd.Flags().BoolVar(&cfg.AllowPaths, "allow-paths", false, "Let scenarios read dataset files on this host")
	cmd.Flags().BoolVar(&cfg.AllowRemotePredictor, "allow-remote-predictor", false, "Let scenarios call http predictors by URL")
	cmd.Flags().StringVar(&influx.URL, "influx-url", "", "InfluxDB receiving every run's scores")
	cmd.Flags().StringVar(&influx.Org, "influx-org", "", "InfluxDB organization")
	cmd.Flags().StringVar(&influx.Bucket, "influx-bucket", "", "InfluxDB bucket")
	cmd.Flags().StringVar(&tokenEnv, "influx-token-env", "INFLUX_TOKEN", "Environment variable holding the InfluxDB token")
	cmd.Flags().StringVar(&cfg.PredictModel, "predict-model", "mean", "Baseline served on /v1/tm/predict")
	cmd.Flags().StringVar(&cfg.GinMode, "gin-mode", "release", "Gin mode (debug, release, test)")
	return cmd
}
