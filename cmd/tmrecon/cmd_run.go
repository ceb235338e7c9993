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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTM/pkg/ux"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/evaluator"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/metrics"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/observability"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/storage"
	"github.com/spf13/cobra"
)

type runFlags struct {
	config   string
	store    string
	asJSON   bool
	trace    bool
	runTimes int
	seed     int64
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a reconstruction scenario and print its scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, g, f)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "Scenario YAML file")
	cmd.Flags().StringVar(&f.store, "store", "", "Run store directory (overrides output.store_path, default "+defaultStorePath+")")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the run record as JSON")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	cmd.Flags().IntVar(&f.runTimes, "run-times", 0, "Override harness.run_times")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Override reconstruction.seed")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runScenario(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	ctx := cmd.Context()
	sc, err := datatypes.LoadScenario(f.config)
	if err != nil {
		return err
	}
	if f.runTimes > 0 {
		sc.Harness.RunTimes = f.runTimes
	}
	if cmd.Flags().Changed("seed") {
		sc.Reconstruction.Seed = f.seed
	}
	if sc.Dataset.Path != "" && !filepath.IsAbs(sc.Dataset.Path) {
		sc.Dataset.Path = filepath.Join(filepath.Dir(f.config), sc.Dataset.Path)
	}
	if err := sc.Validate(); err != nil {
		return err
	}

	tel := observability.DefaultTelemetryConfig("tmrecon")
	if f.trace {
		tel.TraceExporter = observability.ExporterStdout
		tel.Writer = cmd.ErrOrStderr()
	}
	shutdown, err := observability.Init(ctx, tel)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(ctx) }()

	opts := []evaluator.Option{evaluator.WithLogger(g.slog())}
	storePath := f.store
	if storePath == "" {
		storePath = sc.Output.StorePath
	}
	store, err := openStore(storePath)
	if err != nil {
		return err
	}
	defer store.Close()
	opts = append(opts, evaluator.WithStore(store))

	rec, _, err := evaluator.New(opts...).Run(ctx, sc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printRecord(ux.NewPrinter(out), rec)
	if rec.Status == datatypes.StatusFailed {
		return fmt.Errorf("all %d repetitions failed", rec.Failed)
	}
	return nil
}

// printRecord renders a run with one table row per repetition and a mean
// row.
func printRecord(p *ux.Printer, rec *datatypes.RunRecord) {
	p.Title("Run " + rec.RunID)
	p.KeyValue("scenario", rec.ScenarioID)
	p.KeyValue("status", rec.Status)
	p.KeyValue("policy", rec.Scenario.Reconstruction.FlowSelection)
	p.KeyValue("correction", rec.Scenario.Reconstruction.Correction)
	p.KeyValue("monitoring ratio", strconv.FormatFloat(rec.Scenario.Reconstruction.MonitoringRatio, 'g', -1, 64))
	p.KeyValue("elapsed", (time.Duration(rec.ElapsedMs) * time.Millisecond).String())

	withIMS := rec.Mean.HasIMS
	headers := []string{"rep", "start", "error ratio", "r2", "rmse", "mae", "mape"}
	if withIMS {
		headers = append(headers, "ims error ratio", "ims r2", "ims rmse")
	}
	var rows [][]string
	for _, r := range rec.Repetitions {
		if r.Failed {
			row := []string{strconv.Itoa(r.Repetition), strconv.Itoa(r.Start), "failed"}
			for len(row) < len(headers) {
				row = append(row, "")
			}
			rows = append(rows, row)
			continue
		}
		rows = append(rows, summaryRow(strconv.Itoa(r.Repetition), strconv.Itoa(r.Start), r.Summary, withIMS))
	}
	if rec.Succeeded > 0 {
		rows = append(rows, summaryRow("mean", "", rec.Mean, withIMS))
	}
	p.Table(headers, rows)

	switch {
	case rec.Failed == 0:
		p.Success(fmt.Sprintf("%d repetitions succeeded", rec.Succeeded))
	case rec.Succeeded > 0:
		p.Warning(fmt.Sprintf("%d of %d repetitions failed", rec.Failed, rec.Failed+rec.Succeeded))
	default:
		p.Error("every repetition failed")
	}
}

func summaryRow(label, start string, s metrics.Summary, withIMS bool) []string {
	row := []string{
		label, start,
		ux.FormatMetric(s.ErrorRatio),
		ux.FormatMetric(s.R2),
		ux.FormatMetric(s.RMSE),
		ux.FormatMetric(s.MAE),
		ux.FormatMetric(s.MAPE),
	}
	if withIMS {
		row = append(row, ux.FormatMetric(s.IMSErrorRatio), ux.FormatMetric(s.IMSR2), ux.FormatMetric(s.IMSRMSE))
	}
	return row
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func openStore(path string) (*storage.RunStore, error) {
	if path == "" {
		path = defaultStorePath
	}
	return storage.Open(storage.DefaultConfig(expandHome(path)))
}

