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
	"strconv"

	"github.com/AleutianAI/AleutianTM/pkg/ux"
	"github.com/AleutianAI/AleutianTM/pkg/validation"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/spf13/cobra"
)

func newRunsCmd(g *globalFlags) *cobra.Command {
	var storePath string
	var runID string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first, or show one with --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			p := ux.NewPrinter(cmd.OutOrStdout())
			if runID != "" {
				if err := validation.ValidateRunID(runID); err != nil {
					return err
				}
				rec, err := store.GetRun(runID)
				if err != nil {
					return err
				}
				printRecord(p, rec)
				return nil
			}

			recs, err := store.ListRuns()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				p.Warning("no runs stored")
				return nil
			}
			p.Table(
				[]string{"run id", "scenario", "created", "status", "ok", "failed", "error ratio"},
				runRows(recs),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", defaultStorePath, "Run store directory")
	cmd.Flags().StringVar(&runID, "id", "", "Show a single run")
	return cmd
}

func runRows(recs []datatypes.RunRecord) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		ratio := "n/a"
		if r.Succeeded > 0 {
			ratio = ux.FormatMetric(r.Mean.ErrorRatio)
		}
		rows = append(rows, []string{
			r.RunID,
			r.ScenarioID,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Failed),
			ratio,
		})
	}
	return rows
}
