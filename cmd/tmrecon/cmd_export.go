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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianTM/pkg/validation"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/dataset"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/datatypes"
	"github.com/AleutianAI/AleutianTM/services/reconstructor/predictor"
	"github.com/spf13/cobra"
)

type exportFlags struct {
	store  string
	rep    int
	matrix string
	output string
	long   bool
}

func newExportCmd(g *globalFlags) *cobra.Command {
	f := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write one matrix of a stored repetition as CSV",
		Long: `export writes the reconstructed, mask, truth or ims matrix of a
repetition. Rows are timesteps and columns flows. With --long every entry
becomes a "t,flow,x,y,value" line; x and y are grid coordinates when the
scenario declared a grid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateRunID(args[0]); err != nil {
				return err
			}
			store, err := openStore(f.store)
			if err != nil {
				return err
			}
			defer store.Close()

			data, err := store.GetRepetition(args[0], f.rep)
			if err != nil {
				return err
			}
			rows, err := selectMatrix(data, f.matrix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f.output != "" && f.output != "-" {
				file, err := os.Create(f.output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}
			if f.long {
				return writeLong(out, rows, data.Grid)
			}
			m, err := predictor.Dense(rows)
			if err != nil {
				return err
			}
			return dataset.WriteCSV(out, m)
		},
	}
	cmd.Flags().StringVar(&f.store, "store", defaultStorePath, "Run store directory")
	cmd.Flags().IntVar(&f.rep, "rep", 0, "Repetition index")
	cmd.Flags().StringVar(&f.matrix, "matrix", "reconstructed", "Matrix to export (reconstructed, mask, truth, ims)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&f.long, "long", false, "Write one line per entry")
	return cmd
}

func selectMatrix(d *datatypes.RepetitionData, name string) ([][]float64, error) {
	var rows [][]float64
	switch name {
	case "reconstructed":
		rows = d.Reconstructed
	case "mask":
		rows = d.Mask
	case "truth":
		rows = d.Truth
	case "ims":
		rows = d.IMS
	default:
		return nil, fmt.Errorf("unknown matrix %q", name)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("repetition %d has no %s matrix", d.Repetition, name)
	}
	return rows, nil
}

// writeLong emits t,flow,x,y,value. Without a grid x is the flow index
// and y is 0.
func writeLong(w io.Writer, rows [][]float64, grid *datatypes.Grid) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"t", "flow", "x", "y", "value"}); err != nil {
		return err
	}
	for t, row := range rows {
		for f, v := range row {
			x, y := f, 0
			if grid != nil && grid.Width > 0 {
				x, y = f%grid.Width, f/grid.Width
			}
			rec := []string{
				strconv.Itoa(t),
				strconv.Itoa(f),
				strconv.Itoa(x),
				strconv.Itoa(y),
				strconv.FormatFloat(v, 'g', -1, 64),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
