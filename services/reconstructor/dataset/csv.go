// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset loads traffic matrices and prepares them for reconstruction.
//
// A traffic matrix is a timesteps×flows *mat.Dense. Grid datasets store the
// width×height flow grid row-major, so flow f is cell (f%width, f/width).
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LoadCSV reads a timesteps×flows matrix.
//
// A first record that does not parse as numbers is treated as a header.
// Every data record must have the same number of fields.
func LoadCSV(r io.Reader) (*mat.Dense, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	var (
		data  []float64
		flows int
		rows  int
		line  int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		line++
		row, perr := parseRecord(rec)
		if perr != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, perr)
		}
		if flows == 0 {
			flows = len(row)
		}
		if len(row) != flows {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrMalformed, line, len(row), flows)
		}
		data = append(data, row...)
		rows++
	}
	if rows == 0 || flows == 0 {
		return nil, ErrEmpty
	}
	return mat.NewDense(rows, flows, data), nil
}

// LoadFile opens path and reads it with LoadCSV.
func LoadFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return LoadCSV(f)
}

// WriteCSV writes m as headerless CSV.
func WriteCSV(w io.Writer, m mat.Matrix) error {
	cw := csv.NewWriter(w)
	rows, cols := m.Dims()
	rec := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rec[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseRecord(rec []string) ([]float64, error) {
	row := make([]float64, len(rec))
	for i, s := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}
