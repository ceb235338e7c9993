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
	"log/slog"

	"github.com/AleutianAI/AleutianTM/pkg/logging"
	"github.com/spf13/cobra"
)

// defaultStorePath is the run store of every command when neither --store
// nor output.store_path names one.
const defaultStorePath = "~/.tmrecon/runs"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel string
	logJSON  bool
	logDir   string
	logger   *logging.Logger
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "tmrecon",
		Short: "Reconstruct traffic matrices from partial flow measurements",
		Long: `tmrecon replays a traffic-matrix dataset through a measurement
policy, fills unmeasured flows with a predictor and scores the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			g.logger, err = logging.New(logging.Config{
				Level:   level,
				LogDir:  g.logDir,
				Service: "tmrecon",
				JSON:    g.logJSON,
				Writer:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			slog.SetDefault(g.logger.Slog())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if g.logger != nil {
				return g.logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Write console logs as JSON")
	root.PersistentFlags().StringVar(&g.logDir, "log-dir", "", "Also write daily JSON log files to this directory")

	root.AddCommand(
		newRunCmd(g),
		newRunsCmd(g),
		newExportCmd(g),
		newServeCmd(g),
	)
	return root
}

func (g *globalFlags) slog() *slog.Logger {
	if g.logger == nil {
		return slog.Default()
	}
	return g.logger.Slog()
}
