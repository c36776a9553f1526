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
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/fibledger/cmd/fibledger/config"
	"github.com/AleutianAI/fibledger/pkg/logging"
	"github.com/AleutianAI/fibledger/services/api"
	"github.com/AleutianAI/fibledger/services/api/telemetry"
	"github.com/AleutianAI/fibledger/services/values"
)

const tracerName = "fibledger/cli"

// cli holds state shared by every subcommand. PersistentPreRunE fills it.
type cli struct {
	lookup     config.LookupFunc
	configPath string

	cfg    config.FibledgerConfig
	log    *logging.Logger
	logger *slog.Logger
}

// newRootCmd builds the command tree.
//
// # Inputs
//
//   - lookup: Environment reader. os.LookupEnv in production.
//
// # Outputs
//
//   - *cobra.Command: Root with serve, migrate and replay attached.
func newRootCmd(lookup config.LookupFunc) *cobra.Command {
	c := &cli{lookup: lookup}

	root := &cobra.Command{
		Use:   "fibledger",
		Short: "Accepts Fibonacci index submissions and records them",
		Long: `fibledger serves the /values API. Each accepted index is marked
pending in Redis, announced on the insert channel and appended to the ledger.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"path to a YAML config file (environment variables override it)")

	root.AddCommand(c.serveCmd(), c.migrateCmd(), c.replayCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath, c.lookup)
	if err != nil {
		return err
	}
	logCfg, err := cfg.Logging.ToLogging("fibledger")
	if err != nil {
		return err
	}
	logCfg.Output = cmd.ErrOrStderr()

	c.cfg = cfg
	c.log = logging.New(logCfg)
	c.log.Install()
	c.logger = c.log.Slog()
	return nil
}

// withLog runs fn and then closes the log file, also when fn fails.
func (c *cli) withLog(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if c.log == nil {
				return
			}
			if cerr := c.log.Close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}

// =============================================================================
// Commands
// =============================================================================

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: c.withLog(func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := api.New(ctx, config.ToService(c.cfg, c.logger))
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			c.logger.Info("fibledger listening", "port", c.cfg.Server.Port, "ledger", c.cfg.Ledger.Driver)
			return svc.Run(ctx)
		}),
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger schema if it does not exist",
		Args:  cobra.NoArgs,
		RunE: c.withLog(func(cmd *cobra.Command, args []string) error {
			if err := api.Migrate(cmd.Context(), config.ToService(c.cfg, c.logger)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger schema ready (%s)\n", c.cfg.Ledger.Driver)
			return nil
		}),
	}
}

func (c *cli) replayCmd() *cobra.Command {
	var opts values.ReplayOptions

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-announce ledger indices whose cache entry is missing",
		Long: `replay reads every ledger record and, for each distinct index with no
cache entry, writes the placeholder and publishes the index again so the
worker recomputes it. The result is printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: c.withLog(func(cmd *cobra.Command, args []string) error {
			return c.runReplay(cmd, opts)
		}),
	}
	cmd.Flags().BoolVar(&opts.PendingOnly, "pending-only", false,
		"also republish indices whose cache entry is still the placeholder")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false,
		"report what would be republished without writing")
	return cmd
}

func (c *cli) runReplay(cmd *cobra.Command, opts values.ReplayOptions) error {
	ctx, span := telemetry.StartSpan(cmd.Context(), tracerName, "replay")
	defer span.End()

	result, err := api.Replay(ctx, config.ToService(c.cfg, c.logger), opts)
	span.SetAttributes(
		attribute.Int("replay.scanned", result.Scanned),
		attribute.Int("replay.republished", result.Republished),
		attribute.Bool("replay.dry_run", opts.DryRun),
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("replay stopped after %d republished: %w", result.Republished, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
