// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"fmt"

	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// Migrate creates the ledger schema and returns. Unlike service startup, an
// unreachable ledger is an error.
func Migrate(ctx context.Context, cfg Config) error {
	cfg = applyConfigDefaults(cfg)
	logger := cfg.Logger.With("component", "migrate")

	tracker := connstate.NewTracker(string(values.DependencyLedger))
	ledger, err := openLedger(ctx, cfg, tracker, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ledger.Close(); cerr != nil {
			logger.Warn("Close ledger", "error", cerr)
		}
	}()

	if err := ledger.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap %s ledger: %w", cfg.LedgerDriver, err)
	}
	attrs := []any{"driver", cfg.LedgerDriver}
	if v, ok := ledger.(schemaVersioner); ok {
		version, err := v.SchemaVersion(ctx)
		if err != nil {
			return fmt.Errorf("read %s schema version: %w", cfg.LedgerDriver, err)
		}
		attrs = append(attrs, "schema_version", version)
	}
	logger.Info("Ledger schema ready", attrs...)
	return nil
}

// schemaVersioner is a ledger that records a schema marker.
// *badgerledger.Ledger implements it.
type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (string, error)
}

// Replay republishes ledger indices whose results are missing from the cache.
//
// # Description
//
// Opens every store, probes them once and runs a single values.Replayer
// pass. The cache must be reachable, and the channel too unless DryRun is
// set. The ledger is only read.
//
// # Inputs
//
//   - ctx: Bounds the whole run.
//   - cfg: Service configuration.
//   - opts: Replay selection and dry-run flag.
//
// # Outputs
//
//   - values.ReplayResult: Counts, also when a step failed part way.
//   - error: Non-nil if a store could not be opened or a write failed.
func Replay(ctx context.Context, cfg Config, opts values.ReplayOptions) (values.ReplayResult, error) {
	cfg = applyConfigDefaults(cfg)
	logger := cfg.Logger.With("component", "replay")

	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return values.ReplayResult{}, err
	}
	defer func() {
		if cerr := stores.Close(); cerr != nil {
			logger.Warn("Close stores", "error", cerr)
		}
	}()

	connstate.NewMonitor(connstate.MonitorConfig{
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.ProbeTimeout,
	}, logger, stores.Probes()...).RunNow(ctx)

	replayer, err := values.NewReplayer(stores.Dependencies(), cfg.Placeholder, logger)
	if err != nil {
		return values.ReplayResult{}, err
	}
	return replayer.Replay(ctx, opts)
}
