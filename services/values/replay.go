// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package values

import (
	"context"
	"log/slog"
	"sort"
)

// ReplayOptions selects which ledger indices are announced again.
type ReplayOptions struct {
	// PendingOnly also republishes indices whose cache entry still holds the
	// placeholder. Indices with no cache entry are always republished.
	PendingOnly bool

	// DryRun counts what would be republished without writing anything.
	DryRun bool
}

// ReplayResult summarizes one Replay run.
type ReplayResult struct {
	Scanned     int     `json:"scanned"`
	Distinct    int     `json:"distinct"`
	Republished int     `json:"republished"`
	Skipped     int     `json:"skipped"`
	Indices     []Index `json:"indices"`
}

// Replayer rebuilds cache placeholders and notifications from the ledger.
//
// # Description
//
// A worker that missed a notification leaves its index without a result.
// Replay reads the ledger, de-duplicates the indices and, for each one whose
// cache entry is missing (or still pending, with PendingOnly), writes the
// placeholder and publishes the index again. The ledger is only read.
type Replayer struct {
	deps        Dependencies
	placeholder string
	logger      *slog.Logger
}

// NewReplayer creates a Replayer. placeholder is the value that marks an
// entry as pending; empty means DefaultPlaceholder.
func NewReplayer(deps Dependencies, placeholder string, logger *slog.Logger) (*Replayer, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{deps: deps, placeholder: placeholder, logger: logger}, nil
}

// Replay runs one pass over the ledger.
//
// # Outputs
//
//   - ReplayResult: Counts so far, also on error.
//   - error: First dependency failure. Indices after it are not attempted.
func (r *Replayer) Replay(ctx context.Context, opts ReplayOptions) (ReplayResult, error) {
	result := ReplayResult{Indices: []Index{}}

	if !available(r.deps.CacheState) {
		return result, Unavailable(DependencyCache, "precheck", nil)
	}
	if !available(r.deps.ChannelState) && !opts.DryRun {
		return result, Unavailable(DependencyChannel, "precheck", nil)
	}

	records, err := r.deps.Ledger.List(ctx)
	if err != nil {
		return result, Classify(DependencyLedger, "list", err)
	}
	result.Scanned = len(records)

	seen := make(map[Index]struct{}, len(records))
	distinct := make([]Index, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.Number]; ok {
			continue
		}
		seen[rec.Number] = struct{}{}
		distinct = append(distinct, rec.Number)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })
	result.Distinct = len(distinct)

	for _, idx := range distinct {
		if err := ctx.Err(); err != nil {
			return result, Unavailable(DependencyCache, "replay", err)
		}

		value, found, err := r.deps.Cache.Get(ctx, idx)
		if err != nil {
			return result, Classify(DependencyCache, "get", err)
		}
		if !r.needsReplay(value, found, opts) {
			result.Skipped++
			continue
		}

		if !opts.DryRun {
			if err := r.deps.Cache.SetPlaceholder(ctx, idx); err != nil {
				return result, Classify(DependencyCache, "set placeholder", err)
			}
			if err := r.deps.Channel.Publish(ctx, idx); err != nil {
				return result, Classify(DependencyChannel, "publish", err)
			}
		}
		result.Republished++
		result.Indices = append(result.Indices, idx)
	}

	r.logger.Info("ledger replay finished",
		"scanned", result.Scanned,
		"distinct", result.Distinct,
		"republished", result.Republished,
		"skipped", result.Skipped,
		"dry_run", opts.DryRun,
	)
	return result, nil
}

func (r *Replayer) needsReplay(value string, found bool, opts ReplayOptions) bool {
	if !found {
		return true
	}
	return opts.PendingOnly && value == r.placeholder
}
