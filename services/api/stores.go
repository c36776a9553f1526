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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/badgerledger"
	"github.com/AleutianAI/fibledger/services/values/connstate"
	"github.com/AleutianAI/fibledger/services/values/pgledger"
	"github.com/AleutianAI/fibledger/services/values/redisstore"
)

// LedgerStore is a ledger backend with its lifecycle operations.
// *pgledger.Ledger and *badgerledger.Ledger implement it.
type LedgerStore interface {
	values.Ledger
	Bootstrap(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ LedgerStore = (*pgledger.Ledger)(nil)
	_ LedgerStore = (*badgerledger.Ledger)(nil)

	_ schemaVersioner = (*badgerledger.Ledger)(nil)
)

// Stores holds the open connections to the cache, the channel and the
// ledger, each with its own connection tracker.
type Stores struct {
	Cache     *redisstore.Cache
	Publisher *redisstore.Publisher
	Ledger    LedgerStore

	CacheState   *connstate.Tracker
	ChannelState *connstate.Tracker
	LedgerState  *connstate.Tracker
}

// OpenStores connects to every dependency named by cfg.
//
// # Description
//
// The two Redis clients connect lazily; their trackers become Connected on
// the first successful command or probe. A PostgreSQL ledger that cannot be
// reached yet is kept so the monitor can bring it up later. The ledger
// schema is bootstrapped when the ledger is reachable.
//
// # Inputs
//
//   - ctx: Bounds the initial ledger connection and bootstrap.
//   - cfg: Defaults must already be applied.
//   - logger: Destination for startup warnings.
//
// # Outputs
//
//   - *Stores: Call Close when done.
//   - error: Non-nil if the ledger configuration is invalid or the ledger
//     cannot be opened at all.
func OpenStores(ctx context.Context, cfg Config, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Stores{
		CacheState:   connstate.NewTracker(string(values.DependencyCache)),
		ChannelState: connstate.NewTracker(string(values.DependencyChannel)),
		LedgerState:  connstate.NewTracker(string(values.DependencyLedger)),
	}

	cacheClient := redisstore.NewClient(cfg.Redis, s.CacheState)
	s.Cache = redisstore.NewCache(cacheClient, s.CacheState, redisstore.CacheConfig{
		HashKey:     cfg.CacheHashKey,
		Placeholder: cfg.Placeholder,
	})

	channelClient := redisstore.NewClient(cfg.Redis, s.ChannelState)
	s.Publisher = redisstore.NewPublisher(channelClient, s.ChannelState, cfg.Channel, logger)

	ledger, err := openLedger(ctx, cfg, s.LedgerState, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Ledger = ledger

	if err := s.Ledger.Bootstrap(ctx); err != nil {
		if !errors.Is(err, values.ErrDependencyUnavailable) {
			_ = s.Close()
			return nil, fmt.Errorf("bootstrap ledger: %w", err)
		}
		logger.Warn("Ledger not reachable at startup, schema will be created on first connection",
			"driver", cfg.LedgerDriver, "error", err)
	}
	return s, nil
}

func openLedger(ctx context.Context, cfg Config, tracker *connstate.Tracker, logger *slog.Logger) (LedgerStore, error) {
	switch cfg.LedgerDriver {
	case LedgerPostgres:
		ledger, err := pgledger.Open(ctx, cfg.Postgres, tracker, logger)
		if ledger == nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		if err != nil {
			logger.Warn("PostgreSQL not reachable at startup", "error", err)
		}
		return ledger, nil

	case LedgerBadger:
		badgerCfg := cfg.Badger
		if badgerCfg.Logger == nil {
			badgerCfg.Logger = logger
		}
		ledger, err := badgerledger.Open(badgerCfg, tracker, logger)
		if err != nil {
			return nil, fmt.Errorf("open badger ledger: %w", err)
		}
		return ledger, nil

	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

// Dependencies returns the stores in the shape the values package expects.
func (s *Stores) Dependencies() values.Dependencies {
	return values.Dependencies{
		Cache:        s.Cache,
		CacheState:   s.CacheState,
		Channel:      s.Publisher,
		ChannelState: s.ChannelState,
		Ledger:       s.Ledger,
		LedgerState:  s.LedgerState,
	}
}

// Trackers returns every tracker in reporting order.
func (s *Stores) Trackers() []*connstate.Tracker {
	return []*connstate.Tracker{s.CacheState, s.ChannelState, s.LedgerState}
}

// Probes returns one monitor probe per dependency.
func (s *Stores) Probes() []connstate.Probe {
	probes := []connstate.Probe{
		{Tracker: s.CacheState, Ping: s.Cache.Ping},
		{Tracker: s.ChannelState, Ping: s.Publisher.Ping},
	}
	if s.Ledger != nil {
		probes = append(probes, connstate.Probe{Tracker: s.LedgerState, Ping: s.Ledger.Ping})
	}
	return probes
}

// Close closes every connection and reports all failures.
func (s *Stores) Close() error {
	var errs []error
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	if s.Publisher != nil {
		errs = append(errs, s.Publisher.Close())
	}
	if s.Ledger != nil {
		errs = append(errs, s.Ledger.Close())
	}
	return errors.Join(errs...)
}
