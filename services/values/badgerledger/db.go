// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerledger implements the durable ledger over an embedded
// BadgerDB, for single-node deployments and tests that should not need a
// PostgreSQL server.
//
// Key layout:
//
//	meta/schema          schema version marker
//	seq/ledger           badger.Sequence backing record numbers
//	ledger/<uint64 BE>   one record; value is the index text
//
// Big-endian sequence keys make a prefix scan return records in append
// order, though callers must not rely on it.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds BadgerDB settings for the ledger.
type Config struct {
	// Path is the data directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. Data is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every commit. Default true for on-disk databases.
	SyncWrites bool

	// GCInterval runs value log GC on this schedule. Zero disables it.
	// Ignored in memory.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a value log rewrite.
	GCDiscardRatio float64

	// Logger receives Badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns on-disk settings rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for a throwaway ledger.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter routes Badger's printf-style logger into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (a slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (a slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (a slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

// openDB opens the database described by cfg.
func openDB(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("badger ledger: path is required unless in memory")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger ledger: %w", err)
	}
	return db, nil
}

// =============================================================================
// Value log GC
// =============================================================================

// gcLoop periodically rewrites the value log. Append-only data produces
// little garbage, so most rounds are no-ops.
type gcLoop struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func startGC(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcLoop {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	g := &gcLoop{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go g.run()
	return g
}

func (g *gcLoop) run() {
	defer close(g.done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if err := g.db.RunValueLogGC(g.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				g.logger.Warn("ledger value log GC failed", "error", err)
			}
		}
	}
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (g *gcLoop) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done
}
