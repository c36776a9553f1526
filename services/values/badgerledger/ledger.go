// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// SchemaVersion is stored under the schema marker key.
const SchemaVersion = "1"

var (
	recordPrefix = []byte("ledger/")
	schemaKey    = []byte("meta/schema")
	sequenceKey  = []byte("seq/ledger")
)

// sequenceBandwidth is how many record numbers are leased per disk write.
const sequenceBandwidth = 128

// ErrClosed is returned by operations on a closed ledger.
var ErrClosed = errors.New("badger ledger is closed")

// Ledger is the BadgerDB-backed values.Ledger.
//
// # Thread Safety
//
// Safe for concurrent use. Record numbers come from a badger.Sequence, so
// concurrent appends never collide.
type Ledger struct {
	db      *badger.DB
	seq     *badger.Sequence
	gc      *gcLoop
	tracker *connstate.Tracker
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ values.Ledger = (*Ledger)(nil)

// Open opens the database and leases the record sequence.
//
// # Inputs
//
//   - cfg: Path or InMemory must be set.
//   - tracker: Marked Connected on success and Disconnected on Close. May be nil.
//   - logger: Nil means slog.Default().
//
// # Outputs
//
//   - *Ledger: Call Close when done.
//   - error: Non-nil if the database cannot be opened.
//
// # Examples
//
//	ledger, err := badgerledger.Open(badgerledger.InMemoryConfig(), tracker, nil)
//	if err != nil {
//	    return err
//	}
//	defer ledger.Close()
func Open(cfg Config, tracker *connstate.Tracker, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker != nil {
		tracker.MarkConnecting()
	}

	db, err := openDB(cfg)
	if err != nil {
		if tracker != nil {
			tracker.MarkDisconnected(err)
		}
		return nil, err
	}

	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		if tracker != nil {
			tracker.MarkDisconnected(err)
		}
		return nil, fmt.Errorf("lease ledger sequence: %w", err)
	}

	l := &Ledger{
		db:      db,
		seq:     seq,
		tracker: tracker,
		logger:  logger,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		l.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
	}
	if tracker != nil {
		tracker.MarkConnected()
	}
	return l, nil
}

// Bootstrap writes the schema marker if it is absent. An existing marker is
// left untouched, so running it repeatedly is harmless.
func (l *Ledger) Bootstrap(ctx context.Context) error {
	if err := l.ready(ctx); err != nil {
		return values.Unavailable(values.DependencyLedger, "bootstrap", err)
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(schemaKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(schemaKey, []byte(SchemaVersion))
	})
	if err != nil {
		return values.Internal(values.DependencyLedger, "bootstrap", err)
	}
	return nil
}

// SchemaVersion returns the stored schema marker, or "" before Bootstrap.
func (l *Ledger) SchemaVersion(ctx context.Context) (string, error) {
	if err := l.ready(ctx); err != nil {
		return "", values.Unavailable(values.DependencyLedger, "schema version", err)
	}
	var version string
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(schemaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		version = string(v)
		return err
	})
	if err != nil {
		return "", values.Internal(values.DependencyLedger, "schema version", err)
	}
	return version, nil
}

// Append stores one record for index under the next sequence number.
func (l *Ledger) Append(ctx context.Context, index values.Index) error {
	const op = "append"
	if err := l.ready(ctx); err != nil {
		return values.Unavailable(values.DependencyLedger, op, err)
	}

	n, err := l.seq.Next()
	if err != nil {
		return values.Internal(values.DependencyLedger, op, fmt.Errorf("next sequence: %w", err))
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(n), []byte(index.String()))
	})
	if err != nil {
		return values.Internal(values.DependencyLedger, op, err)
	}
	return nil
}

// List scans every record.
func (l *Ledger) List(ctx context.Context) ([]values.Record, error) {
	const op = "list"
	if err := l.ready(ctx); err != nil {
		return nil, values.Unavailable(values.DependencyLedger, op, err)
	}

	records := []values.Record{}
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(v []byte) error {
				idx, err := values.ParseIndex(string(v))
				if err != nil {
					return fmt.Errorf("record %x: %w", item.Key(), err)
				}
				records = append(records, values.Record{Number: idx})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, values.Classify(values.DependencyLedger, op, err)
	}
	return records, nil
}

// Ping reports ErrClosed after Close and nil otherwise.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.ready(ctx)
}

// Close stops GC, returns unused sequence numbers and closes the database.
// Safe to call more than once.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		if l.gc != nil {
			l.gc.Stop()
		}
		if err := l.seq.Release(); err != nil {
			l.logger.Warn("release ledger sequence", "error", err)
		}
		l.closeErr = l.db.Close()
		if l.tracker != nil {
			l.tracker.MarkDisconnected(ErrClosed)
		}
	})
	return l.closeErr
}

func (l *Ledger) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

func recordKey(n uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], n)
	return key
}
