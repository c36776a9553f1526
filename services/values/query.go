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
	"errors"
)

// Query serves read-only views of the cache and the ledger. Reads never wait
// for computation.
type Query struct {
	cache      ResultCache
	cacheState Availability
	ledger     Ledger
}

// NewQuery creates a Query over the same stores a Coordinator writes to.
// Only Cache, CacheState and Ledger are used.
func NewQuery(deps Dependencies) (*Query, error) {
	if deps.Cache == nil {
		return nil, errors.New("values: nil cache")
	}
	if deps.Ledger == nil {
		return nil, errors.New("values: nil ledger")
	}
	return &Query{cache: deps.Cache, cacheState: deps.CacheState, ledger: deps.Ledger}, nil
}

// Current returns the cache snapshot.
//
// Entries may be the placeholder or a worker-written result. Fails with
// ErrDependencyUnavailable when the cache is not connected.
func (q *Query) Current(ctx context.Context) (Snapshot, error) {
	if !available(q.cacheState) {
		return nil, Unavailable(DependencyCache, "get all", nil)
	}
	snap, err := q.cache.GetAll(ctx)
	if err != nil {
		return nil, Classify(DependencyCache, "get all", err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}

// History returns every ledger record in no particular order. The cache's
// state has no bearing on it. The result is never nil.
func (q *Query) History(ctx context.Context) ([]Record, error) {
	records, err := q.ledger.List(ctx)
	if err != nil {
		return nil, Classify(DependencyLedger, "list", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
