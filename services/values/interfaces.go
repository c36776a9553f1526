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
	"time"
)

// =============================================================================
// Store Interfaces
// =============================================================================

// ResultCache is the volatile index → result mapping.
//
// # Description
//
// Entries are keyed by Index.String(). Writing an index again overwrites the
// previous value. Workers overwrite placeholders with computed results
// through the same key space; this package never deletes entries.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ResultCache interface {
	// SetPlaceholder writes the placeholder value for index.
	SetPlaceholder(ctx context.Context, index Index) error

	// Get returns the value stored for index and whether one exists.
	Get(ctx context.Context, index Index) (string, bool, error)

	// GetAll returns every entry. An empty cache yields an empty Snapshot.
	GetAll(ctx context.Context) (Snapshot, error)
}

// Publisher announces newly accepted indices to workers.
//
// # Description
//
// Publish is a one-way, best-effort send. It succeeds once the transport has
// accepted the message; whether any worker was listening is not observed and
// a message published with no subscribers is simply lost.
type Publisher interface {
	Publish(ctx context.Context, index Index) error
}

// Ledger is the append-only durable history of submissions.
//
// # Description
//
// Append creates one record per call; duplicates are expected. List returns
// every record in no particular order. There is no update or delete.
type Ledger interface {
	Append(ctx context.Context, index Index) error
	List(ctx context.Context) ([]Record, error)
}

// Availability reports whether a dependency's connection is currently
// established. connstate.Tracker implements it.
type Availability interface {
	Available() bool
}

// =============================================================================
// Observation
// =============================================================================

// Step names one write in the submission sequence.
type Step string

const (
	StepCache   Step = "cache"
	StepChannel Step = "channel"
	StepLedger  Step = "ledger"
)

// Observer receives per-step and per-submission outcomes. The api layer
// adapts it onto Prometheus.
type Observer interface {
	// ObserveStep is called after every attempted write.
	ObserveStep(step Step, elapsed time.Duration, err error)

	// ObserveSubmission is called once per Submit call with its final error.
	ObserveSubmission(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(Step, time.Duration, error) {}
func (nopObserver) ObserveSubmission(error)                {}

// available treats a nil Availability as always available, for stores that
// have no connection to lose.
func available(a Availability) bool {
	return a == nil || a.Available()
}
