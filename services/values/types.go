// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package values implements the submission pipeline for fibledger.
//
// A submission names a small non-negative integer index. Accepting it
// touches three backing stores in a fixed order:
//
//	Submit("5")
//	   │
//	   ├─► ResultCache.SetPlaceholder(5)   "5" → "pending"
//	   │
//	   ├─► Publisher.Publish(5)            topic "insert", payload "5"
//	   │
//	   └─► Ledger.Append(5)                durable row {number: 5}
//
// The three writes are not transactional. The first failing step aborts the
// submission and completed steps are never undone, so a failed submission may
// leave a placeholder and an in-flight notification behind without a ledger
// row. Callers treat any failure as "status unknown, retry is safe".
//
// Computing the result for an index is done by an external worker that
// listens on the channel and overwrites the cache entry. Nothing in this
// package waits for it.
//
// # Thread Safety
//
// Coordinator, Query and Replayer hold no mutable state after construction
// and are safe for concurrent use. Concurrent submissions are not serialized.
package values

import (
	"errors"
	"strconv"
	"strings"
)

// DefaultCeiling is the largest index accepted for submission.
const DefaultCeiling Index = 40

// DefaultPlaceholder is the cache value written at submission time, before a
// worker has computed the real result.
const DefaultPlaceholder = "pending"

// Index identifies a unit of work. It is textual at the wire and cache
// boundaries and numeric everywhere else.
type Index int64

// String returns the decimal form used as the cache key and channel payload.
func (i Index) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// ParseIndex parses the textual form of an index.
//
// # Description
//
// Surrounding whitespace is ignored. The remainder must be a base-10
// integer that is not negative. An integer too large for 64 bits is
// reported as ErrIndexTooHigh, since it exceeds any ceiling.
//
// # Inputs
//
//   - text: Index as received from the caller, e.g. "5" or " 12 ".
//
// # Outputs
//
//   - Index: The parsed index.
//   - error: *ValidationError with code INVALID_INDEX on failure, or
//     ErrIndexTooHigh for an integer past the 64-bit range.
//
// # Examples
//
//	idx, err := ParseIndex("7")   // 7, nil
//	_, err = ParseIndex("seven")  // INVALID_INDEX
//	_, err = ParseIndex("-1")     // INVALID_INDEX
//	_, err = ParseIndex("99999999999999999999") // ErrIndexTooHigh
func ParseIndex(text string) (Index, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, invalidIndex("index is required")
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		// A well-formed positive integer past int64 is above every ceiling.
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) && isDigits(strings.TrimPrefix(trimmed, "+")) {
			return 0, ErrIndexTooHigh
		}
		return 0, invalidIndex("index must be an integer")
	}
	if n < 0 {
		return 0, invalidIndex("index must be non-negative")
	}
	return Index(n), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Record is one immutable ledger row. The ledger keeps one record per
// accepted submission, so the same number may appear many times.
type Record struct {
	Number Index `json:"number"`
}

// Snapshot is the cache contents keyed by index text. Values are either the
// placeholder or a result written back by a worker.
type Snapshot map[string]string
