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
	"fmt"
	"io"
	"net"
	"syscall"
)

// Sentinel errors for the submission pipeline.
var (
	// ErrValidation matches every *ValidationError. Validation failures never
	// cause a side effect.
	ErrValidation = errors.New("validation failed")

	// ErrDependencyUnavailable matches a *DependencyError for a store or
	// channel that is not reachable. Retrying is safe.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrInternal matches a *DependencyError raised by a reachable store
	// that failed for another reason.
	ErrInternal = errors.New("internal error")

	// ErrIndexTooHigh is returned when an index exceeds the ceiling.
	ErrIndexTooHigh = &ValidationError{Code: CodeIndexTooHigh, Reason: "index too high"}
)

// Validation codes.
const (
	CodeInvalidIndex = "INVALID_INDEX"
	CodeIndexTooHigh = "INDEX_TOO_HIGH"
)

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	// Code is a short machine-readable reason.
	Code string

	// Reason is the human-readable reason returned to callers.
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalidIndex(reason string) error {
	return &ValidationError{Code: CodeInvalidIndex, Reason: reason}
}

// Dependency names a backing store or channel.
type Dependency string

const (
	DependencyCache   Dependency = "cache"
	DependencyChannel Dependency = "channel"
	DependencyLedger  Dependency = "ledger"
)

// DependencyError wraps a failure raised by, or on behalf of, a dependency.
//
// # Description
//
// Unavailable separates "could not reach it" from "reached it and it
// failed". errors.Is(err, ErrDependencyUnavailable) holds for the former and
// errors.Is(err, ErrInternal) for the latter. The underlying cause stays
// reachable through Unwrap for logging.
type DependencyError struct {
	Dependency  Dependency
	Op          string
	Unavailable bool
	Err         error
}

func (e *DependencyError) Error() string {
	kind := "failed"
	if e.Unavailable {
		kind = "unavailable"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Dependency, e.Op, kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Dependency, e.Op, kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Is maps the error onto ErrDependencyUnavailable or ErrInternal.
func (e *DependencyError) Is(target error) bool {
	switch target {
	case ErrDependencyUnavailable:
		return e.Unavailable
	case ErrInternal:
		return !e.Unavailable
	}
	return false
}

// Unavailable builds a DependencyError for an unreachable dependency.
func Unavailable(dep Dependency, op string, err error) error {
	return &DependencyError{Dependency: dep, Op: op, Unavailable: true, Err: err}
}

// Internal builds a DependencyError for a reachable dependency that failed.
func Internal(dep Dependency, op string, err error) error {
	return &DependencyError{Dependency: dep, Op: op, Err: err}
}

// Classify wraps err as Unavailable when it looks like a connection-level
// failure and as Internal otherwise. Errors that are already a
// *DependencyError are returned unchanged.
func Classify(dep Dependency, op string, err error) error {
	if err == nil {
		return nil
	}
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return err
	}
	if IsConnectionError(err) {
		return Unavailable(dep, op, err)
	}
	return Internal(dep, op, err)
}

// IsConnectionError reports whether err is a transport-level failure:
// timeouts, cancellations, refused or reset connections and closed streams.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
