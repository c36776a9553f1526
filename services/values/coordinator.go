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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/AleutianAI/fibledger/services/values"

// =============================================================================
// Configuration
// =============================================================================

// CoordinatorConfig tunes the submission pipeline.
type CoordinatorConfig struct {
	// Ceiling is the largest accepted index. Nil means DefaultCeiling;
	// an explicit zero accepts only index 0.
	Ceiling *Index

	// CacheTimeout bounds the placeholder write. Zero means 2s.
	CacheTimeout time.Duration

	// ChannelTimeout bounds the publish. Zero means 2s.
	ChannelTimeout time.Duration

	// LedgerTimeout bounds the ledger append. Zero means 5s.
	LedgerTimeout time.Duration

	// Observer receives step outcomes. Nil means no observation.
	Observer Observer

	// Logger is used for step failures. Nil means slog.Default().
	Logger *slog.Logger
}

func applyCoordinatorDefaults(cfg *CoordinatorConfig) {
	if cfg.Ceiling == nil {
		ceiling := DefaultCeiling
		cfg.Ceiling = &ceiling
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = 2 * time.Second
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 2 * time.Second
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 5 * time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Dependencies are the stores a Coordinator writes to. The state fields may
// be nil for stores that are always considered reachable.
type Dependencies struct {
	Cache        ResultCache
	CacheState   Availability
	Channel      Publisher
	ChannelState Availability
	Ledger       Ledger
	LedgerState  Availability
}

func (d Dependencies) validate() error {
	if d.Cache == nil {
		return errors.New("values: nil cache")
	}
	if d.Channel == nil {
		return errors.New("values: nil channel")
	}
	if d.Ledger == nil {
		return errors.New("values: nil ledger")
	}
	return nil
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator accepts submissions and fans them out to the cache, the
// notification channel and the ledger.
type Coordinator struct {
	deps    Dependencies
	cfg     CoordinatorConfig
	ceiling Index
	tracer  trace.Tracer
}

// NewCoordinator creates a Coordinator.
//
// # Inputs
//
//   - deps: Cache, Channel and Ledger are required.
//   - cfg: Zero values take defaults.
//
// # Outputs
//
//   - *Coordinator: Ready for concurrent use.
//   - error: Non-nil if a required dependency is missing or the ceiling
//     is negative.
func NewCoordinator(deps Dependencies, cfg CoordinatorConfig) (*Coordinator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	applyCoordinatorDefaults(&cfg)
	if *cfg.Ceiling < 0 {
		return nil, fmt.Errorf("values: negative ceiling %d", *cfg.Ceiling)
	}
	return &Coordinator{
		deps:    deps,
		cfg:     cfg,
		ceiling: *cfg.Ceiling,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Ceiling returns the largest accepted index.
func (c *Coordinator) Ceiling() Index {
	return c.ceiling
}

// Submit validates indexText and records it.
//
// # Description
//
// Validation happens before any store is touched. The cache and channel
// states are then consulted together so a submission does not start when
// the second write is already known to fail. The ledger state is only
// consulted when its step is reached.
//
// Each write runs under its own timeout derived from ctx. The first failing
// step ends the submission; earlier writes remain in place.
//
// # Inputs
//
//   - ctx: Request context. Cancellation fails the next step.
//   - indexText: Index as received from the caller.
//
// # Outputs
//
//   - Index: The parsed index, also on dependency failure.
//   - error: *ValidationError, or *DependencyError naming the failing step.
//
// # Examples
//
//	idx, err := coord.Submit(ctx, "5")
//	if errors.Is(err, values.ErrDependencyUnavailable) {
//	    // retry later
//	}
func (c *Coordinator) Submit(ctx context.Context, indexText string) (idx Index, err error) {
	ctx, span := c.tracer.Start(ctx, "values.Submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		c.cfg.Observer.ObserveSubmission(err)
	}()

	idx, err = c.validate(indexText)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("fibledger.index", int64(idx)))

	if !available(c.deps.CacheState) {
		return idx, Unavailable(DependencyCache, "precheck", nil)
	}
	if !available(c.deps.ChannelState) {
		return idx, Unavailable(DependencyChannel, "precheck", nil)
	}

	if err = c.step(ctx, StepCache, c.deps.CacheState, DependencyCache, "set placeholder", c.cfg.CacheTimeout,
		func(stepCtx context.Context) error { return c.deps.Cache.SetPlaceholder(stepCtx, idx) }); err != nil {
		return idx, err
	}

	if err = c.step(ctx, StepChannel, c.deps.ChannelState, DependencyChannel, "publish", c.cfg.ChannelTimeout,
		func(stepCtx context.Context) error { return c.deps.Channel.Publish(stepCtx, idx) }); err != nil {
		return idx, err
	}

	if err = c.step(ctx, StepLedger, c.deps.LedgerState, DependencyLedger, "append", c.cfg.LedgerTimeout,
		func(stepCtx context.Context) error { return c.deps.Ledger.Append(stepCtx, idx) }); err != nil {
		return idx, err
	}

	return idx, nil
}

func (c *Coordinator) validate(indexText string) (Index, error) {
	idx, err := ParseIndex(indexText)
	if err != nil {
		return 0, err
	}
	if idx > c.ceiling {
		return 0, ErrIndexTooHigh
	}
	return idx, nil
}

// step runs one write under its own span and timeout.
func (c *Coordinator) step(
	ctx context.Context,
	step Step,
	state Availability,
	dep Dependency,
	op string,
	timeout time.Duration,
	fn func(context.Context) error,
) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "values.step."+string(step))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.cfg.Logger.Warn("submission step failed",
				"step", string(step),
				"error", err,
			)
		}
		span.End()
		c.cfg.Observer.ObserveStep(step, time.Since(start), err)
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Unavailable(dep, op, ctxErr)
	}
	if !available(state) {
		return Unavailable(dep, op, nil)
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return Classify(dep, op, fn(stepCtx))
}
