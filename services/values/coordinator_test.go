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
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, h *harness) *Coordinator {
	t.Helper()
	coord, err := NewCoordinator(h.deps(), CoordinatorConfig{Observer: h.observer})
	require.NoError(t, err)
	return coord
}

// =============================================================================
// Construction
// =============================================================================

func TestNewCoordinator_RequiresStores(t *testing.T) {
	h := newHarness()

	deps := h.deps()
	deps.Cache = nil
	_, err := NewCoordinator(deps, CoordinatorConfig{})
	assert.Error(t, err)

	deps = h.deps()
	deps.Channel = nil
	_, err = NewCoordinator(deps, CoordinatorConfig{})
	assert.Error(t, err)

	deps = h.deps()
	deps.Ledger = nil
	_, err = NewCoordinator(deps, CoordinatorConfig{})
	assert.Error(t, err)
}

func TestNewCoordinator_Defaults(t *testing.T) {
	coord := newTestCoordinator(t, newHarness())
	assert.Equal(t, DefaultCeiling, coord.Ceiling())
	assert.Equal(t, 2*time.Second, coord.cfg.CacheTimeout)
	assert.Equal(t, 2*time.Second, coord.cfg.ChannelTimeout)
	assert.Equal(t, 5*time.Second, coord.cfg.LedgerTimeout)
}

// =============================================================================
// Success path
// =============================================================================

func TestSubmit_WritesAllThreeStores(t *testing.T) {
	h := newHarness()
	coord := newTestCoordinator(t, h)

	idx, err := coord.Submit(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, Index(5), idx)

	snap, _ := h.cache.GetAll(context.Background())
	assert.Equal(t, Snapshot{"5": DefaultPlaceholder}, snap)
	assert.Equal(t, []Index{5}, h.channel.published)
	assert.Equal(t, []Record{{Number: 5}}, h.ledger.records)

	require.Len(t, h.observer.steps, 3)
	assert.Equal(t, StepCache, h.observer.steps[0].step)
	assert.Equal(t, StepChannel, h.observer.steps[1].step)
	assert.Equal(t, StepLedger, h.observer.steps[2].step)
	assert.Equal(t, []error{nil}, h.observer.submissions)
}

func TestSubmit_AllIndicesUpToCeiling(t *testing.T) {
	h := newHarness()
	coord := newTestCoordinator(t, h)

	for n := 0; n <= 40; n++ {
		_, err := coord.Submit(context.Background(), Index(n).String())
		require.NoError(t, err, "index %d", n)
	}

	snap, _ := h.cache.GetAll(context.Background())
	assert.Len(t, snap, 41)
	assert.Equal(t, 41, h.ledger.count())
}

func TestSubmit_DuplicateIndex(t *testing.T) {
	h := newHarness()
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "7")
	require.NoError(t, err)
	_, err = coord.Submit(context.Background(), "7")
	require.NoError(t, err)

	snap, _ := h.cache.GetAll(context.Background())
	assert.Len(t, snap, 1)
	assert.Equal(t, 2, h.ledger.count())
	assert.Equal(t, 2, h.channel.count())
}

func TestSubmit_CustomCeiling(t *testing.T) {
	h := newHarness()
	ceiling := Index(10)
	coord, err := NewCoordinator(h.deps(), CoordinatorConfig{Ceiling: &ceiling})
	require.NoError(t, err)

	_, err = coord.Submit(context.Background(), "10")
	require.NoError(t, err)

	_, err = coord.Submit(context.Background(), "11")
	assert.ErrorIs(t, err, ErrIndexTooHigh)
}

func TestSubmit_ZeroCeilingAcceptsOnlyZero(t *testing.T) {
	h := newHarness()
	ceiling := Index(0)
	coord, err := NewCoordinator(h.deps(), CoordinatorConfig{Ceiling: &ceiling})
	require.NoError(t, err)
	assert.Equal(t, Index(0), coord.Ceiling())

	_, err = coord.Submit(context.Background(), "0")
	require.NoError(t, err)

	for _, input := range []string{"1", "40"} {
		_, err = coord.Submit(context.Background(), input)
		assert.ErrorIs(t, err, ErrIndexTooHigh, input)
	}

	snap, _ := h.cache.GetAll(context.Background())
	assert.Equal(t, Snapshot{"0": DefaultPlaceholder}, snap)
	assert.Equal(t, 1, h.channel.count())
	assert.Equal(t, 1, h.ledger.count())
}

func TestNewCoordinator_RejectsNegativeCeiling(t *testing.T) {
	ceiling := Index(-1)
	coord, err := NewCoordinator(newHarness().deps(), CoordinatorConfig{Ceiling: &ceiling})
	assert.Nil(t, coord)
	assert.ErrorContains(t, err, "negative ceiling")
}

func TestSubmit_ConcurrentSubmissions(t *testing.T) {
	h := newHarness()
	coord := newTestCoordinator(t, h)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := coord.Submit(context.Background(), Index(n%5).String())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, _ := h.cache.GetAll(context.Background())
	assert.Len(t, snap, 5)
	assert.Equal(t, 20, h.ledger.count())
}

// =============================================================================
// Validation
// =============================================================================

func TestSubmit_ValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode string
	}{
		{"too high", "41", CodeIndexTooHigh},
		{"way too high", "1000", CodeIndexTooHigh},
		{"past int64", "99999999999999999999", CodeIndexTooHigh},
		{"negative", "-3", CodeInvalidIndex},
		{"not a number", "abc", CodeInvalidIndex},
		{"empty", "", CodeInvalidIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			coord := newTestCoordinator(t, h)

			_, err := coord.Submit(context.Background(), tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantCode, vErr.Code)

			assert.Equal(t, 0, h.cache.sets)
			assert.Equal(t, 0, h.channel.count())
			assert.Equal(t, 0, h.ledger.count())
			assert.Empty(t, h.observer.steps)
		})
	}
}

func TestSubmit_ValidationWinsOverUnavailableStores(t *testing.T) {
	h := newHarness()
	h.cacheState.up.Store(false)
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "41")
	assert.ErrorIs(t, err, ErrIndexTooHigh)
}

// =============================================================================
// Dependency failures
// =============================================================================

func TestSubmit_CacheUnavailable_NoWrites(t *testing.T) {
	h := newHarness()
	h.cacheState.up.Store(false)
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, DependencyCache, depErr.Dependency)

	assert.Equal(t, 0, h.cache.sets)
	assert.Equal(t, 0, h.channel.count())
	assert.Equal(t, 0, h.ledger.count())
}

func TestSubmit_ChannelUnavailable_FailsBeforeCacheWrite(t *testing.T) {
	h := newHarness()
	h.channelState.up.Store(false)
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "5")
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, DependencyChannel, depErr.Dependency)
	assert.True(t, depErr.Unavailable)

	assert.Equal(t, 0, h.cache.sets)
	assert.Equal(t, 0, h.ledger.count())
}

func TestSubmit_CacheWriteFails(t *testing.T) {
	h := newHarness()
	h.cache.err = &netError{}
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "5")
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.Equal(t, 0, h.channel.count())
	assert.Equal(t, 0, h.ledger.count())
}

func TestSubmit_PublishFails_PlaceholderRemains(t *testing.T) {
	h := newHarness()
	h.channel.err = syscall.ECONNRESET
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "9")
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	v, found, _ := h.cache.Get(context.Background(), 9)
	assert.True(t, found)
	assert.Equal(t, DefaultPlaceholder, v)
	assert.Equal(t, 0, h.ledger.count())
}

func TestSubmit_LedgerUnavailable_CacheEntryRemains(t *testing.T) {
	h := newHarness()
	h.ledgerState.up.Store(false)
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "12")
	require.Error(t, err)

	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, DependencyLedger, depErr.Dependency)
	assert.True(t, depErr.Unavailable)

	v, found, _ := h.cache.Get(context.Background(), 12)
	assert.True(t, found)
	assert.Equal(t, DefaultPlaceholder, v)
	assert.Equal(t, 1, h.channel.count())
	assert.Equal(t, 0, h.ledger.count())
}

func TestSubmit_LedgerDriverError_IsInternal(t *testing.T) {
	h := newHarness()
	h.ledger.err = errors.New("relation does not exist")
	coord := newTestCoordinator(t, h)

	_, err := coord.Submit(context.Background(), "3")
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrDependencyUnavailable)

	require.Len(t, h.observer.steps, 3)
	assert.Error(t, h.observer.steps[2].err)
	require.Len(t, h.observer.submissions, 1)
	assert.Error(t, h.observer.submissions[0])
}

func TestSubmit_CancelledContext(t *testing.T) {
	h := newHarness()
	coord := newTestCoordinator(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coord.Submit(ctx, "4")
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.cache.sets)
}

// netError satisfies net.Error.
type netError struct{}

func (*netError) Error() string   { return "i/o timeout" }
func (*netError) Timeout() bool   { return true }
func (*netError) Temporary() bool { return true }
