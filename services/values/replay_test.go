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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger(h *harness, numbers ...Index) {
	for _, n := range numbers {
		h.ledger.records = append(h.ledger.records, Record{Number: n})
	}
}

func TestReplay_RepublishesMissingEntries(t *testing.T) {
	h := newHarness()
	seedLedger(h, 3, 5, 3, 8)
	h.cache.put("5", "5")

	r, err := NewReplayer(h.deps(), "", nil)
	require.NoError(t, err)

	res, err := r.Replay(context.Background(), ReplayOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 3, res.Distinct)
	assert.Equal(t, 2, res.Republished)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []Index{3, 8}, res.Indices)
	assert.Equal(t, []Index{3, 8}, h.channel.published)

	v, found, _ := h.cache.Get(context.Background(), 3)
	assert.True(t, found)
	assert.Equal(t, DefaultPlaceholder, v)

	v, _, _ = h.cache.Get(context.Background(), 5)
	assert.Equal(t, "5", v, "computed results are not overwritten")
}

func TestReplay_PendingOnly(t *testing.T) {
	h := newHarness()
	seedLedger(h, 1, 2, 3)
	h.cache.put("1", DefaultPlaceholder)
	h.cache.put("2", "1")

	r, _ := NewReplayer(h.deps(), DefaultPlaceholder, nil)

	res, err := r.Replay(context.Background(), ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Index{3}, res.Indices)

	h.channel.published = nil
	res, err = r.Replay(context.Background(), ReplayOptions{PendingOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []Index{1, 3}, res.Indices)
	assert.Equal(t, 1, res.Skipped)
}

func TestReplay_NeverAppendsToLedger(t *testing.T) {
	h := newHarness()
	seedLedger(h, 4, 4, 6)

	r, _ := NewReplayer(h.deps(), "", nil)
	_, err := r.Replay(context.Background(), ReplayOptions{PendingOnly: true})
	require.NoError(t, err)

	assert.Equal(t, 3, h.ledger.count())
}

func TestReplay_DryRun(t *testing.T) {
	h := newHarness()
	seedLedger(h, 2, 9)
	h.channelState.up.Store(false)

	r, _ := NewReplayer(h.deps(), "", nil)
	res, err := r.Replay(context.Background(), ReplayOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Republished)
	assert.Equal(t, 0, h.cache.sets)
	assert.Equal(t, 0, h.channel.count())
}

func TestReplay_EmptyLedger(t *testing.T) {
	h := newHarness()
	r, _ := NewReplayer(h.deps(), "", nil)

	res, err := r.Replay(context.Background(), ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	assert.NotNil(t, res.Indices)
}

func TestReplay_Failures(t *testing.T) {
	t.Run("cache down", func(t *testing.T) {
		h := newHarness()
		h.cacheState.up.Store(false)
		r, _ := NewReplayer(h.deps(), "", nil)
		_, err := r.Replay(context.Background(), ReplayOptions{})
		assert.ErrorIs(t, err, ErrDependencyUnavailable)
	})

	t.Run("channel down", func(t *testing.T) {
		h := newHarness()
		h.channelState.up.Store(false)
		r, _ := NewReplayer(h.deps(), "", nil)
		_, err := r.Replay(context.Background(), ReplayOptions{})
		assert.ErrorIs(t, err, ErrDependencyUnavailable)
	})

	t.Run("ledger list error", func(t *testing.T) {
		h := newHarness()
		h.ledger.listErr = errors.New("permission denied for table values")
		r, _ := NewReplayer(h.deps(), "", nil)
		_, err := r.Replay(context.Background(), ReplayOptions{})
		assert.ErrorIs(t, err, ErrInternal)
	})

	t.Run("publish error stops the pass", func(t *testing.T) {
		h := newHarness()
		seedLedger(h, 1, 2)
		h.channel.err = errors.New("ERR unknown command")
		r, _ := NewReplayer(h.deps(), "", nil)
		res, err := r.Replay(context.Background(), ReplayOptions{})
		assert.ErrorIs(t, err, ErrInternal)
		assert.Equal(t, 0, res.Republished)
	})
}
