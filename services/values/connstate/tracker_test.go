// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connstate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edge struct {
	from, to State
}

func recordEdges(t *Tracker) func() []edge {
	var mu sync.Mutex
	var edges []edge
	t.OnTransition(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		edges = append(edges, edge{tr.From, tr.To})
	})
	return func() []edge {
		mu.Lock()
		defer mu.Unlock()
		out := make([]edge, len(edges))
		copy(out, edges)
		return out
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestTracker_StartsDisconnected(t *testing.T) {
	tr := NewTracker("cache")
	assert.Equal(t, "cache", tr.Name())
	assert.Equal(t, Disconnected, tr.State())
	assert.False(t, tr.Available())
	assert.NoError(t, tr.LastError())
}

func TestTracker_FullCycle(t *testing.T) {
	tr := NewTracker("ledger")
	edges := recordEdges(tr)

	tr.MarkConnecting()
	assert.Equal(t, Connecting, tr.State())
	assert.False(t, tr.Available())

	tr.MarkConnected()
	assert.True(t, tr.Available())

	cause := errors.New("connection reset")
	tr.MarkDisconnected(cause)
	assert.False(t, tr.Available())
	assert.Equal(t, cause, tr.LastError())

	assert.Equal(t, []edge{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connected, Disconnected},
	}, edges())
}

func TestTracker_ConnectedFromDisconnectedPassesThroughConnecting(t *testing.T) {
	tr := NewTracker("channel")
	edges := recordEdges(tr)

	tr.MarkConnected()

	assert.Equal(t, []edge{
		{Disconnected, Connecting},
		{Connecting, Connected},
	}, edges())
}

func TestTracker_IgnoredTransitions(t *testing.T) {
	tr := NewTracker("cache")
	edges := recordEdges(tr)

	tr.MarkDisconnected(errors.New("first"))
	assert.Empty(t, edges(), "disconnected to disconnected is not a transition")
	assert.EqualError(t, tr.LastError(), "first")

	tr.MarkConnected()
	tr.MarkConnected()
	tr.MarkConnecting()
	assert.Equal(t, Connected, tr.State())
	assert.Len(t, edges(), 2)
}

func TestTracker_ConnectedClearsLastError(t *testing.T) {
	tr := NewTracker("cache")
	tr.MarkConnected()
	tr.MarkDisconnected(errors.New("gone"))
	require.Error(t, tr.LastError())

	tr.MarkConnected()
	assert.NoError(t, tr.LastError())
}

func TestTracker_TransitionCarriesError(t *testing.T) {
	tr := NewTracker("ledger")
	tr.MarkConnected()

	var got Transition
	tr.OnTransition(func(x Transition) { got = x })

	cause := errors.New("dial tcp: refused")
	tr.MarkDisconnected(cause)

	assert.Equal(t, "ledger", got.Dependency)
	assert.Equal(t, Connected, got.From)
	assert.Equal(t, Disconnected, got.To)
	assert.Equal(t, cause, got.Err)
	assert.False(t, got.At.IsZero())
	assert.Equal(t, got.At, tr.Since())
}

func TestTracker_ListenerMayReadState(t *testing.T) {
	tr := NewTracker("cache")
	var observed State
	tr.OnTransition(func(x Transition) {
		observed = tr.State()
	})
	tr.MarkConnected()
	assert.Equal(t, Connected, observed)
}

func TestTracker_NilListenerIgnored(t *testing.T) {
	tr := NewTracker("cache")
	tr.OnTransition(nil)
	assert.NotPanics(t, tr.MarkConnected)
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker("cache")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); tr.MarkConnected() }()
		go func() { defer wg.Done(); tr.MarkDisconnected(errors.New("x")) }()
		go func() { defer wg.Done(); _ = tr.Available() }()
	}
	wg.Wait()
	tr.MarkConnected()
	assert.True(t, tr.Available())
}
