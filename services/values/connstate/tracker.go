// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connstate tracks whether each backing dependency is connected.
//
// Each dependency owns one Tracker, driven by lifecycle callbacks from its
// client (dial hooks, pool callbacks) and by a Monitor that pings it on an
// interval:
//
//	Disconnected ──► Connecting ──► Connected
//	     ▲                              │
//	     └──────────────────────────────┘
//
// Callers ask Available() instead of keeping their own flags.
package connstate

import (
	"sync"
	"time"
)

// State is the connection state of one dependency.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transition describes one state change.
type Transition struct {
	Dependency string
	From       State
	To         State
	Err        error
	At         time.Time
}

// Listener is notified after every transition. Listeners run synchronously
// on the goroutine that caused the transition, outside the tracker lock.
type Listener func(Transition)

// Tracker holds the state of one dependency.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracker struct {
	name string

	mu        sync.RWMutex
	state     State
	since     time.Time
	lastErr   error
	listeners []Listener

	now func() time.Time
}

// NewTracker creates a Tracker in the Disconnected state.
func NewTracker(name string) *Tracker {
	t := &Tracker{name: name, now: time.Now}
	t.since = t.now()
	return t
}

// Name returns the dependency name.
func (t *Tracker) Name() string {
	return t.name
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Available reports whether the dependency is Connected.
func (t *Tracker) Available() bool {
	return t.State() == Connected
}

// Since returns when the current state was entered.
func (t *Tracker) Since() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.since
}

// LastError returns the error recorded by the most recent MarkDisconnected.
func (t *Tracker) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

// OnTransition registers fn for future transitions.
func (t *Tracker) OnTransition(fn Listener) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// MarkConnecting records a connection attempt. Ignored while Connected or
// already Connecting.
func (t *Tracker) MarkConnecting() {
	t.transition(func(cur State) []State {
		if cur != Disconnected {
			return nil
		}
		return []State{Connecting}
	}, nil)
}

// MarkConnected records an established connection. From Disconnected the
// tracker passes through Connecting so listeners see every edge.
func (t *Tracker) MarkConnected() {
	t.transition(func(cur State) []State {
		switch cur {
		case Disconnected:
			return []State{Connecting, Connected}
		case Connecting:
			return []State{Connected}
		}
		return nil
	}, nil)
}

// MarkDisconnected records a lost or failed connection. While already
// Disconnected only the error is updated.
func (t *Tracker) MarkDisconnected(err error) {
	t.transition(func(cur State) []State {
		if cur == Disconnected {
			return nil
		}
		return []State{Disconnected}
	}, err)
}

func (t *Tracker) transition(next func(State) []State, err error) {
	t.mu.Lock()
	if err != nil {
		t.lastErr = err
	}
	steps := next(t.state)
	if len(steps) == 0 {
		t.mu.Unlock()
		return
	}

	fired := make([]Transition, 0, len(steps))
	for _, to := range steps {
		tr := Transition{
			Dependency: t.name,
			From:       t.state,
			To:         to,
			At:         t.now(),
		}
		if to == Disconnected {
			tr.Err = err
		}
		t.state = to
		t.since = tr.At
		fired = append(fired, tr)
	}
	if t.state == Connected {
		t.lastErr = nil
	}
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, tr := range fired {
		for _, fn := range listeners {
			fn(tr)
		}
	}
}
