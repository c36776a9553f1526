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
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// In-memory fakes
// =============================================================================

type fakeState struct {
	up atomic.Bool
}

func newFakeState(up bool) *fakeState {
	s := &fakeState{}
	s.up.Store(up)
	return s
}

func (s *fakeState) Available() bool { return s.up.Load() }

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	value   string
	err     error
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]string{}, value: DefaultPlaceholder}
}

func (c *memCache) SetPlaceholder(_ context.Context, index Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sets++
	c.entries[index.String()] = c.value
	return nil
}

func (c *memCache) Get(_ context.Context, index Index) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	v, ok := c.entries[index.String()]
	return v, ok, nil
}

func (c *memCache) GetAll(_ context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make(Snapshot, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out, nil
}

func (c *memCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

type memPublisher struct {
	mu        sync.Mutex
	published []Index
	err       error
}

func (p *memPublisher) Publish(_ context.Context, index Index) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, index)
	return nil
}

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type memLedger struct {
	mu      sync.Mutex
	records []Record
	err     error
	listErr error
	nilList bool
}

func (l *memLedger) Append(ctx context.Context, index Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, Record{Number: index})
	return nil
}

func (l *memLedger) List(_ context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	if l.nilList {
		return nil, nil
	}
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type stepCall struct {
	step Step
	err  error
}

type recordingObserver struct {
	mu          sync.Mutex
	steps       []stepCall
	submissions []error
}

func (o *recordingObserver) ObserveStep(step Step, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, stepCall{step: step, err: err})
}

func (o *recordingObserver) ObserveSubmission(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submissions = append(o.submissions, err)
}

type harness struct {
	cache        *memCache
	cacheState   *fakeState
	channel      *memPublisher
	channelState *fakeState
	ledger       *memLedger
	ledgerState  *fakeState
	observer     *recordingObserver
}

func newHarness() *harness {
	return &harness{
		cache:        newMemCache(),
		cacheState:   newFakeState(true),
		channel:      &memPublisher{},
		channelState: newFakeState(true),
		ledger:       &memLedger{},
		ledgerState:  newFakeState(true),
		observer:     &recordingObserver{},
	}
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		Cache:        h.cache,
		CacheState:   h.cacheState,
		Channel:      h.channel,
		ChannelState: h.channelState,
		Ledger:       h.ledger,
		LedgerState:  h.ledgerState,
	}
}
