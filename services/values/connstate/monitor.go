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
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrMonitorRunning is returned by Start when the monitor is already running.
var ErrMonitorRunning = errors.New("monitor is already running")

// PingFunc checks a dependency. A nil error means it answered.
type PingFunc func(ctx context.Context) error

// Probe pairs a Tracker with the check that drives it.
type Probe struct {
	Tracker *Tracker
	Ping    PingFunc
}

// MonitorConfig holds the probe schedule.
//
// # Fields
//
//   - Interval: Time between probe rounds. Default: 5s.
//   - Timeout: Deadline for a single ping. Default: 2s.
type MonitorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultMonitorConfig returns the default probe schedule.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 5 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// Monitor pings every probe on an interval and records the outcome on its
// tracker.
//
// # Description
//
// Client callbacks catch most transitions as they happen. The monitor covers
// the cases they cannot: a dependency that comes back while nothing is
// talking to it, and a connection that dies silently. Probes in one round
// run concurrently.
//
// # Thread Safety
//
// Start, Stop and RunNow are safe for concurrent use.
type Monitor struct {
	probes []Probe
	config MonitorConfig
	logger *slog.Logger

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	running bool
}

// NewMonitor creates a Monitor. Zero config fields take defaults.
func NewMonitor(config MonitorConfig, logger *slog.Logger, probes ...Probe) *Monitor {
	defaults := DefaultMonitorConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probes: probes,
		config: config,
		logger: logger,
	}
}

// Start launches the probe loop. The first round runs immediately.
//
// # Outputs
//
//   - error: ErrMonitorRunning if already started.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrMonitorRunning
	}
	m.running = true
	m.done = make(chan struct{})
	m.stopped = make(chan struct{})
	done, stopped := m.done, m.stopped
	m.mu.Unlock()

	m.logger.Info("connection monitor starting",
		"interval", m.config.Interval.String(),
		"timeout", m.config.Timeout.String(),
		"probes", len(m.probes),
	)

	go m.runLoop(ctx, done, stopped)
	return nil
}

// Stop ends the probe loop and waits for the current round to finish. Safe
// to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	stopped := m.stopped
	m.mu.Unlock()

	<-stopped
	m.logger.Info("connection monitor stopped")
}

// RunNow runs one probe round synchronously.
func (m *Monitor) RunNow(ctx context.Context) {
	m.probeAll(ctx)
}

func (m *Monitor) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)
	defer m.finish(done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.probeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// finish clears the running flag when the loop that owns done exits on its
// own, so a cancelled monitor can be started again.
func (m *Monitor) finish(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == done {
		m.running = false
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	var g errgroup.Group
	for _, p := range m.probes {
		g.Go(func() error {
			m.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) probe(ctx context.Context, p Probe) {
	if p.Tracker == nil || p.Ping == nil {
		return
	}
	p.Tracker.MarkConnecting()

	pingCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		if p.Tracker.Available() {
			m.logger.Warn("dependency probe failed",
				"dependency", p.Tracker.Name(),
				"error", err,
			)
		}
		p.Tracker.MarkDisconnected(err)
		return
	}
	p.Tracker.MarkConnected()
}
