// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the values API.
//
// # Description
//
// Metrics include:
//   - Submission counters by outcome
//   - Per-step latency histograms for the cache, channel and ledger writes
//   - Query counters for the history and snapshot endpoints
//   - A connection state gauge per dependency
//
// # Integration
//
// Metrics register on the registry passed to NewMetrics, which the service
// exposes at /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "fibledger"

const (
	submissionSubsystem = "submission"
	querySubsystem      = "query"
	dependencySubsystem = "dependency"
)

// Metrics holds the Prometheus collectors for the values API.
//
// # Description
//
// Implements values.Observer so the coordinator reports into it directly.
// A nil *Metrics is valid and records nothing.
//
// # Fields
//
//   - SubmissionsTotal: Submissions by outcome
//   - StepDurationSeconds: Step latency by step and status
//   - StepFailuresTotal: Step failures by step and kind
//   - QueriesTotal: Reads by query and status
//   - DependencyState: Current connstate.State per dependency
//   - DependencyTransitionsTotal: State changes by dependency and target state
//   - RateLimitedTotal: Submissions refused by the rate limiter
type Metrics struct {
	// SubmissionsTotal counts submissions.
	// Labels: outcome (accepted, rejected, unavailable, failed)
	SubmissionsTotal *prometheus.CounterVec

	// StepDurationSeconds measures each pipeline step.
	// Labels: step (cache, channel, ledger), status (success, error)
	StepDurationSeconds *prometheus.HistogramVec

	// StepFailuresTotal counts failed steps.
	// Labels: step, kind (unavailable, internal)
	StepFailuresTotal *prometheus.CounterVec

	// QueriesTotal counts reads.
	// Labels: query (history, current), status (success, error)
	QueriesTotal *prometheus.CounterVec

	// DependencyState is 0 disconnected, 1 connecting, 2 connected.
	// Labels: dependency (cache, channel, ledger)
	DependencyState *prometheus.GaugeVec

	// DependencyTransitionsTotal counts state changes.
	// Labels: dependency, state
	DependencyTransitionsTotal *prometheus.CounterVec

	// RateLimitedTotal counts submissions refused with 429.
	RateLimitedTotal prometheus.Counter
}

var _ values.Observer = (*Metrics)(nil)

// NewMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Use a fresh prometheus.NewRegistry() per
//     service instance; registering twice on the same registry panics.
//
// # Outputs
//
//   - *Metrics: The initialized metrics.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: submissionSubsystem,
				Name:      "total",
				Help:      "Total submissions by outcome",
			},
			[]string{"outcome"},
		),

		StepDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: submissionSubsystem,
				Name:      "step_duration_seconds",
				Help:      "Duration of each submission step in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"step", "status"},
		),

		StepFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: submissionSubsystem,
				Name:      "step_failures_total",
				Help:      "Failed submission steps by step and kind",
			},
			[]string{"step", "kind"},
		),

		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "total",
				Help:      "Total read queries by query and status",
			},
			[]string{"query", "status"},
		),

		DependencyState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: dependencySubsystem,
				Name:      "state",
				Help:      "Connection state per dependency (0 disconnected, 1 connecting, 2 connected)",
			},
			[]string{"dependency"},
		),

		DependencyTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dependencySubsystem,
				Name:      "transitions_total",
				Help:      "Connection state changes by dependency and target state",
			},
			[]string{"dependency", "state"},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: submissionSubsystem,
				Name:      "rate_limited_total",
				Help:      "Submissions refused by the rate limiter",
			},
		),
	}
}

// =============================================================================
// Outcomes
// =============================================================================

// Outcome labels for SubmissionsTotal.
const (
	OutcomeAccepted    = "accepted"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Query labels for QueriesTotal.
const (
	QueryHistory = "history"
	QueryCurrent = "current"
)

// Outcome maps a submission error to its SubmissionsTotal label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, values.ErrValidation):
		return OutcomeRejected
	case errors.Is(err, values.ErrDependencyUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeFailed
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// =============================================================================
// Helper Methods
// =============================================================================

// ObserveStep records one pipeline step.
func (m *Metrics) ObserveStep(step values.Step, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.StepDurationSeconds.WithLabelValues(string(step), status(err)).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	kind := "internal"
	if errors.Is(err, values.ErrDependencyUnavailable) {
		kind = "unavailable"
	}
	m.StepFailuresTotal.WithLabelValues(string(step), kind).Inc()
}

// ObserveSubmission records a finished submission.
func (m *Metrics) ObserveSubmission(err error) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(Outcome(err)).Inc()
}

// ObserveQuery records a history or snapshot read.
//
// # Inputs
//
//   - query: QueryHistory or QueryCurrent.
//   - err: The query result.
func (m *Metrics) ObserveQuery(query string, err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(query, status(err)).Inc()
}

// RecordRateLimited increments the rate limiter counter.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// TrackDependency mirrors tracker into the state gauge.
//
// # Description
//
// Sets the gauge from the tracker's current state, then updates it on every
// transition. Call once per tracker.
func (m *Metrics) TrackDependency(tracker *connstate.Tracker) {
	if m == nil || tracker == nil {
		return
	}
	name := tracker.Name()
	m.DependencyState.WithLabelValues(name).Set(float64(tracker.State()))
	tracker.OnTransition(func(t connstate.Transition) {
		m.DependencyState.WithLabelValues(t.Dependency).Set(float64(t.To))
		m.DependencyTransitionsTotal.WithLabelValues(t.Dependency, t.To.String()).Inc()
	})
}
