// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for the
// values API.
//
// This package initializes the OTel SDK for tracing and metrics and lets the
// backend be swapped through exporter configuration.
//
// # Trace Backend (default: none)
//
// "otlp" sends spans over gRPC to a collector, "stdout" pretty-prints them,
// "none" leaves the global no-op provider in place. The coordinator's step
// spans and the otelgin server spans go through whichever is configured.
//
// # Metrics Backend (default: prometheus)
//
// The "prometheus" exporter registers with the registry given in Config, so
// OTel instruments appear next to the native Prometheus collectors on the
// service's /metrics endpoint.
//
// # Logging
//
// LoggerWithTrace adds trace_id and span_id to a slog.Logger so request logs
// can be joined to traces.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
