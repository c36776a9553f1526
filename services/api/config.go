// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/fibledger/services/api/telemetry"
	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/badgerledger"
	"github.com/AleutianAI/fibledger/services/values/pgledger"
	"github.com/AleutianAI/fibledger/services/values/redisstore"
)

// Ledger drivers accepted by Config.LedgerDriver.
const (
	LedgerPostgres = "postgres"
	LedgerBadger   = "badger"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the values service configuration.
//
// # Description
//
// Config centralizes every setting of the service. cmd/fibledger/config
// fills it from YAML and the environment; tests build it directly.
//
// # Required Fields
//
// None - all fields have defaults applied by New().
//
// # Examples
//
//	// Local development against Redis and PostgreSQL on localhost
//	cfg := api.Config{}
//
//	// Single-node mode with an embedded ledger
//	cfg := api.Config{
//	    LedgerDriver: api.LedgerBadger,
//	    Badger:       badgerledger.DefaultConfig("/var/lib/fibledger"),
//	}
type Config struct {
	// Port is the HTTP server port. Default: 5000
	Port int

	// Ceiling is the largest accepted index. Nil means 40; an explicit
	// zero accepts only index 0.
	Ceiling *values.Index

	// Placeholder marks a cache entry as not yet computed. Default: "pending"
	Placeholder string

	// CacheHashKey is the Redis hash holding results. Default: "values"
	CacheHashKey string

	// Channel is the pub/sub channel workers subscribe to. Default: "insert"
	Channel string

	// Redis configures both Redis connections. The cache and the channel use
	// separate clients so their connection states are tracked independently.
	Redis redisstore.Options

	// LedgerDriver selects the ledger backend: "postgres" or "badger".
	// Default: "postgres"
	LedgerDriver string

	// Postgres configures the PostgreSQL ledger.
	Postgres pgledger.Config

	// Badger configures the embedded ledger. Default: in memory
	Badger badgerledger.Config

	// CacheTimeout, ChannelTimeout and LedgerTimeout bound each step of a
	// submission. Defaults: 2s, 2s, 5s
	CacheTimeout   time.Duration
	ChannelTimeout time.Duration
	LedgerTimeout  time.Duration

	// ProbeInterval and ProbeTimeout drive the connection monitor.
	// Defaults: 5s, 2s
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// ShutdownTimeout bounds draining in-flight requests. Default: 10s
	ShutdownTimeout time.Duration

	// ExposeErrorDetails copies internal causes into error responses.
	// Default: false
	ExposeErrorDetails bool

	// SubmitRateLimit is the sustained POST /values rate per second.
	// Zero disables limiting.
	SubmitRateLimit float64

	// SubmitBurst is the rate limiter bucket size. Default: 10
	SubmitBurst int

	// CORSOrigins lists allowed origins. Empty allows every origin.
	CORSOrigins []string

	// GinMode sets the Gin framework mode: "debug", "release" or "test".
	// Default: "release"
	GinMode string

	// Telemetry configures tracing and OTel metrics. The Registerer field is
	// set by the service.
	Telemetry telemetry.Config

	// Logger is the service logger. Default: slog.Default()
	Logger *slog.Logger
}

// applyConfigDefaults fills in missing configuration values.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.Ceiling == nil {
		ceiling := values.DefaultCeiling
		cfg.Ceiling = &ceiling
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = values.DefaultPlaceholder
	}
	if cfg.CacheHashKey == "" {
		cfg.CacheHashKey = redisstore.DefaultHashKey
	}
	if cfg.Channel == "" {
		cfg.Channel = redisstore.DefaultChannel
	}
	if cfg.LedgerDriver == "" {
		cfg.LedgerDriver = LedgerPostgres
	}
	if cfg.LedgerDriver == LedgerBadger && cfg.Badger.Path == "" {
		cfg.Badger.InMemory = true
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
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 10
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	tdefaults := telemetry.DefaultConfig()
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = tdefaults.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = tdefaults.ServiceVersion
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = tdefaults.Environment
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = tdefaults.TraceExporter
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = tdefaults.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		cfg.Telemetry.OTLPEndpoint = tdefaults.OTLPEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
