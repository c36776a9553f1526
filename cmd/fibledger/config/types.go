// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the fibledger configuration from YAML and the
// environment.
package config

import "time"

// FibledgerConfig is the on-disk configuration.
type FibledgerConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Values    ValuesConfig    `yaml:"values"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port               int      `yaml:"port" validate:"gte=1,lte=65535"`
	GinMode            string   `yaml:"gin_mode" validate:"oneof=debug release test"`
	ExposeErrorDetails bool     `yaml:"expose_error_details"`

	// SubmitRateLimit is requests per second on POST /values. 0 disables it.
	SubmitRateLimit float64 `yaml:"submit_rate_limit" validate:"gte=0"`
	SubmitBurst     int     `yaml:"submit_burst" validate:"gte=1"`

	// CORSOrigins need a scheme, e.g. "https://app.example.com". Empty
	// allows every origin.
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,cors_origin"`
}

type ValuesConfig struct {
	Ceiling     int64  `yaml:"ceiling" validate:"gte=0"`
	Placeholder string `yaml:"placeholder" validate:"required"`
	HashKey     string `yaml:"hash_key" validate:"required"`
	Channel     string `yaml:"channel" validate:"required"`
}

type RedisConfig struct {
	Host        string        `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port        int           `yaml:"port" validate:"gte=1,lte=65535"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db" validate:"gte=0"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	PoolSize    int           `yaml:"pool_size" validate:"gte=0"`
}

type LedgerConfig struct {
	// Driver is "postgres" or "badger".
	Driver   string         `yaml:"driver" validate:"oneof=postgres badger"`
	Postgres PostgresConfig `yaml:"postgres"`
	Badger   BadgerConfig   `yaml:"badger"`
}

type PostgresConfig struct {
	Host           string        `yaml:"host" validate:"required"`
	Port           int           `yaml:"port" validate:"gte=1,lte=65535"`
	User           string        `yaml:"user" validate:"required"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database" validate:"required"`
	SSLMode        string        `yaml:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	Table          string        `yaml:"table" validate:"required,sql_identifier"`
	MaxConns       int32         `yaml:"max_conns" validate:"gte=1"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
}

type BadgerConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type TimeoutConfig struct {
	Cache         time.Duration `yaml:"cache" validate:"gt=0"`
	Channel       time.Duration `yaml:"channel" validate:"gt=0"`
	Ledger        time.Duration `yaml:"ledger" validate:"gt=0"`
	ProbeInterval time.Duration `yaml:"probe_interval" validate:"gt=0"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" validate:"gt=0"`
	Shutdown      time.Duration `yaml:"shutdown" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
	Dir    string `yaml:"dir,omitempty"`
}

type TelemetryConfig struct {
	Environment    string `yaml:"environment"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none otlp stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}
