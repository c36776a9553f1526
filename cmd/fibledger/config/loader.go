// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/fibledger/pkg/logging"
	"github.com/AleutianAI/fibledger/pkg/validation"
	"github.com/AleutianAI/fibledger/services/api"
	"github.com/AleutianAI/fibledger/services/api/telemetry"
	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/badgerledger"
	"github.com/AleutianAI/fibledger/services/values/pgledger"
	"github.com/AleutianAI/fibledger/services/values/redisstore"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// DefaultConfig returns settings for local development: Redis and
// PostgreSQL on localhost with their stock credentials.
func DefaultConfig() FibledgerConfig {
	pg := pgledger.DefaultConfig()
	return FibledgerConfig{
		Server: ServerConfig{
			Port:        5000,
			GinMode:     "release",
			SubmitBurst: 10,
		},
		Values: ValuesConfig{
			Ceiling:     int64(values.DefaultCeiling),
			Placeholder: values.DefaultPlaceholder,
			HashKey:     redisstore.DefaultHashKey,
			Channel:     redisstore.DefaultChannel,
		},
		Redis: RedisConfig{
			Host:        "localhost",
			Port:        6379,
			DialTimeout: 2 * time.Second,
		},
		Ledger: LedgerConfig{
			Driver: api.LedgerPostgres,
			Postgres: PostgresConfig{
				Host:           pg.Host,
				Port:           pg.Port,
				User:           pg.User,
				Password:       pg.Password,
				Database:       pg.Database,
				SSLMode:        pg.SSLMode,
				Table:          pg.Table,
				MaxConns:       pg.MaxConns,
				ConnectTimeout: pg.ConnectTimeout,
			},
			Badger: BadgerConfig{
				Path:       "./data/ledger",
				SyncWrites: true,
				GCInterval: 10 * time.Minute,
			},
		},
		Timeouts: TimeoutConfig{
			Cache:         2 * time.Second,
			Channel:       2 * time.Second,
			Ledger:        5 * time.Second,
			ProbeInterval: 5 * time.Second,
			ProbeTimeout:  2 * time.Second,
			Shutdown:      10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatAuto),
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  telemetry.ExporterNone,
			MetricExporter: telemetry.ExporterPrometheus,
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
	}
}

// Load builds the configuration in three layers: defaults, the YAML file at
// path (skipped when path is empty), then environment overrides. The result
// is validated.
//
// # Examples
//
//	cfg, err := config.Load("fibledger.yaml", os.LookupEnv)
//	if err != nil {
//	    return err
//	}
func Load(path string, lookup LookupFunc) (FibledgerConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if lookup != nil {
		if err := ApplyEnv(&cfg, lookup); err != nil {
			return cfg, err
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos do not silently fall back to
// defaults. An empty document leaves cfg unchanged.
func decodeYAML(data []byte, cfg *FibledgerConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// =============================================================================
// Environment
// =============================================================================

// ApplyEnv overrides cfg from environment variables.
//
// # Description
//
// The PostgreSQL variables follow libpq naming. Unset or empty variables
// leave the current value alone.
//
//	PGHOST PGPORT PGUSER PGPASSWORD PGDATABASE PGSSLMODE
//	REDIS_HOST REDIS_PORT REDIS_PASSWORD
//	PORT INDEX_CEILING LEDGER_DRIVER BADGER_PATH
//	LOG_LEVEL GIN_MODE
//	OTEL_TRACES_EXPORTER OTEL_METRICS_EXPORTER OTEL_EXPORTER_OTLP_ENDPOINT
//
// # Outputs
//
//   - error: Non-nil if a numeric variable does not parse.
func ApplyEnv(cfg *FibledgerConfig, lookup LookupFunc) error {
	env := envReader{lookup: lookup}

	env.setString("PGHOST", &cfg.Ledger.Postgres.Host)
	env.setInt("PGPORT", &cfg.Ledger.Postgres.Port)
	env.setString("PGUSER", &cfg.Ledger.Postgres.User)
	env.setString("PGPASSWORD", &cfg.Ledger.Postgres.Password)
	env.setString("PGDATABASE", &cfg.Ledger.Postgres.Database)
	env.setString("PGSSLMODE", &cfg.Ledger.Postgres.SSLMode)

	env.setString("REDIS_HOST", &cfg.Redis.Host)
	env.setInt("REDIS_PORT", &cfg.Redis.Port)
	env.setString("REDIS_PASSWORD", &cfg.Redis.Password)

	env.setInt("PORT", &cfg.Server.Port)
	env.setInt64("INDEX_CEILING", &cfg.Values.Ceiling)
	env.setString("LEDGER_DRIVER", &cfg.Ledger.Driver)
	env.setString("BADGER_PATH", &cfg.Ledger.Badger.Path)
	env.setString("LOG_LEVEL", &cfg.Logging.Level)
	env.setString("GIN_MODE", &cfg.Server.GinMode)

	env.setString("OTEL_TRACES_EXPORTER", &cfg.Telemetry.TraceExporter)
	env.setString("OTEL_METRICS_EXPORTER", &cfg.Telemetry.MetricExporter)
	env.setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	return errors.Join(env.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
}

// =============================================================================
// Validation
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cors_origin", func(fl validator.FieldLevel) bool {
		return validation.ValidateOrigin(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("sql_identifier", func(fl validator.FieldLevel) bool {
		return validation.ValidateIdentifier(fl.Field().String()) == nil
	})
	return v
}

// Validate checks field rules and the rules that span fields.
func Validate(cfg FibledgerConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Ledger.Driver == api.LedgerBadger && !cfg.Ledger.Badger.InMemory && cfg.Ledger.Badger.Path == "" {
		return errors.New("invalid configuration: ledger.badger.path is required unless in_memory is set")
	}
	return nil
}

// =============================================================================
// Conversion
// =============================================================================

// ToService converts cfg to the service configuration.
func ToService(cfg FibledgerConfig, logger *slog.Logger) api.Config {
	badgerCfg := badgerledger.DefaultConfig(cfg.Ledger.Badger.Path)
	badgerCfg.InMemory = cfg.Ledger.Badger.InMemory
	badgerCfg.SyncWrites = cfg.Ledger.Badger.SyncWrites
	badgerCfg.GCInterval = cfg.Ledger.Badger.GCInterval
	badgerCfg.Logger = logger

	ceiling := values.Index(cfg.Values.Ceiling)

	return api.Config{
		Port:         cfg.Server.Port,
		Ceiling:      &ceiling,
		Placeholder:  cfg.Values.Placeholder,
		CacheHashKey: cfg.Values.HashKey,
		Channel:      cfg.Values.Channel,
		Redis: redisstore.Options{
			Addr:        net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
			PoolSize:    cfg.Redis.PoolSize,
		},
		LedgerDriver: cfg.Ledger.Driver,
		Postgres: pgledger.Config{
			Host:           cfg.Ledger.Postgres.Host,
			Port:           cfg.Ledger.Postgres.Port,
			User:           cfg.Ledger.Postgres.User,
			Password:       cfg.Ledger.Postgres.Password,
			Database:       cfg.Ledger.Postgres.Database,
			SSLMode:        cfg.Ledger.Postgres.SSLMode,
			Table:          cfg.Ledger.Postgres.Table,
			MaxConns:       cfg.Ledger.Postgres.MaxConns,
			ConnectTimeout: cfg.Ledger.Postgres.ConnectTimeout,
		},
		Badger:             badgerCfg,
		CacheTimeout:       cfg.Timeouts.Cache,
		ChannelTimeout:     cfg.Timeouts.Channel,
		LedgerTimeout:      cfg.Timeouts.Ledger,
		ProbeInterval:      cfg.Timeouts.ProbeInterval,
		ProbeTimeout:       cfg.Timeouts.ProbeTimeout,
		ShutdownTimeout:    cfg.Timeouts.Shutdown,
		ExposeErrorDetails: cfg.Server.ExposeErrorDetails,
		SubmitRateLimit:    cfg.Server.SubmitRateLimit,
		SubmitBurst:        cfg.Server.SubmitBurst,
		CORSOrigins:        cfg.Server.CORSOrigins,
		GinMode:            cfg.Server.GinMode,
		Telemetry: telemetry.Config{
			ServiceName:    "fibledger-api",
			ServiceVersion: "1.0.0",
			Environment:    cfg.Telemetry.Environment,
			TraceExporter:  cfg.Telemetry.TraceExporter,
			MetricExporter: cfg.Telemetry.MetricExporter,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		},
		Logger: logger,
	}
}

// ToLogging converts the logging section for pkg/logging.
func (c LoggingConfig) ToLogging(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Format:  logging.Format(c.Format),
		LogDir:  c.Dir,
		Service: service,
	}, nil
}
