// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pgledger implements the durable ledger over PostgreSQL.
//
// The ledger is a single table with one integer column. Every accepted
// submission inserts one row; rows are never updated or deleted.
package pgledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/fibledger/pkg/validation"
	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds PostgreSQL connection settings.
//
// # Fields
//
//   - Host, Port, User, Password, Database: Connection target.
//   - SSLMode: libpq sslmode. Default "disable".
//   - Table: Ledger table name. Default "values".
//   - MaxConns: Pool size. Default 10.
//   - ConnectTimeout: Dial timeout. Default 5s.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	Table          string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// DefaultConfig returns settings for a local development database.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		User:           "postgres",
		Password:       "postgres",
		Database:       "postgres",
		SSLMode:        "disable",
		Table:          "values",
		MaxConns:       10,
		ConnectTimeout: 5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.User == "" {
		c.User = d.User
	}
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.SSLMode == "" {
		c.SSLMode = d.SSLMode
	}
	if c.Table == "" {
		c.Table = d.Table
	}
	if c.MaxConns <= 0 {
		c.MaxConns = d.MaxConns
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
}

// DSN renders the connection URL. The password is escaped.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// =============================================================================
// Ledger
// =============================================================================

// Pool is the subset of *pgxpool.Pool the ledger uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Ledger is the PostgreSQL-backed values.Ledger.
//
// # Thread Safety
//
// Safe for concurrent use.
type Ledger struct {
	pool    Pool
	tracker *connstate.Tracker
	logger  *slog.Logger

	createSQL string
	insertSQL string
	selectSQL string

	needsBootstrap atomic.Bool
}

var _ values.Ledger = (*Ledger)(nil)

// New wraps an existing pool. tracker may be nil, in which case the ledger
// is always considered reachable.
func New(pool Pool, tracker *connstate.Tracker, table string, logger *slog.Logger) *Ledger {
	if table == "" {
		table = DefaultConfig().Table
	}
	if logger == nil {
		logger = slog.Default()
	}
	quoted := pgx.Identifier{table}.Sanitize()
	l := &Ledger{
		pool:      pool,
		tracker:   tracker,
		logger:    logger,
		createSQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (number INT)", quoted),
		insertSQL: fmt.Sprintf("INSERT INTO %s(number) VALUES($1)", quoted),
		selectSQL: fmt.Sprintf("SELECT number FROM %s", quoted),
	}
	l.needsBootstrap.Store(true)
	if tracker != nil {
		tracker.OnTransition(func(tr connstate.Transition) {
			if tr.To == connstate.Disconnected {
				l.needsBootstrap.Store(true)
			}
		})
	}
	return l
}

// Open creates a pool from cfg and verifies it with a ping.
//
// # Description
//
// Every new pool connection marks tracker Connected. The first connection
// after startup or after an outage also creates the table if it is missing,
// so a database that was recreated while the service ran is usable again
// without a restart.
//
// # Inputs
//
//   - ctx: Bounds the initial ping.
//   - cfg: Zero fields take DefaultConfig values.
//   - tracker: Ledger connection state. Required.
//   - logger: Nil means slog.Default().
//
// # Outputs
//
//   - *Ledger: Ready to use. The pool is returned even when the first ping
//     fails so the monitor can bring it up later.
//   - error: Non-nil if the configuration is invalid or the ping failed.
func Open(ctx context.Context, cfg Config, tracker *connstate.Tracker, logger *slog.Logger) (*Ledger, error) {
	if tracker == nil {
		return nil, errors.New("pgledger: nil tracker")
	}
	cfg.applyDefaults()
	if err := validation.ValidateIdentifier(cfg.Table); err != nil {
		return nil, fmt.Errorf("pgledger: table: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	l := New(nil, tracker, cfg.Table, logger)
	poolCfg.BeforeConnect = func(context.Context, *pgx.ConnConfig) error {
		tracker.MarkConnecting()
		return nil
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if l.needsBootstrap.Load() {
			if _, err := conn.Exec(ctx, l.createSQL); err != nil {
				return fmt.Errorf("bootstrap ledger table: %w", err)
			}
			l.needsBootstrap.Store(false)
			l.logger.Info("ledger table ready", "table", cfg.Table)
		}
		tracker.MarkConnected()
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	l.pool = pool

	if err := l.Ping(ctx); err != nil {
		return l, fmt.Errorf("ping postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return l, nil
}

// Bootstrap creates the ledger table if it does not exist.
func (l *Ledger) Bootstrap(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, l.createSQL); err != nil {
		return l.fail("bootstrap", err)
	}
	l.needsBootstrap.Store(false)
	return nil
}

// Append inserts one row for index.
func (l *Ledger) Append(ctx context.Context, index values.Index) error {
	const op = "append"
	if l.tracker != nil && !l.tracker.Available() {
		return values.Unavailable(values.DependencyLedger, op, nil)
	}
	if _, err := l.pool.Exec(ctx, l.insertSQL, int64(index)); err != nil {
		return l.fail(op, err)
	}
	return nil
}

// List returns every row. Order is whatever the database returns.
func (l *Ledger) List(ctx context.Context) ([]values.Record, error) {
	const op = "list"
	if l.tracker != nil && !l.tracker.Available() {
		return nil, values.Unavailable(values.DependencyLedger, op, nil)
	}
	rows, err := l.pool.Query(ctx, l.selectSQL)
	if err != nil {
		return nil, l.fail(op, err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, l.fail(op, err)
	}

	records := make([]values.Record, 0, len(numbers))
	for _, n := range numbers {
		records = append(records, values.Record{Number: values.Index(n)})
	}
	return records, nil
}

// Ping checks the database. It is the ledger probe for connstate.Monitor.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		if l.tracker != nil && isConnectionFailure(ctx, err) {
			l.tracker.MarkDisconnected(err)
		}
		return err
	}
	if l.tracker != nil {
		l.tracker.MarkConnected()
	}
	return nil
}

// Close closes the pool.
func (l *Ledger) Close() error {
	l.pool.Close()
	return nil
}

// fail classifies err and flips the tracker for connection-level failures.
func (l *Ledger) fail(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return values.Internal(values.DependencyLedger, op, err)
	}
	if isConnectionFailure(context.Background(), err) {
		if l.tracker != nil {
			l.tracker.MarkDisconnected(err)
		}
		return values.Unavailable(values.DependencyLedger, op, err)
	}
	return values.Classify(values.DependencyLedger, op, err)
}

func isConnectionFailure(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return pgconn.Timeout(err) || values.IsConnectionError(err)
}
