// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redisstore implements the result cache and the notification
// channel over Redis.
//
// The cache and the publisher each own a client so that a slow publish never
// queues behind cache traffic. Both clients carry a hook that keeps their
// connstate.Tracker current.
package redisstore

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// Options configures one Redis client.
type Options struct {
	// Addr is host:port. Default "localhost:6379".
	Addr string

	Password string
	DB       int

	// DialTimeout bounds connection establishment. Default 2s.
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound single commands. Default 2s.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the maximum number of connections. Zero uses the
	// go-redis default.
	PoolSize int
}

// DefaultOptions returns options for a local Redis.
func DefaultOptions() Options {
	return Options{
		Addr:         "localhost:6379",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// NewClient creates a Redis client whose connection events drive tracker.
//
// # Description
//
// Retries inside the client are disabled; a failed command surfaces to the
// caller immediately and reconnection happens on the next command or probe.
// No connection is opened until the first command.
func NewClient(opts Options, tracker *connstate.Tracker) *redis.Client {
	defaults := DefaultOptions()
	if opts.Addr == "" {
		opts.Addr = defaults.Addr
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		MaxRetries:   -1,
	})
	if tracker != nil {
		client.AddHook(&stateHook{tracker: tracker})
	}
	return client
}

// =============================================================================
// Connection state hook
// =============================================================================

// stateHook reports dial outcomes and connection-level command failures to a
// tracker. Error replies from the server do not change the state.
type stateHook struct {
	tracker *connstate.Tracker
}

var _ redis.Hook = (*stateHook)(nil)

func (h *stateHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		h.tracker.MarkConnecting()
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.tracker.MarkDisconnected(err)
			return nil, err
		}
		h.tracker.MarkConnected()
		return conn, nil
	}
}

func (h *stateHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(ctx, err)
		return err
	}
}

func (h *stateHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.observe(ctx, err)
		return err
	}
}

func (h *stateHook) observe(ctx context.Context, err error) {
	if isConnectionFailure(ctx, err) {
		h.tracker.MarkDisconnected(err)
	}
}

// isConnectionFailure reports whether err means the server could not be
// reached. A caller's own cancellation is not a connection failure.
func isConnectionFailure(ctx context.Context, err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	return values.IsConnectionError(err)
}

// classify maps a command error onto the values error taxonomy.
func classify(dep values.Dependency, op string, err error) error {
	var reply redis.Error
	if errors.As(err, &reply) {
		return values.Internal(dep, op, err)
	}
	if errors.Is(err, redis.ErrClosed) {
		return values.Unavailable(dep, op, err)
	}
	return values.Classify(dep, op, err)
}
