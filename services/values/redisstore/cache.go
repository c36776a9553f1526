// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// DefaultHashKey is the Redis hash holding the cache entries.
const DefaultHashKey = "values"

// CacheConfig configures a Cache.
type CacheConfig struct {
	// HashKey is the Redis hash name. Default "values".
	HashKey string

	// Placeholder is written by SetPlaceholder. Default values.DefaultPlaceholder.
	Placeholder string
}

// Cache is the result cache: one Redis hash mapping index text to a
// placeholder or a computed result.
type Cache struct {
	client      *redis.Client
	tracker     *connstate.Tracker
	hashKey     string
	placeholder string
}

var _ values.ResultCache = (*Cache)(nil)

// NewCache wraps client. tracker must be the one given to NewClient.
func NewCache(client *redis.Client, tracker *connstate.Tracker, cfg CacheConfig) *Cache {
	if cfg.HashKey == "" {
		cfg.HashKey = DefaultHashKey
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = values.DefaultPlaceholder
	}
	return &Cache{
		client:      client,
		tracker:     tracker,
		hashKey:     cfg.HashKey,
		placeholder: cfg.Placeholder,
	}
}

// Placeholder returns the value written for pending entries.
func (c *Cache) Placeholder() string {
	return c.placeholder
}

// SetPlaceholder runs HSET <hash> <index> <placeholder>.
func (c *Cache) SetPlaceholder(ctx context.Context, index values.Index) error {
	const op = "set placeholder"
	if !c.tracker.Available() {
		return values.Unavailable(values.DependencyCache, op, nil)
	}
	if err := c.client.HSet(ctx, c.hashKey, index.String(), c.placeholder).Err(); err != nil {
		return classify(values.DependencyCache, op, err)
	}
	return nil
}

// Get runs HGET <hash> <index>.
func (c *Cache) Get(ctx context.Context, index values.Index) (string, bool, error) {
	const op = "get"
	if !c.tracker.Available() {
		return "", false, values.Unavailable(values.DependencyCache, op, nil)
	}
	v, err := c.client.HGet(ctx, c.hashKey, index.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(values.DependencyCache, op, err)
	}
	return v, true, nil
}

// GetAll runs HGETALL <hash>. A missing hash yields an empty snapshot.
func (c *Cache) GetAll(ctx context.Context) (values.Snapshot, error) {
	const op = "get all"
	if !c.tracker.Available() {
		return nil, values.Unavailable(values.DependencyCache, op, nil)
	}
	m, err := c.client.HGetAll(ctx, c.hashKey).Result()
	if err != nil {
		return nil, classify(values.DependencyCache, op, err)
	}
	snap := make(values.Snapshot, len(m))
	for k, v := range m {
		snap[k] = v
	}
	return snap, nil
}

// Ping checks the server. It is the cache probe for connstate.Monitor.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
