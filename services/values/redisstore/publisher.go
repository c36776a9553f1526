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
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// DefaultChannel is the pub/sub channel workers subscribe to.
const DefaultChannel = "insert"

// Publisher is the notification channel.
//
// # Description
//
// Publish is a one-way send over Redis pub/sub. It succeeds once Redis has
// accepted the message. Delivery is best effort: Redis keeps no copy, there
// is no acknowledgment, and a message published while no worker is
// subscribed is dropped. The receiver count is logged and otherwise ignored.
type Publisher struct {
	client  *redis.Client
	tracker *connstate.Tracker
	channel string
	logger  *slog.Logger
}

var _ values.Publisher = (*Publisher)(nil)

// NewPublisher wraps client, which should not be shared with the cache.
func NewPublisher(client *redis.Client, tracker *connstate.Tracker, channel string, logger *slog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		tracker: tracker,
		channel: channel,
		logger:  logger,
	}
}

// Channel returns the channel name.
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish runs PUBLISH <channel> <index>.
func (p *Publisher) Publish(ctx context.Context, index values.Index) error {
	const op = "publish"
	if !p.tracker.Available() {
		return values.Unavailable(values.DependencyChannel, op, nil)
	}
	receivers, err := p.client.Publish(ctx, p.channel, index.String()).Result()
	if err != nil {
		return classify(values.DependencyChannel, op, err)
	}
	p.logger.Debug("notification published",
		"channel", p.channel,
		"index", int64(index),
		"receivers", receivers,
	)
	return nil
}

// Ping checks the server. It is the channel probe for connstate.Monitor.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
