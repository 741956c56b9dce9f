// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue provides the broker's transport ports and their Redis
// implementations: a reliable list consumer for the upstream notification
// queue and a stream publisher for the per-client downstream topics.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher is the outbound port: deliver one JSON body to a named topic
// and return the transport's message id. Failures are transient; the caller
// decides whether the whole incoming message is retried.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) (string, error)
}

// RedisPublisher appends messages to per-topic Redis streams. The stream
// entry id doubles as the message id.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a publisher on the given Redis client.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish appends the body to the topic's stream via XADD.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, body []byte) (string, error) {
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"body": string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}

	slog.Debug("published message", "topic", topic, "message_id", id)
	return id, nil
}

// Ping checks the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
