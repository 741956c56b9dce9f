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

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler processes one raw message body. A non-nil error means the message
// is returned to the queue for redelivery; nil acknowledges it.
type Handler func(ctx context.Context, body []byte) error

// Source is the inbound port: a long-lived consumer that invokes the
// handler for each message.
type Source interface {
	Start(ctx context.Context, h Handler) error
	Stop()
}

// blockTimeout bounds each BLMOVE so the consume loop can observe
// cancellation between fetches.
const blockTimeout = 5 * time.Second

// ackTimeout bounds the ack/nack Redis calls, which must run even while the
// consumer is shutting down.
const ackTimeout = 5 * time.Second

// redeliveryDelay holds a failed message before it is requeued, so a
// persistently failing message cannot spin a consumer slot at full speed.
const redeliveryDelay = 500 * time.Millisecond

// RedisSource consumes a Redis list as a reliable queue. Each fetched
// message is moved to a processing list before handling; acknowledged
// messages are removed from it and failed ones are requeued at the far end
// of the queue after a short delay. Messages left in the processing list by
// a crashed consumer are requeued on the next Start, which gives
// at-least-once delivery.
//
// The processing list is keyed by queue name alone, so each queue assumes a
// single consumer process: a second instance starting against the same
// queue would requeue messages the first still has in flight.
type RedisSource struct {
	rdb        *redis.Client
	queue      string
	processing string
	batchSize  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisSource creates a consumer for the named queue. batchSize bounds
// how many handlers run concurrently.
func NewRedisSource(rdb *redis.Client, queueName string, batchSize int) *RedisSource {
	if batchSize < 1 {
		batchSize = 1
	}
	return &RedisSource{
		rdb:        rdb,
		queue:      queueName,
		processing: queueName + ":processing",
		batchSize:  batchSize,
	}
}

// Start requeues orphaned in-flight messages and begins consuming. It
// returns once the consume loop is running.
func (s *RedisSource) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}

	if err := s.requeueOrphans(ctx); err != nil {
		return fmt.Errorf("requeue orphans: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.consumeLoop(loopCtx, h)

	slog.Info("queue source started", "queue", s.queue, "batch_size", s.batchSize)
	return nil
}

// Stop halts fetching and waits for in-flight handlers to finish.
func (s *RedisSource) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	slog.Info("queue source stopped", "queue", s.queue)
}

// requeueOrphans moves messages stranded in the processing list (from a
// previous crashed run) back onto the queue.
func (s *RedisSource) requeueOrphans(ctx context.Context) error {
	moved := 0
	for {
		_, err := s.rdb.LMove(ctx, s.processing, s.queue, "RIGHT", "RIGHT").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return err
		}
		moved++
	}
	if moved > 0 {
		slog.Warn("requeued orphaned messages", "queue", s.queue, "count", moved)
	}
	return nil
}

// consumeLoop fetches messages and dispatches them to handler goroutines,
// at most batchSize in flight at once.
func (s *RedisSource) consumeLoop(ctx context.Context, h Handler) {
	defer s.wg.Done()

	slots := make(chan struct{}, s.batchSize)

	// Cancellation stops fetching only. In-flight handlers keep an
	// uncancelled context so Stop drains them instead of aborting their
	// datastore and publish calls mid-message.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		body, err := s.rdb.BLMove(ctx, s.queue, s.processing, "RIGHT", "LEFT", blockTimeout).Result()
		if err != nil {
			<-slots
			if err == redis.Nil {
				continue // queue empty, poll again
			}
			if ctx.Err() != nil {
				return
			}
			slog.Error("queue fetch failed", "queue", s.queue, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		s.wg.Add(1)
		go func(body string) {
			defer s.wg.Done()
			defer func() { <-slots }()
			s.handle(handlerCtx, h, body)
		}(body)
	}
}

// handle runs the handler and settles the message: remove from the
// processing list on success, requeue at the far end on failure.
func (s *RedisSource) handle(ctx context.Context, h Handler, body string) {
	err := h(ctx, []byte(body))

	if err != nil {
		slog.Error("handler failed, returning message for redelivery",
			"queue", s.queue,
			"error", err,
		)
		// The message stays in the processing list during the delay, so a
		// crash here is recovered by the orphan requeue on the next Start.
		time.Sleep(redeliveryDelay)

		settleCtx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()

		pipe := s.rdb.TxPipeline()
		pipe.LRem(settleCtx, s.processing, 1, body)
		pipe.LPush(settleCtx, s.queue, body)
		if _, pipeErr := pipe.Exec(settleCtx); pipeErr != nil {
			slog.Error("failed to return message to queue", "queue", s.queue, "error", pipeErr)
		}
		return
	}

	// Settlement must not be skipped during shutdown.
	settleCtx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	if remErr := s.rdb.LRem(settleCtx, s.processing, 1, body).Err(); remErr != nil {
		slog.Error("failed to acknowledge message", "queue", s.queue, "error", remErr)
	}
}
