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

// Package cache provides self-updating snapshot caches for relying-party
// routing data. A cache holds one immutable snapshot at a time, refreshed
// on a timer; readers dereference the current snapshot without locking and
// a failed refresh leaves the previous snapshot in place.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/bcem/eventbroker/internal/settings"
)

// CapabilityMap is an immutable snapshot of client id to capability list.
type CapabilityMap = map[string][]string

// WebhookMap is an immutable snapshot of client id to webhook registration.
type WebhookMap = map[string]settings.Webhook

// fetchAttempts bounds the catalog fetches within a single refresh before
// the refresh counts as failed.
const fetchAttempts = 3

// Cache periodically refreshes a snapshot of type T from a fetch function.
type Cache[T any] struct {
	name     string
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)

	snapshot atomic.Pointer[T]
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// onRefresh, when set, is called with "success" or "failure" after
	// each refresh. Wired to metrics by main.
	onRefresh func(result string)
}

// New creates a cache with the given name, refresh interval, and fetcher.
// The cache is empty until Start completes its first refresh.
func New[T any](name string, interval time.Duration, fetch func(ctx context.Context) (T, error)) *Cache[T] {
	return &Cache[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
	}
}

// NewCapabilities creates the capability cache backed by the settings catalog.
func NewCapabilities(client *settings.Client, interval time.Duration) *Cache[CapabilityMap] {
	return New("capabilities", interval, client.FetchCapabilities)
}

// NewWebhooks creates the webhook cache backed by the settings catalog.
// The broker does not consume webhook data itself; the snapshot is exposed
// for the downstream delivery worker.
func NewWebhooks(client *settings.Client, interval time.Duration) *Cache[WebhookMap] {
	return New("webhooks", interval, client.FetchWebhooks)
}

// SetMetrics wires a per-refresh result callback.
func (c *Cache[T]) SetMetrics(onRefresh func(result string)) {
	c.onRefresh = onRefresh
}

// Start performs the first refresh synchronously and then runs the refresh
// loop in the background. If the first refresh fails the cache is unusable
// and Start returns the error; callers should treat that as fatal.
func (c *Cache[T]) Start(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("initial %s refresh: %w", c.name, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.refreshLoop(loopCtx)

	slog.Info("cache started", "cache", c.name, "interval", c.interval)
	return nil
}

// Stop cancels the refresh loop and waits for any in-flight refresh.
func (c *Cache[T]) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	slog.Info("cache stopped", "cache", c.name)
}

// ServiceData returns the latest installed snapshot. It never blocks beyond
// an atomic pointer read. The zero value of T is returned before Start.
func (c *Cache[T]) ServiceData() T {
	p := c.snapshot.Load()
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// refreshLoop refreshes the snapshot at the configured interval until the
// context is cancelled.
func (c *Cache[T]) refreshLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				// Keep serving the previous snapshot.
				slog.Error("cache refresh failed", "cache", c.name, "error", err)
			}
		}
	}
}

// refresh fetches a full snapshot and installs it atomically. A partial
// result is never installed: either the fetch succeeds whole or the
// snapshot stays untouched.
func (c *Cache[T]) refresh(ctx context.Context) error {
	var data T
	err := retry.Do(
		func() error {
			var fetchErr error
			data, fetchErr = c.fetch(ctx)
			return fetchErr
		},
		retry.Context(ctx),
		retry.Attempts(fetchAttempts),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		c.reportRefresh("failure")
		return err
	}

	c.snapshot.Store(&data)
	c.reportRefresh("success")
	slog.Debug("cache refreshed", "cache", c.name)
	return nil
}

func (c *Cache[T]) reportRefresh(result string) {
	if c.onRefresh != nil {
		c.onRefresh(result)
	}
}
