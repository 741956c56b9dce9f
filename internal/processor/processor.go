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

// Package processor is the broker core: it consumes service notifications
// from the upstream queue, records logins, and fans relevant events out to
// per-client topics using the capability snapshot for routing.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/eventbroker/internal/cache"
	"github.com/bcem/eventbroker/internal/metrics"
	"github.com/bcem/eventbroker/internal/notification"
	"github.com/bcem/eventbroker/internal/queue"
	"github.com/bcem/eventbroker/internal/reporting"
)

// Datastore is the login record port.
type Datastore interface {
	StoreLogin(ctx context.Context, userID, clientID string) error
	FetchClientIDs(ctx context.Context, userID string) ([]string, error)
}

// CapabilitySource supplies the capability snapshot and its lifecycle.
type CapabilitySource interface {
	Start(ctx context.Context) error
	Stop()
	ServiceData() cache.CapabilityMap
}

// WebhookSource is the webhook cache lifecycle. The processor never reads
// webhook data; it only keeps the cache running for the delivery worker.
type WebhookSource interface {
	Start(ctx context.Context) error
	Stop()
}

// Processor lifecycle states.
type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
	stateStopped
)

// ErrNotIdle is returned by Start when the processor has already run.
var ErrNotIdle = errors.New("processor is not idle")

// ErrNotRunning is returned by Stop outside the Running state.
var ErrNotRunning = errors.New("processor is not running")

// errUnhandledKind signals a codec/dispatch desynchronisation: the codec
// produced a variant the dispatch switch does not know. The handler fails
// (and the message redelivers) but the process stays up.
var errUnhandledKind = errors.New("unhandled notification kind")

// Config holds the processor's dependencies.
type Config struct {
	Source       queue.Source
	Publisher    queue.Publisher
	Datastore    Datastore
	Capabilities CapabilitySource
	Webhooks     WebhookSource
	TopicPrefix  string

	// OperationTimeout bounds each datastore call and each publish.
	OperationTimeout time.Duration

	Metrics  *metrics.Metrics
	Reporter reporting.Reporter

	// Now is the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Processor orchestrates the consumer, the caches, and the fan-out.
type Processor struct {
	source       queue.Source
	publisher    queue.Publisher
	store        Datastore
	capabilities CapabilitySource
	webhooks     WebhookSource
	topicPrefix  string
	opTimeout    time.Duration
	metrics      *metrics.Metrics
	reporter     reporting.Reporter
	now          func() time.Time

	mu    sync.Mutex
	state state
}

// New creates a processor from its dependencies.
func New(cfg Config) *Processor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = reporting.NopReporter{}
	}
	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Processor{
		source:       cfg.Source,
		publisher:    cfg.Publisher,
		store:        cfg.Datastore,
		capabilities: cfg.Capabilities,
		webhooks:     cfg.Webhooks,
		topicPrefix:  cfg.TopicPrefix,
		opTimeout:    opTimeout,
		metrics:      cfg.Metrics,
		reporter:     reporter,
		now:          now,
	}
}

// Start brings up both caches and then the consumer. A failed initial cache
// refresh is returned as an error: the broker must not consume without
// routing data, and callers treat this as fatal.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != stateIdle {
		p.mu.Unlock()
		return ErrNotIdle
	}
	p.mu.Unlock()

	if err := p.capabilities.Start(ctx); err != nil {
		return fmt.Errorf("start capability cache: %w", err)
	}
	if err := p.webhooks.Start(ctx); err != nil {
		p.capabilities.Stop()
		return fmt.Errorf("start webhook cache: %w", err)
	}

	if err := p.source.Start(ctx, p.Handle); err != nil {
		p.webhooks.Stop()
		p.capabilities.Stop()
		return fmt.Errorf("start queue source: %w", err)
	}

	p.mu.Lock()
	p.state = stateRunning
	p.mu.Unlock()

	slog.Info("notification processor started", "topic_prefix", p.topicPrefix)
	return nil
}

// Stop drains the consumer and stops both caches. In-flight handlers run to
// completion; no new messages are fetched.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.state = stateStopping
	p.mu.Unlock()

	p.source.Stop()
	p.webhooks.Stop()
	p.capabilities.Stop()

	p.mu.Lock()
	p.state = stateStopped
	p.mu.Unlock()

	slog.Info("notification processor stopped")
	return nil
}

// Handle processes one raw queue message. A nil return acknowledges the
// message; an error leaves it for redelivery. Codec failures are terminal
// and acknowledged, since redelivery cannot repair a bad payload.
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	start := p.now()

	n, err := notification.Decode(body)
	if err != nil {
		switch {
		case errors.Is(err, notification.ErrUnwanted):
			slog.Debug("dropping unwanted message", "error", err)
			p.metrics.DroppedTotal.WithLabelValues("unwanted").Inc()
		case errors.Is(err, notification.ErrMalformed):
			slog.Debug("dropping malformed message", "error", err)
			p.metrics.DroppedTotal.WithLabelValues("malformed").Inc()
		default:
			slog.Debug("dropping undecodable message", "error", err)
			p.metrics.DroppedTotal.WithLabelValues("malformed").Inc()
		}
		return nil
	}

	queueDelay := time.Duration(start.UnixMilli()-n.ChangeTime()) * time.Millisecond
	p.metrics.QueueDelay.Observe(queueDelay.Seconds())
	p.metrics.MessagesTotal.WithLabelValues(eventTypeLabel(n)).Inc()

	err = p.dispatch(ctx, n)

	p.metrics.ProcessingDuration.Observe(p.now().Sub(start).Seconds())

	if err != nil {
		reason := "io"
		if errors.Is(err, errUnhandledKind) {
			reason = "unhandled_kind"
		}
		p.metrics.HandlerErrorsTotal.WithLabelValues(reason).Inc()
		p.reporter.CaptureError(err, map[string]string{
			"event": n.EventName(),
			"uid":   n.UserID(),
		})
		slog.Error("handler failed",
			"event", n.EventName(),
			"uid", n.UserID(),
			"error", err,
		)
		return err
	}
	return nil
}

// dispatch branches on the decoded variant.
func (p *Processor) dispatch(ctx context.Context, n notification.Notification) error {
	switch m := n.(type) {
	case notification.Login:
		return p.handleLogin(ctx, m)
	case notification.SubscriptionUpdate:
		delay := time.Duration(p.now().UnixMilli()-m.ChangeTime()) * time.Millisecond
		p.metrics.SubscriptionEventDelay.Observe(delay.Seconds())
		return p.handleSubscription(ctx, m)
	case notification.Delete:
		return p.fanOut(ctx, m)
	case notification.ProfileChange:
		return p.fanOut(ctx, m)
	case notification.PasswordChange:
		return p.fanOut(ctx, m)
	default:
		return fmt.Errorf("%w: %T", errUnhandledKind, n)
	}
}

// handleLogin persists the (user, client) pair. Logins without a client id
// carry no routing value and are dropped.
func (p *Processor) handleLogin(ctx context.Context, m notification.Login) error {
	if m.ClientID == "" {
		slog.Debug("login without clientId, dropping", "uid", m.UID)
		p.metrics.DroppedTotal.WithLabelValues("missing_client_id").Inc()
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()
	return p.store.StoreLogin(opCtx, m.UID, m.ClientID)
}

// handleSubscription joins the event's capabilities against the capability
// snapshot, keeps the clients the user has logged into, and publishes the
// per-client intersection.
func (p *Processor) handleSubscription(ctx context.Context, m notification.SubscriptionUpdate) error {
	userClients, err := p.fetchClientIDs(ctx, m.UID)
	if err != nil {
		return err
	}

	snapshot := p.capabilities.ServiceData()

	// Per-client capability lists, ordered by first occurrence in the
	// event's productCapabilities. Duplicate inputs are kept as-is.
	notify := make(map[string][]string)
	for _, capability := range m.ProductCapabilities {
		for clientID, clientCaps := range snapshot {
			if slices.Contains(clientCaps, capability) {
				notify[clientID] = append(notify[clientID], capability)
			}
		}
	}

	publishTime := p.now().UnixMilli()
	g, gctx := errgroup.WithContext(ctx)
	for _, clientID := range userClients {
		clientID := clientID
		capabilities, ok := notify[clientID]
		if !ok {
			continue
		}
		body := subscriptionBody{
			outboundBody: outboundBody{
				Event:      m.EventName(),
				UID:        m.UID,
				ChangeTime: m.ChangeTime(),
				Timestamp:  publishTime,
			},
			IsActive:     m.IsActive,
			Capabilities: capabilities,
		}
		g.Go(func() error {
			return p.publish(gctx, clientID, body)
		})
	}
	return g.Wait()
}

// fanOut delivers a non-subscription event to every client the user has
// logged into. All publishes run concurrently; one failure fails the
// handler and the whole message redelivers.
func (p *Processor) fanOut(ctx context.Context, m notification.Notification) error {
	userClients, err := p.fetchClientIDs(ctx, m.UserID())
	if err != nil {
		return err
	}

	publishTime := p.now().UnixMilli()
	g, gctx := errgroup.WithContext(ctx)
	for _, clientID := range userClients {
		clientID := clientID
		body := outboundBody{
			Event:      m.EventName(),
			UID:        m.UserID(),
			ChangeTime: m.ChangeTime(),
			Timestamp:  publishTime,
		}
		g.Go(func() error {
			return p.publish(gctx, clientID, body)
		})
	}
	return g.Wait()
}

func (p *Processor) fetchClientIDs(ctx context.Context, userID string) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()
	return p.store.FetchClientIDs(opCtx, userID)
}

// publish marshals the body and delivers it to the client's topic.
func (p *Processor) publish(ctx context.Context, clientID string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal outbound body: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	topic := p.topicPrefix + clientID
	messageID, err := p.publisher.Publish(opCtx, topic, data)
	if err != nil {
		p.metrics.PublishTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.metrics.PublishTotal.WithLabelValues("success").Inc()
	slog.Debug("fanned out notification",
		"topic", topic,
		"message_id", messageID,
	)
	return nil
}

// outboundBody is the common shape of every fanned-out message.
type outboundBody struct {
	Event      string `json:"event"`
	UID        string `json:"uid"`
	ChangeTime int64  `json:"changeTime"`
	Timestamp  int64  `json:"timestamp"`
}

// subscriptionBody adds the subscription-specific fields.
type subscriptionBody struct {
	outboundBody
	IsActive     bool     `json:"isActive"`
	Capabilities []string `json:"capabilities"`
}

// eventTypeLabel maps a variant to its metrics label.
func eventTypeLabel(n notification.Notification) string {
	switch n.(type) {
	case notification.Login:
		return "login"
	case notification.SubscriptionUpdate:
		return "subscription"
	case notification.Delete:
		return "delete"
	case notification.ProfileChange:
		return "profile"
	case notification.PasswordChange:
		return "password"
	default:
		return "unknown"
	}
}
