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

// Package metrics defines the broker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors registered by the broker.
type Metrics struct {
	// MessagesTotal counts handled messages by event type.
	MessagesTotal *prometheus.CounterVec
	// DroppedTotal counts messages dropped without retry, by reason
	// (unwanted, malformed, missing_client_id).
	DroppedTotal *prometheus.CounterVec
	// HandlerErrorsTotal counts handler failures that trigger redelivery.
	HandlerErrorsTotal *prometheus.CounterVec
	// PublishTotal counts outbound publishes by result.
	PublishTotal *prometheus.CounterVec
	// CacheRefreshTotal counts cache refreshes by cache name and result.
	CacheRefreshTotal *prometheus.CounterVec

	// QueueDelay observes time from message creation to pickup.
	QueueDelay prometheus.Histogram
	// ProcessingDuration observes time spent handling one message.
	ProcessingDuration prometheus.Histogram
	// SubscriptionEventDelay observes time from eventCreatedAt to handling,
	// for subscription events only.
	SubscriptionEventDelay prometheus.Histogram
}

// New creates and registers all collectors under the given namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Handled queue messages by event type.",
		}, []string{"event_type"}),
		DroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages dropped without retry, by reason.",
		}, []string{"reason"}),
		HandlerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Handler failures that leave the message for redelivery.",
		}, []string{"reason"}),
		PublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Outbound topic publishes by result.",
		}, []string{"result"}),
		CacheRefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refresh_total",
			Help:      "Settings cache refreshes by cache and result.",
		}, []string{"cache", "result"}),
		QueueDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_delay_seconds",
			Help:      "Delay between message creation and pickup.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_seconds",
			Help:      "Time spent handling one message.",
			Buckets:   prometheus.DefBuckets,
		}),
		SubscriptionEventDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subscription_event_delay_seconds",
			Help:      "Delay between subscription state change and handling.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}
}
