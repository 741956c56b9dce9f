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

// Event broker service.
//
// Entry point for the notification event broker. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Warms the capability and webhook caches from the settings catalog
//  4. Consumes service notifications from the upstream queue
//  5. Records logins and fans events out to per-client topics
//  6. Serves /health and /metrics
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/eventbroker/internal/cache"
	"github.com/bcem/eventbroker/internal/config"
	"github.com/bcem/eventbroker/internal/metrics"
	"github.com/bcem/eventbroker/internal/processor"
	"github.com/bcem/eventbroker/internal/queue"
	"github.com/bcem/eventbroker/internal/reporting"
	"github.com/bcem/eventbroker/internal/settings"
	"github.com/bcem/eventbroker/internal/store"
)

const metricsNamespace = "broker"

func main() {
	// Local development convenience; in production the environment is
	// injected by the platform and no .env file exists.
	_ = godotenv.Load()

	// Structured JSON logging, every line tagged with this instance.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("instance", uuid.NewString())
	slog.SetDefault(logger)

	slog.Info("starting event broker")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"queue", cfg.QueueName,
		"topic_prefix", cfg.TopicPrefix,
		"batch_size", cfg.BatchSize,
	)

	// --- Error Reporting ---
	reporter, err := reporting.Init(cfg.SentryDSN, cfg.AppEnv, "")
	if err != nil {
		slog.Error("failed to initialise error reporting", "error", err)
		os.Exit(1)
	}
	defer reporting.Flush(2 * time.Second)

	// --- Metrics ---
	m := metrics.New(metricsNamespace, prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	logins, err := store.NewLogins(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise login store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewRedisPublisher(rdb)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	source := queue.NewRedisSource(rdb, cfg.QueueName, cfg.BatchSize)

	// --- Settings Catalog Caches ---
	catalog := settings.NewOAuthClient(ctx,
		cfg.Settings.BaseURL,
		cfg.Settings.TokenURL,
		cfg.Settings.ClientID,
		cfg.Settings.ClientSecret,
	)

	capabilities := cache.NewCapabilities(catalog, cfg.CapabilityRefreshInterval)
	capabilities.SetMetrics(func(result string) {
		m.CacheRefreshTotal.WithLabelValues("capabilities", result).Inc()
	})

	webhooks := cache.NewWebhooks(catalog, cfg.WebhookRefreshInterval)
	webhooks.SetMetrics(func(result string) {
		m.CacheRefreshTotal.WithLabelValues("webhooks", result).Inc()
	})

	// --- Processor ---
	proc := processor.New(processor.Config{
		Source:           source,
		Publisher:        publisher,
		Datastore:        logins,
		Capabilities:     capabilities,
		Webhooks:         webhooks,
		TopicPrefix:      cfg.TopicPrefix,
		OperationTimeout: cfg.OperationTimeout,
		Metrics:          m,
		Reporter:         reporter,
	})

	// A failed initial cache refresh is fatal: without routing data the
	// broker would silently drop every fan-out.
	if err := proc.Start(ctx); err != nil {
		slog.Error("failed to start processor", "error", err)
		os.Exit(1)
	}

	// --- Health + Metrics Server ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)

		// Drain in-flight handlers before tearing anything down.
		if err := proc.Stop(); err != nil {
			slog.Error("processor stop error", "error", err)
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("event broker listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("event broker stopped")
}
