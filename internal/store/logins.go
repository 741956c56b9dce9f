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

// Package store provides the Postgres-backed record of which relying
// parties each user has authenticated to. Rows are written on login events
// and read during fan-out to decide which clients receive a notification.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginRecord is one (user, client) authentication pair.
type LoginRecord struct {
	UserID    string
	ClientID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Logins provides access to user login records in Postgres.
type Logins struct {
	pool *pgxpool.Pool
}

// NewLogins creates the login store backed by the given Postgres pool.
// It ensures the user_logins table exists on creation.
func NewLogins(ctx context.Context, pool *pgxpool.Pool) (*Logins, error) {
	s := &Logins{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure login schema: %w", err)
	}
	slog.Info("login store initialised")
	return s, nil
}

func (s *Logins) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_logins (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			client_id  TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(user_id, client_id)
		);
		CREATE INDEX IF NOT EXISTS idx_user_logins_user ON user_logins(user_id);
	`)
	return err
}

// StoreLogin records that a user authenticated to a client. The insert is
// idempotent: a repeat login for the same pair only bumps updated_at.
func (s *Logins) StoreLogin(ctx context.Context, userID, clientID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_logins (user_id, client_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			updated_at = NOW()
	`, userID, clientID)
	if err != nil {
		return fmt.Errorf("store login: %w", err)
	}
	return nil
}

// FetchClientIDs returns all client ids the user has logged into.
// Order is unspecified; the unique constraint guarantees no duplicates.
func (s *Logins) FetchClientIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT client_id FROM user_logins WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch client ids: %w", err)
	}
	defer rows.Close()

	var clientIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan client id: %w", err)
		}
		clientIDs = append(clientIDs, id)
	}
	return clientIDs, rows.Err()
}
