// nymstr-groupd - Single-Group Mixnet Relay
// Copyright (C) 2025 nymstr-project
//
// This file is part of nymstr-groupd.
//
// nymstr-groupd is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// nymstr-groupd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with nymstr-groupd. If not, see <https://www.gnu.org/licenses/>.

// Package postgres provides the PostgreSQL identity store, selected by
// DATABASE_URL for deployments that already run Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nymstr-project/nymstr-groupd/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username    TEXT PRIMARY KEY,
	public_key  TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	approved_at TIMESTAMPTZ
);
`

// Store implements storage.IdentityStore for PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database named by connString.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// InsertPending creates a pending registration.
func (s *Store) InsertPending(ctx context.Context, username, publicKey string) error {
	if err := storage.ValidateInsert(username, publicKey); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, public_key, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING
	`, username, publicKey, string(storage.StatusPending), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

// Lookup returns the user record or storage.ErrNotFound.
func (s *Store) Lookup(ctx context.Context, username string) (*storage.User, error) {
	var (
		user       storage.User
		status     string
		approvedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT username, public_key, status, created_at, approved_at
		FROM users WHERE username = $1
	`, username).Scan(&user.Username, &user.PublicKey, &status, &user.CreatedAt, &approvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user: %w", err)
	}
	user.Status = storage.Status(status)
	user.ApprovedAt = approvedAt
	return &user, nil
}

// MarkApproved transitions pending -> approved.
func (s *Store) MarkApproved(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET status = $1, approved_at = $2
		WHERE username = $3 AND status = $4
	`, string(storage.StatusApproved), time.Now().UTC(), username, string(storage.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to approve user: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	user, err := s.Lookup(ctx, username)
	if err != nil {
		return err
	}
	if user.Approved() {
		return storage.ErrAlreadyApproved
	}
	return fmt.Errorf("approve user %s: unexpected status %s", username, user.Status)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
