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

// Package sqlite provides the default file-backed identity store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nymstr-project/nymstr-groupd/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username    TEXT PRIMARY KEY,
	public_key  TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	approved_at TIMESTAMP
);
`

// Store implements storage.IdentityStore over a local SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if necessary creates) the database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_fk=1", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer keeps SQLITE_BUSY out of the write path.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertPending creates a pending registration.
func (s *Store) InsertPending(ctx context.Context, username, publicKey string) error {
	if err := storage.ValidateInsert(username, publicKey); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, public_key, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO NOTHING
	`, username, publicKey, string(storage.StatusPending), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if n == 0 {
		return storage.ErrConflict
	}
	return nil
}

// Lookup returns the user record or storage.ErrNotFound.
func (s *Store) Lookup(ctx context.Context, username string) (*storage.User, error) {
	var (
		user       storage.User
		status     string
		approvedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, public_key, status, created_at, approved_at
		FROM users WHERE username = ?
	`, username).Scan(&user.Username, &user.PublicKey, &status, &user.CreatedAt, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	user.Status = storage.Status(status)
	if approvedAt.Valid {
		t := approvedAt.Time
		user.ApprovedAt = &t
	}
	return &user, nil
}

// MarkApproved transitions pending -> approved. The guarded UPDATE makes
// the transition one-way even under concurrent approvals.
func (s *Store) MarkApproved(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ?, approved_at = ?
		WHERE username = ? AND status = ?
	`, string(storage.StatusApproved), time.Now().UTC(), username, string(storage.StatusPending))
	if err != nil {
		return fmt.Errorf("approve user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve user: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Zero rows: either unknown or already approved.
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
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
