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

// Package memory provides an in-memory identity store used by tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nymstr-project/nymstr-groupd/pkg/storage"
)

// Store implements storage.IdentityStore in memory.
type Store struct {
	mu    sync.RWMutex
	users map[string]*storage.User
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{users: make(map[string]*storage.User)}
}

// InsertPending creates a pending registration.
func (s *Store) InsertPending(ctx context.Context, username, publicKey string) error {
	if err := storage.ValidateInsert(username, publicKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return storage.ErrConflict
	}
	s.users[username] = &storage.User{
		Username:  username,
		PublicKey: publicKey,
		Status:    storage.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// Lookup returns a copy of the user record.
func (s *Store) Lookup(ctx context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

// MarkApproved transitions pending -> approved.
func (s *Store) MarkApproved(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return storage.ErrNotFound
	}
	if user.Status == storage.StatusApproved {
		return storage.ErrAlreadyApproved
	}
	now := time.Now().UTC()
	user.Status = storage.StatusApproved
	user.ApprovedAt = &now
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
