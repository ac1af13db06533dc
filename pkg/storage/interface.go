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

// Package storage defines the durable identity store for registered group
// members and its backend implementations.
package storage

import (
	"context"
	"errors"
	"regexp"

	"github.com/nymstr-project/nymstr-groupd/crypto/pgp"
)

var (
	// ErrConflict is returned when inserting a username that already exists.
	ErrConflict = errors.New("storage: username already registered")

	// ErrNotFound is returned when a username has no record.
	ErrNotFound = errors.New("storage: user not found")

	// ErrAlreadyApproved is returned by MarkApproved for an approved user.
	ErrAlreadyApproved = errors.New("storage: user already approved")

	// ErrInvalid is returned when a record fails validation before insert.
	ErrInvalid = errors.New("storage: invalid user record")
)

// IdentityStore is the durable mapping username -> {public key, status}.
// All mutating operations are durable before they return nil.
type IdentityStore interface {
	// InsertPending creates a pending registration. Exactly one concurrent
	// insert for the same username succeeds; the rest observe ErrConflict.
	InsertPending(ctx context.Context, username, publicKey string) error

	// Lookup returns the user record or ErrNotFound.
	Lookup(ctx context.Context, username string) (*User, error)

	// MarkApproved transitions pending -> approved. Returns ErrNotFound for
	// unknown users and ErrAlreadyApproved for approved ones; the approved
	// state is never reversed.
	MarkApproved(ctx context.Context, username string) error

	// Ping checks backend liveness.
	Ping(ctx context.Context) error

	Close() error
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ValidUsername reports whether the username is a bounded printable string
// of the accepted alphabet.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ValidateInsert enforces the insert-time invariants shared by all
// backends: username shape and a parseable armored public key.
func ValidateInsert(username, publicKey string) error {
	if !ValidUsername(username) {
		return errors.Join(ErrInvalid, errors.New("bad username"))
	}
	if _, err := pgp.ParsePublicKey(publicKey); err != nil {
		return errors.Join(ErrInvalid, err)
	}
	return nil
}
