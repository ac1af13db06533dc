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

package storage

import "time"

// Status is the registration state of a user.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

// User is one identity record.
type User struct {
	Username   string
	PublicKey  string // armored PGP public key block
	Status     Status
	CreatedAt  time.Time
	ApprovedAt *time.Time // nil while pending
}

// Approved reports whether the user has been admitted to the group.
func (u *User) Approved() bool {
	return u.Status == StatusApproved
}
