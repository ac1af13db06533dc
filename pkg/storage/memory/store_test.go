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

package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nymstr-project/nymstr-groupd/crypto/pgp"
	"github.com/nymstr-project/nymstr-groupd/pkg/storage"
)

func testKey(t *testing.T, name string) string {
	t.Helper()
	entity, err := pgp.GenerateKey(name)
	require.NoError(t, err)
	pub, err := pgp.ArmorPublicKey(entity)
	require.NoError(t, err)
	return pub
}

func TestInsertLookupApprove(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	pub := testKey(t, "alice")

	require.NoError(t, s.InsertPending(ctx, "alice", pub))

	user, err := s.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, storage.StatusPending, user.Status)
	require.Nil(t, user.ApprovedAt)
	require.False(t, user.CreatedAt.IsZero())

	require.NoError(t, s.MarkApproved(ctx, "alice"))

	user, err = s.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.True(t, user.Approved())
	require.NotNil(t, user.ApprovedAt)
}

func TestInsertConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	pub := testKey(t, "alice")

	require.NoError(t, s.InsertPending(ctx, "alice", pub))
	require.ErrorIs(t, s.InsertPending(ctx, "alice", pub), storage.ErrConflict)
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	pub := testKey(t, "alice")

	require.ErrorIs(t, s.InsertPending(ctx, "no spaces allowed", pub), storage.ErrInvalid)
	require.ErrorIs(t, s.InsertPending(ctx, "", pub), storage.ErrInvalid)
	require.ErrorIs(t, s.InsertPending(ctx, "alice", "not a key"), storage.ErrInvalid)
}

func TestApproveTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.ErrorIs(t, s.MarkApproved(ctx, "ghost"), storage.ErrNotFound)

	require.NoError(t, s.InsertPending(ctx, "alice", testKey(t, "alice")))
	require.NoError(t, s.MarkApproved(ctx, "alice"))
	require.ErrorIs(t, s.MarkApproved(ctx, "alice"), storage.ErrAlreadyApproved)

	// Approval never reverses.
	user, err := s.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.True(t, user.Approved())
}

func TestConcurrentInsertOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	pub := testKey(t, "alice")

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertPending(ctx, "alice", pub)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, storage.ErrConflict)
		}
	}
	require.Equal(t, 1, ok)
}
