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

package pgp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	entity, err := GenerateKey("alice")
	require.NoError(t, err)

	pub, err := ArmorPublicKey(entity)
	require.NoError(t, err)
	require.Contains(t, pub, "PGP PUBLIC KEY BLOCK")

	payload := []byte("alice")
	sig, err := Sign(payload, entity)
	require.NoError(t, err)
	require.Contains(t, sig, "PGP SIGNATURE")

	require.NoError(t, Verify(payload, sig, pub))
}

func TestVerifyRejectsWrongPayload(t *testing.T) {
	entity, err := GenerateKey("alice")
	require.NoError(t, err)
	pub, err := ArmorPublicKey(entity)
	require.NoError(t, err)

	sig, err := Sign([]byte("alice"), entity)
	require.NoError(t, err)

	err = Verify([]byte("mallory"), sig, pub)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	alice, err := GenerateKey("alice")
	require.NoError(t, err)
	mallory, err := GenerateKey("mallory")
	require.NoError(t, err)

	malloryPub, err := ArmorPublicKey(mallory)
	require.NoError(t, err)

	sig, err := Sign([]byte("alice"), alice)
	require.NoError(t, err)

	err = Verify([]byte("alice"), sig, malloryPub)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyMalformedInputs(t *testing.T) {
	entity, err := GenerateKey("alice")
	require.NoError(t, err)
	pub, err := ArmorPublicKey(entity)
	require.NoError(t, err)

	t.Run("garbage signature", func(t *testing.T) {
		err := Verify([]byte("alice"), "not a signature", pub)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("garbage key", func(t *testing.T) {
		sig, err := Sign([]byte("alice"), entity)
		require.NoError(t, err)
		err = Verify([]byte("alice"), sig, "not a key")
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("armor type mismatch", func(t *testing.T) {
		// A public key block is well-formed armor but not a signature.
		err := Verify([]byte("alice"), pub, pub)
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestParsePublicKey(t *testing.T) {
	entity, err := GenerateKey("alice")
	require.NoError(t, err)
	pub, err := ArmorPublicKey(entity)
	require.NoError(t, err)

	parsed, err := ParsePublicKey(pub)
	require.NoError(t, err)
	require.Equal(t, entity.PrimaryKey.KeyId, parsed.PrimaryKey.KeyId)

	_, err = ParsePublicKey("")
	require.ErrorIs(t, err, ErrMalformed)
}
