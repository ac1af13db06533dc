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

// Package pgp wraps the OpenPGP primitives the relay needs: armored key
// parsing, detached-signature verification over exact payload bytes, and
// detached signing of reply payloads.
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

var (
	// ErrInvalidSignature is returned when a well-formed signature does not
	// verify over the given payload with the given key.
	ErrInvalidSignature = errors.New("pgp: invalid signature")

	// ErrMalformed is returned when a key or signature block cannot be parsed.
	ErrMalformed = errors.New("pgp: malformed armored input")
)

// ParsePublicKey parses a single armored public key block.
func ParsePublicKey(armored string) (*openpgp.Entity, error) {
	ring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("%w: empty keyring", ErrMalformed)
	}
	return ring[0], nil
}

// Verify checks an armored detached signature over exactly payload using the
// armored public key. It returns nil, ErrInvalidSignature, or ErrMalformed.
func Verify(payload []byte, armoredSig, armoredPub string) error {
	entity, err := ParsePublicKey(armoredPub)
	if err != nil {
		return err
	}
	return VerifyWithEntity(payload, armoredSig, entity)
}

// VerifyWithEntity is Verify against an already-parsed key.
func VerifyWithEntity(payload []byte, armoredSig string, entity *openpgp.Entity) error {
	block, err := armor.Decode(strings.NewReader(armoredSig))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if block.Type != openpgp.SignatureType {
		return fmt.Errorf("%w: unexpected armor type %q", ErrMalformed, block.Type)
	}

	_, err = openpgp.CheckArmoredDetachedSignature(
		openpgp.EntityList{entity},
		bytes.NewReader(payload),
		strings.NewReader(armoredSig),
		nil,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Sign produces an armored detached signature over payload with the signing
// entity's private key. The key must be decrypted.
func Sign(payload []byte, signer *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, signer, bytes.NewReader(payload), nil); err != nil {
		return "", fmt.Errorf("detach sign: %w", err)
	}
	return buf.String(), nil
}

// GenerateKey creates a fresh Ed25519 signing key with an X25519 encryption
// subkey, named after the given identity.
func GenerateKey(name string) (*openpgp.Entity, error) {
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity(name, "", "", cfg)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return entity, nil
}

// ArmorPublicKey serializes the entity's public half as an armored block.
func ArmorPublicKey(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", fmt.Errorf("armor encode: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return "", fmt.Errorf("serialize public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close armor: %w", err)
	}
	return buf.String(), nil
}
