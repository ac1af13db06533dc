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

// Package vault manages the server's long-lived PGP keypair: generated on
// first start, passphrase-encrypted at rest, never rotated in-process.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/nymstr-project/nymstr-groupd/crypto/pgp"
)

const (
	publicKeyFile = "server.pub.asc"
	secretKeyFile = "server.sec.asc.enc"

	serverIdentity = "nymstr-groupd"
)

// ErrLocked is returned when the secret key cannot be decrypted with the
// given passphrase, or the stored blob is corrupt.
var ErrLocked = errors.New("vault: cannot decrypt secret key")

// ServerKeys holds the decrypted server keypair.
type ServerKeys struct {
	// Entity is the decrypted keypair, usable for signing.
	Entity *openpgp.Entity
	// PublicArmored is the armored public key as stored on disk.
	PublicArmored string
}

// Open loads the server keypair from keysDir, generating it on first use.
// Exactly one of the two key files present is an error; an existing
// keypair is never overwritten.
func Open(keysDir, passphrase string) (*ServerKeys, error) {
	pubPath := filepath.Join(keysDir, publicKeyFile)
	secPath := filepath.Join(keysDir, secretKeyFile)

	pubExists := fileExists(pubPath)
	secExists := fileExists(secPath)

	switch {
	case pubExists && secExists:
		return load(pubPath, secPath, passphrase)
	case !pubExists && !secExists:
		return generate(keysDir, pubPath, secPath, passphrase)
	default:
		return nil, fmt.Errorf("vault: partial keypair in %s: have pub=%v sec=%v", keysDir, pubExists, secExists)
	}
}

func load(pubPath, secPath, passphrase string) (*ServerKeys, error) {
	pubData, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	secData, err := os.ReadFile(secPath)
	if err != nil {
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(secData))
	if err != nil || len(ring) == 0 {
		return nil, fmt.Errorf("%w: parse: %v", ErrLocked, err)
	}
	entity := ring[0]
	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("%w: no private key in %s", ErrLocked, secPath)
	}

	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLocked, err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("%w: subkey: %v", ErrLocked, err)
			}
		}
	}

	return &ServerKeys{Entity: entity, PublicArmored: string(pubData)}, nil
}

func generate(keysDir, pubPath, secPath, passphrase string) (*ServerKeys, error) {
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, fmt.Errorf("create keys dir: %w", err)
	}

	entity, err := pgp.GenerateKey(serverIdentity)
	if err != nil {
		return nil, err
	}

	pubArmored, err := pgp.ArmorPublicKey(entity)
	if err != nil {
		return nil, err
	}

	secArmored, err := encryptAndArmorSecret(entity, passphrase)
	if err != nil {
		return nil, err
	}

	if err := writeFileAtomic(pubPath, []byte(pubArmored), 0o644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	if err := writeFileAtomic(secPath, []byte(secArmored), 0o600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}

	return &ServerKeys{Entity: entity, PublicArmored: pubArmored}, nil
}

// encryptAndArmorSecret serializes the private key encrypted under the
// passphrase, then restores the in-memory entity to its decrypted state so
// it stays usable for signing.
func encryptAndArmorSecret(entity *openpgp.Entity, passphrase string) (string, error) {
	pass := []byte(passphrase)

	if err := entity.PrivateKey.Encrypt(pass); err != nil {
		return "", fmt.Errorf("encrypt private key: %w", err)
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil {
			if err := sub.PrivateKey.Encrypt(pass); err != nil {
				return "", fmt.Errorf("encrypt subkey: %w", err)
			}
		}
	}

	var buf strings.Builder
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return "", fmt.Errorf("armor encode: %w", err)
	}
	if err := entity.SerializePrivateWithoutSigning(w, nil); err != nil {
		return "", fmt.Errorf("serialize private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close armor: %w", err)
	}

	if err := entity.PrivateKey.Decrypt(pass); err != nil {
		return "", fmt.Errorf("restore private key: %w", err)
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil {
			if err := sub.PrivateKey.Decrypt(pass); err != nil {
				return "", fmt.Errorf("restore subkey: %w", err)
			}
		}
	}

	return buf.String(), nil
}

// writeFileAtomic writes via a temp file in the same directory followed by
// rename, so a crash never leaves a half-written key file.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-key-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
