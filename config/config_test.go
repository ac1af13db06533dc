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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, "ws://127.0.0.1:1977", cfg.NymWSURL)
	require.Equal(t, "nymstr:group", cfg.StreamKey)
	require.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "groupd.yaml")
	require.NoError(t, os.WriteFile(file, []byte("database_path: /from/file.db\nkeys_dir: /from/file/keys\n"), 0o644))

	cfg := Defaults()
	require.NoError(t, cfg.LoadFile(file))
	require.Equal(t, "/from/file.db", cfg.DatabasePath)

	t.Setenv("DATABASE_PATH", "/from/env.db")
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	cfg.ApplyEnv()

	require.Equal(t, "/from/env.db", cfg.DatabasePath)
	require.Equal(t, "/from/file/keys", cfg.KeysDir)
	require.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.Error(t, cfg.Validate())

	cfg.DatabasePath = "/tmp/ident.db"
	cfg.KeysDir = "/tmp/keys"
	cfg.SecretPath = "/tmp/secret"
	cfg.RedisURL = "redis://localhost:6379"
	cfg.AdminPublicKey = "-----BEGIN PGP PUBLIC KEY BLOCK-----"
	require.NoError(t, cfg.Validate())

	cfg.RedisURL = ""
	require.Error(t, cfg.Validate())
}

func TestReadPassphrase(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(secret, []byte("hunter2\n"), 0o600))

	cfg := Defaults()
	cfg.SecretPath = secret

	pass, err := cfg.ReadPassphrase()
	require.NoError(t, err)
	require.Equal(t, "hunter2", pass)

	require.NoError(t, os.WriteFile(secret, []byte("\n"), 0o600))
	_, err = cfg.ReadPassphrase()
	require.Error(t, err)
}
