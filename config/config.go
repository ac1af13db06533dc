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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option for the relay daemon.
type Config struct {
	// Identity store. DatabaseURL selects the Postgres backend; when it is
	// empty DatabasePath selects the SQLite backend.
	DatabasePath string `yaml:"database_path"`
	DatabaseURL  string `yaml:"database_url"`

	// Key vault.
	KeysDir    string `yaml:"keys_dir"`
	SecretPath string `yaml:"secret_path"`

	// Logging.
	LogFilePath string `yaml:"log_file_path"`
	LogLevel    string `yaml:"log_level"`

	// Mixnet transport.
	NymClientID   string `yaml:"nym_client_id"`
	NymSDKStorage string `yaml:"nym_sdk_storage"`
	NymWSURL      string `yaml:"nym_ws_url"`

	// Message broker.
	RedisURL  string `yaml:"redis_url"`
	StreamKey string `yaml:"stream_key"`

	// Admin authority. Armored PGP public key.
	AdminPublicKey string `yaml:"admin_public_key"`

	// Observability listener; disabled when empty.
	MetricsAddr string `yaml:"metrics_addr"`

	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

// Defaults returns a config with the built-in defaults applied.
func Defaults() *Config {
	return &Config{
		NymWSURL:           "ws://127.0.0.1:1977",
		StreamKey:          "nymstr:group",
		LogLevel:           "info",
		SessionIdleTimeout: 30 * time.Minute,
	}
}

// LoadFile merges a YAML config file into cfg. Values set by the file are
// later overridden by environment variables in ApplyEnv.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the startup-fatal option set.
func (c *Config) Validate() error {
	if c.DatabasePath == "" && c.DatabaseURL == "" {
		return fmt.Errorf("one of DATABASE_PATH or DATABASE_URL is required")
	}
	if c.KeysDir == "" {
		return fmt.Errorf("KEYS_DIR is required")
	}
	if c.SecretPath == "" {
		return fmt.Errorf("SECRET_PATH is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.AdminPublicKey == "" {
		return fmt.Errorf("ADMIN_PUBLIC_KEY is required")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive")
	}
	return nil
}

// ReadPassphrase reads the vault passphrase from SecretPath. The file is
// read once at startup; trailing newlines are stripped.
func (c *Config) ReadPassphrase() (string, error) {
	data, err := os.ReadFile(c.SecretPath)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	pass := string(data)
	for len(pass) > 0 && (pass[len(pass)-1] == '\n' || pass[len(pass)-1] == '\r') {
		pass = pass[:len(pass)-1]
	}
	if pass == "" {
		return "", fmt.Errorf("passphrase file %s is empty", c.SecretPath)
	}
	return pass, nil
}
