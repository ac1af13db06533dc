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

	"github.com/joho/godotenv"
)

// Load builds the effective configuration: defaults, then the optional
// YAML file named by GROUPD_CONFIG, then a .env file if present, then the
// process environment. Environment variables win.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("GROUPD_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays recognized environment variables onto the config.
func (c *Config) ApplyEnv() {
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.KeysDir, "KEYS_DIR")
	setString(&c.SecretPath, "SECRET_PATH")
	setString(&c.LogFilePath, "LOG_FILE_PATH")
	setString(&c.LogLevel, "GROUPD_LOG_LEVEL")
	setString(&c.NymClientID, "NYM_CLIENT_ID")
	setString(&c.NymSDKStorage, "NYM_SDK_STORAGE")
	setString(&c.NymWSURL, "NYM_WS_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.StreamKey, "STREAM_KEY")
	setString(&c.AdminPublicKey, "ADMIN_PUBLIC_KEY")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setDuration(&c.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring %s=%q: %v\n", key, v, err)
		return
	}
	*dst = d
}
