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

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nymstr-project/nymstr-groupd/config"
	"github.com/nymstr-project/nymstr-groupd/crypto/pgp"
	"github.com/nymstr-project/nymstr-groupd/crypto/vault"
	"github.com/nymstr-project/nymstr-groupd/health"
	"github.com/nymstr-project/nymstr-groupd/internal/logger"
	"github.com/nymstr-project/nymstr-groupd/pkg/storage"
	"github.com/nymstr-project/nymstr-groupd/pkg/storage/postgres"
	"github.com/nymstr-project/nymstr-groupd/pkg/storage/sqlite"
	"github.com/nymstr-project/nymstr-groupd/server"
	"github.com/nymstr-project/nymstr-groupd/session"
	"github.com/nymstr-project/nymstr-groupd/stream"
	"github.com/nymstr-project/nymstr-groupd/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	passphrase, err := cfg.ReadPassphrase()
	if err != nil {
		log.Error("startup failed", logger.Error(err))
		return err
	}

	keys, err := vault.Open(cfg.KeysDir, passphrase)
	if err != nil {
		log.Error("cannot open key vault", logger.Error(err))
		return err
	}
	log.Info("server keypair loaded", logger.String("keys_dir", cfg.KeysDir))

	admin, err := pgp.ParsePublicKey(cfg.AdminPublicKey)
	if err != nil {
		log.Error("cannot parse admin public key", logger.Error(err))
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("cannot open identity store", logger.Error(err))
		return err
	}
	defer store.Close()

	msgStream, err := stream.New(cfg.RedisURL, cfg.StreamKey)
	if err != nil {
		log.Error("cannot configure stream broker", logger.Error(err))
		return err
	}
	defer msgStream.Close()
	if err := msgStream.Ping(ctx); err != nil {
		log.Error("cannot reach stream broker", logger.Error(err))
		return fmt.Errorf("ping stream broker: %w", err)
	}

	tr := transport.New(cfg.NymWSURL, log)
	if err := tr.Connect(ctx); err != nil {
		log.Error("cannot connect to nym-client", logger.Error(err))
		return err
	}
	defer tr.Close()

	sessions := session.NewTable(cfg.SessionIdleTimeout)
	defer sessions.Close()

	checker := health.NewChecker(5 * time.Second)
	checker.Register("identity_store", store.Ping)
	checker.Register("stream_broker", msgStream.Ping)

	dispatcher := server.NewDispatcher(log, store, msgStream, sessions, keys, admin)
	srv := server.New(log, dispatcher, tr, cfg.MetricsAddr, checker)

	log.Info("relay started",
		logger.String("nym_client", cfg.NymWSURL),
		logger.String("stream_key", cfg.StreamKey),
	)

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("relay stopped", logger.Error(err))
		return err
	}
	log.Info("relay shut down")
	return nil
}

func buildLogger(cfg *config.Config) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogFilePath != "" {
		return logger.NewFileLogger(cfg.LogFilePath, level)
	}
	l := logger.NewDefaultLogger()
	l.SetLevel(level)
	return l, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.IdentityStore, error) {
	if cfg.DatabaseURL != "" {
		return postgres.NewStore(ctx, cfg.DatabaseURL)
	}
	return sqlite.NewStore(ctx, cfg.DatabasePath)
}
