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

// Package server runs the relay: it pumps frames off the mixnet
// transport, dispatches each in its own goroutine, and supervises the
// supporting loops.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nymstr-project/nymstr-groupd/health"
	"github.com/nymstr-project/nymstr-groupd/internal/logger"
	"github.com/nymstr-project/nymstr-groupd/internal/metrics"
	"github.com/nymstr-project/nymstr-groupd/transport"
)

// requestTimeout bounds verification and store work per request; on
// expiry the client sees the generic internal error.
const requestTimeout = 5 * time.Second

// Transport is the slice of the mixnet adapter the server drives.
type Transport interface {
	Run(ctx context.Context) error
	Receive() <-chan transport.Inbound
	Send(ctx context.Context, senderTag string, data []byte) error
}

// Server owns the serve loops around a Dispatcher.
type Server struct {
	log        logger.Logger
	dispatcher *Dispatcher
	transport  Transport

	metricsAddr string
	checker     *health.Checker
}

// New assembles a server. The metrics listener runs only when metricsAddr
// is set; checker may be nil, in which case /healthz is not served.
func New(log logger.Logger, dispatcher *Dispatcher, tr Transport, metricsAddr string, checker *health.Checker) *Server {
	return &Server{
		log:         log,
		dispatcher:  dispatcher,
		transport:   tr,
		metricsAddr: metricsAddr,
		checker:     checker,
	}
}

// Run blocks until the context is canceled or a serve loop fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.transport.Run(ctx)
	})

	g.Go(func() error {
		for in := range s.transport.Receive() {
			in := in
			go s.handleFrame(ctx, in)
		}
		return nil
	})

	if s.metricsAddr != "" {
		g.Go(func() error {
			return s.serveMetrics(ctx)
		})
	}

	return g.Wait()
}

// handleFrame processes one inbound frame. Requests from distinct sender
// tags run fully in parallel; the stores provide all serialization.
func (s *Server) handleFrame(ctx context.Context, in transport.Inbound) {
	reqID := uuid.NewString()
	log := s.log.WithFields(
		logger.String("request_id", reqID),
		logger.String("sender_tag", in.SenderTag),
	)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in request handler", logger.Any("panic", r))
			if reply := s.dispatcher.reply(actionErrorResponse, contentInternal); reply != nil {
				_ = s.transport.Send(ctx, in.SenderTag, reply)
			}
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reply := s.dispatcher.Handle(reqCtx, in.SenderTag, in.Data)
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	if reply == nil {
		return
	}

	// Side effects are never rolled back when the peer has gone away; the
	// reply is simply dropped and logged.
	if err := s.transport.Send(ctx, in.SenderTag, reply); err != nil {
		log.Warn("reply dropped", logger.Error(err))
	}
}

func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if s.checker != nil {
		mux.Handle("/healthz", s.checker.Handler())
	}

	srv := &http.Server{Addr: s.metricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("metrics listener started", logger.String("addr", s.metricsAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
