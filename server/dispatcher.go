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

package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/nymstr-project/nymstr-groupd/crypto/pgp"
	"github.com/nymstr-project/nymstr-groupd/crypto/vault"
	"github.com/nymstr-project/nymstr-groupd/internal/logger"
	"github.com/nymstr-project/nymstr-groupd/internal/metrics"
	"github.com/nymstr-project/nymstr-groupd/pkg/storage"
	"github.com/nymstr-project/nymstr-groupd/session"
	"github.com/nymstr-project/nymstr-groupd/stream"
	"github.com/nymstr-project/nymstr-groupd/transport"
)

// MessageStream is the slice of the stream adapter the dispatcher uses.
type MessageStream interface {
	Append(ctx context.Context, ciphertext []byte) (string, error)
	ReadAfter(ctx context.Context, lastSeenID string) ([]stream.Entry, error)
}

// Dispatcher parses requests, enforces the per-action preconditions,
// coordinates the durable stores, and produces signed replies.
type Dispatcher struct {
	log      logger.Logger
	store    storage.IdentityStore
	stream   MessageStream
	sessions *session.Table
	keys     *vault.ServerKeys
	admin    *openpgp.Entity
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(
	log logger.Logger,
	store storage.IdentityStore,
	msgStream MessageStream,
	sessions *session.Table,
	keys *vault.ServerKeys,
	admin *openpgp.Entity,
) *Dispatcher {
	return &Dispatcher{
		log:      log,
		store:    store,
		stream:   msgStream,
		sessions: sessions,
		keys:     keys,
		admin:    admin,
	}
}

// Handle processes one raw frame from senderTag and returns the signed
// reply bytes. It never returns an unsigned reply; a nil return means the
// reply could not be produced at all (logged).
func (d *Dispatcher) Handle(ctx context.Context, senderTag string, data []byte) []byte {
	metrics.RequestSize.Observe(float64(len(data)))

	if len(data) > transport.MaxFrameSize {
		return d.reply(actionErrorResponse, contentTooLarge)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil || req.Action == "" {
		return d.reply(actionErrorResponse, contentMalformed)
	}

	log := d.log.WithFields(logger.String("action", req.Action))

	var content string
	switch req.Action {
	case ActionRegister:
		content = d.handleRegister(ctx, log, &req)
	case ActionApproveGroup:
		content = d.handleApprove(ctx, log, &req)
	case ActionConnect:
		content = d.handleConnect(ctx, log, senderTag, &req)
	case ActionSendGroup:
		content = d.handleSend(ctx, log, senderTag, &req)
	case ActionFetchGroup:
		return d.handleFetch(ctx, log, senderTag, &req)
	default:
		return d.reply(actionErrorResponse, contentUnknownAction)
	}

	// A timeout anywhere inside a handler yields the generic internal error.
	if ctx.Err() != nil {
		content = contentInternal
	}

	return d.reply(responseAction(req.Action), content)
}

// handleRegister admits a new username as pending, gated on a
// self-signature proving control of the offered key.
func (d *Dispatcher) handleRegister(ctx context.Context, log logger.Logger, req *Request) string {
	if req.Username == "" || req.PublicKey == "" || req.Signature == "" {
		return contentMalformed
	}

	if err := d.verify([]byte(req.PublicKey), req.Signature, req.PublicKey); err != nil {
		log.Info("registration rejected", logger.String("username", req.Username), logger.Error(err))
		return contentRegistrationFailed
	}

	err := d.store.InsertPending(ctx, req.Username, req.PublicKey)
	switch {
	case err == nil:
		log.Info("user registered pending", logger.String("username", req.Username))
		return contentPending
	case errors.Is(err, storage.ErrConflict):
		return contentAlreadyRegistered
	case errors.Is(err, storage.ErrInvalid):
		log.Info("registration rejected", logger.String("username", req.Username), logger.Error(err))
		return contentRegistrationFailed
	default:
		log.Error("registration store failure", logger.Error(err))
		return contentInternal
	}
}

// handleApprove is the single admin privilege: pending -> approved.
func (d *Dispatcher) handleApprove(ctx context.Context, log logger.Logger, req *Request) string {
	if req.Username == "" || req.Signature == "" {
		return contentMalformed
	}

	if err := d.verifyWithEntity([]byte(req.Username), req.Signature, d.admin); err != nil {
		log.Warn("approve rejected", logger.String("username", req.Username), logger.Error(err))
		return contentUnauthorized
	}

	err := d.store.MarkApproved(ctx, req.Username)
	switch {
	case err == nil:
		log.Info("user approved", logger.String("username", req.Username))
		return contentSuccess
	case errors.Is(err, storage.ErrAlreadyApproved):
		// Approval is idempotent at the status level.
		return contentSuccess
	default:
		log.Error("approve failed", logger.String("username", req.Username), logger.Error(err))
		return contentApproveFailed
	}
}

// handleConnect authenticates an approved user and binds their sender tag.
func (d *Dispatcher) handleConnect(ctx context.Context, log logger.Logger, senderTag string, req *Request) string {
	if req.Username == "" || req.Signature == "" {
		return contentMalformed
	}

	user, err := d.store.Lookup(ctx, req.Username)
	if errors.Is(err, storage.ErrNotFound) {
		return contentNotApproved
	}
	if err != nil {
		log.Error("connect lookup failure", logger.Error(err))
		return contentInternal
	}
	if !user.Approved() {
		return contentNotApproved
	}

	if err := d.verify([]byte(req.Username), req.Signature, user.PublicKey); err != nil {
		log.Info("connect rejected", logger.String("username", req.Username), logger.Error(err))
		return contentBadSignature
	}

	d.sessions.Bind(senderTag, req.Username)
	log.Info("session bound", logger.String("username", req.Username))
	return contentSuccess
}

// handleSend appends opaque ciphertext to the group stream. The server
// never inspects the payload.
func (d *Dispatcher) handleSend(ctx context.Context, log logger.Logger, senderTag string, req *Request) string {
	username, ok := d.sessions.Lookup(senderTag)
	if !ok {
		return contentNotConnected
	}
	if req.Ciphertext == "" {
		return contentMissingCiphertext
	}

	id, err := d.stream.Append(ctx, []byte(req.Ciphertext))
	if err != nil {
		metrics.StreamAppends.WithLabelValues("failure").Inc()
		log.Error("stream append failed", logger.String("username", username), logger.Error(err))
		return contentInternal
	}
	metrics.StreamAppends.WithLabelValues("success").Inc()
	log.Debug("message appended", logger.String("username", username), logger.String("entry_id", id))
	return contentSuccess
}

// handleFetch returns every entry after the client's cursor, in broker
// order. It builds the full reply itself because the signature covers the
// serialized messages array rather than the content string.
func (d *Dispatcher) handleFetch(ctx context.Context, log logger.Logger, senderTag string, req *Request) []byte {
	respAction := responseAction(ActionFetchGroup)

	username, ok := d.sessions.Lookup(senderTag)
	if !ok {
		return d.reply(respAction, contentNotConnected)
	}
	if req.LastSeenID == nil || req.Signature == "" {
		return d.reply(respAction, contentMalformed)
	}

	user, err := d.store.Lookup(ctx, username)
	if err != nil {
		log.Error("fetch lookup failure", logger.String("username", username), logger.Error(err))
		return d.reply(respAction, contentInternal)
	}

	if err := d.verify([]byte(*req.LastSeenID), req.Signature, user.PublicKey); err != nil {
		log.Info("fetch rejected", logger.String("username", username), logger.Error(err))
		return d.reply(respAction, contentBadSignature)
	}

	entries, err := d.stream.ReadAfter(ctx, *req.LastSeenID)
	if err != nil {
		metrics.StreamReads.WithLabelValues("failure").Inc()
		log.Error("stream read failed", logger.Error(err))
		return d.reply(respAction, contentInternal)
	}
	metrics.StreamReads.WithLabelValues("success").Inc()
	metrics.StreamEntriesReturned.Add(float64(len(entries)))

	// [[ciphertext, entry_id], ...] in ascending broker order. The array is
	// marshaled once; the same bytes are signed and embedded, so signed
	// bytes and wire bytes cannot diverge.
	pairs := make([][2]string, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, [2]string{string(e.Ciphertext), e.ID})
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		log.Error("marshal messages failed", logger.Error(err))
		return d.reply(respAction, contentInternal)
	}

	sig, err := pgp.Sign(raw, d.keys.Entity)
	if err != nil {
		log.Error("sign fetch reply failed", logger.Error(err))
		return nil
	}
	metrics.RepliesSigned.Inc()
	countRequest(respAction, contentSuccess)

	return d.marshalReply(&Reply{
		Action:    respAction,
		Content:   contentSuccess,
		Messages:  raw,
		Signature: sig,
	})
}

// reply builds a signed reply whose signature covers the content bytes.
func (d *Dispatcher) reply(action, content string) []byte {
	countRequest(action, content)
	sig, err := pgp.Sign([]byte(content), d.keys.Entity)
	if err != nil {
		d.log.Error("sign reply failed", logger.Error(err))
		return nil
	}
	metrics.RepliesSigned.Inc()
	return d.marshalReply(&Reply{Action: action, Content: content, Signature: sig})
}

func countRequest(action, content string) {
	status := "error"
	if content == contentSuccess || content == contentPending {
		status = "success"
	}
	metrics.RequestsProcessed.WithLabelValues(action, status).Inc()
}

func (d *Dispatcher) marshalReply(r *Reply) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		d.log.Error("marshal reply failed", logger.Error(err))
		return nil
	}
	return data
}

func (d *Dispatcher) verify(payload []byte, armoredSig, armoredPub string) error {
	err := pgp.Verify(payload, armoredSig, armoredPub)
	d.countVerification(err)
	return err
}

func (d *Dispatcher) verifyWithEntity(payload []byte, armoredSig string, entity *openpgp.Entity) error {
	err := pgp.VerifyWithEntity(payload, armoredSig, entity)
	d.countVerification(err)
	return err
}

func (d *Dispatcher) countVerification(err error) {
	switch {
	case err == nil:
		metrics.SignatureVerifications.WithLabelValues("valid").Inc()
	case errors.Is(err, pgp.ErrMalformed):
		metrics.SignatureVerifications.WithLabelValues("malformed").Inc()
	default:
		metrics.SignatureVerifications.WithLabelValues("invalid").Inc()
	}
}
