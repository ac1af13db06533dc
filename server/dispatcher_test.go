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
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nymstr-project/nymstr-groupd/crypto/pgp"
	"github.com/nymstr-project/nymstr-groupd/crypto/vault"
	"github.com/nymstr-project/nymstr-groupd/internal/logger"
	"github.com/nymstr-project/nymstr-groupd/pkg/storage/memory"
	"github.com/nymstr-project/nymstr-groupd/session"
	"github.com/nymstr-project/nymstr-groupd/stream"
)

// client is a test-side group member with its own keypair.
type client struct {
	entity *openpgp.Entity
	pub    string
}

func newClient(t *testing.T, name string) *client {
	t.Helper()
	entity, err := pgp.GenerateKey(name)
	require.NoError(t, err)
	pub, err := pgp.ArmorPublicKey(entity)
	require.NoError(t, err)
	return &client{entity: entity, pub: pub}
}

func (c *client) sign(t *testing.T, payload string) string {
	t.Helper()
	sig, err := pgp.Sign([]byte(payload), c.entity)
	require.NoError(t, err)
	return sig
}

type fixture struct {
	d      *Dispatcher
	admin  *client
	server *vault.ServerKeys
	store  *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	keys, err := vault.Open(t.TempDir(), "test-pass")
	require.NoError(t, err)

	admin := newClient(t, "admin")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := memory.NewStore()
	sessions := session.NewTable(time.Minute)
	t.Cleanup(sessions.Close)

	d := NewDispatcher(
		logger.NewLogger(io.Discard, logger.ErrorLevel),
		store,
		stream.NewWithClient(rdb, "nymstr:group"),
		sessions,
		keys,
		admin.entity,
	)
	return &fixture{d: d, admin: admin, server: keys, store: store}
}

// do sends a request object and decodes the reply, verifying the reply
// signature against the server public key along the way.
func (f *fixture) do(t *testing.T, senderTag string, req map[string]interface{}) *Reply {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return f.doRaw(t, senderTag, data)
}

func (f *fixture) doRaw(t *testing.T, senderTag string, data []byte) *Reply {
	t.Helper()
	raw := f.d.Handle(context.Background(), senderTag, data)
	require.NotNil(t, raw)

	var reply Reply
	require.NoError(t, json.Unmarshal(raw, &reply))

	// Every reply, error or not, must verify against the server key.
	signed := []byte(reply.Content)
	if len(reply.Messages) > 0 {
		signed = reply.Messages
	}
	require.NoError(t, pgp.Verify(signed, reply.Signature, f.server.PublicArmored))
	return &reply
}

func (f *fixture) register(t *testing.T, tag string, c *client, username string) *Reply {
	return f.do(t, tag, map[string]interface{}{
		"action":    "register",
		"username":  username,
		"publicKey": c.pub,
		"signature": c.sign(t, c.pub),
	})
}

func (f *fixture) approve(t *testing.T, username string, signer *client) *Reply {
	return f.do(t, "admin-tag", map[string]interface{}{
		"action":    "approveGroup",
		"username":  username,
		"signature": signer.sign(t, username),
	})
}

func (f *fixture) connect(t *testing.T, tag string, c *client, username string) *Reply {
	return f.do(t, tag, map[string]interface{}{
		"action":    "connect",
		"username":  username,
		"signature": c.sign(t, username),
	})
}

func TestHappyPathSingleMessage(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	reply := f.register(t, "tag-a", alice, "alice")
	require.Equal(t, "registerResponse", reply.Action)
	require.Equal(t, "pending", reply.Content)

	reply = f.approve(t, "alice", f.admin)
	require.Equal(t, "approveGroupResponse", reply.Action)
	require.Equal(t, "success", reply.Content)

	reply = f.connect(t, "tag-a", alice, "alice")
	require.Equal(t, "connectResponse", reply.Action)
	require.Equal(t, "success", reply.Content)

	reply = f.do(t, "tag-a", map[string]interface{}{
		"action":     "sendGroup",
		"ciphertext": "Q0lQSEVS",
	})
	require.Equal(t, "sendGroupResponse", reply.Action)
	require.Equal(t, "success", reply.Content)

	reply = f.do(t, "tag-a", map[string]interface{}{
		"action":     "fetchGroup",
		"lastSeenId": "",
		"signature":  alice.sign(t, ""),
	})
	require.Equal(t, "fetchGroupResponse", reply.Action)
	require.Equal(t, "success", reply.Content)

	var pairs [][2]string
	require.NoError(t, json.Unmarshal(reply.Messages, &pairs))
	require.Len(t, pairs, 1)
	require.Equal(t, "Q0lQSEVS", pairs[0][0])
	require.NotEmpty(t, pairs[0][1])
}

func TestRegisterTwice(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	require.Equal(t, "pending", f.register(t, "tag-a", alice, "alice").Content)
	require.Equal(t, "error: user already registered", f.register(t, "tag-a", alice, "alice").Content)
}

func TestRegisterBadSelfSignature(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")
	mallory := newClient(t, "mallory")

	// Signature by a different key than the offered one.
	reply := f.do(t, "tag-m", map[string]interface{}{
		"action":    "register",
		"username":  "alice",
		"publicKey": alice.pub,
		"signature": mallory.sign(t, alice.pub),
	})
	require.Equal(t, "error: registration failed", reply.Content)

	// Nothing was inserted.
	_, err := f.store.Lookup(context.Background(), "alice")
	require.Error(t, err)
}

func TestConnectUnapproved(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	f.register(t, "tag-a", alice, "alice")
	reply := f.connect(t, "tag-a", alice, "alice")
	require.Equal(t, "error: user not registered or not approved", reply.Content)

	// Unknown users get the same answer.
	bob := newClient(t, "bob")
	reply = f.connect(t, "tag-b", bob, "bob")
	require.Equal(t, "error: user not registered or not approved", reply.Content)
}

func TestForgedAdminApprove(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")
	mallory := newClient(t, "mallory")

	f.register(t, "tag-a", alice, "alice")

	reply := f.approve(t, "alice", mallory)
	require.Equal(t, "error: unauthorized or bad signature", reply.Content)

	user, err := f.store.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, user.Approved())
}

func TestApproveIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	f.register(t, "tag-a", alice, "alice")
	require.Equal(t, "success", f.approve(t, "alice", f.admin).Content)
	require.Equal(t, "success", f.approve(t, "alice", f.admin).Content)
}

func TestApproveUnknownUser(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "error: approve failed", f.approve(t, "ghost", f.admin).Content)
}

func TestConnectBadSignature(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")
	mallory := newClient(t, "mallory")

	f.register(t, "tag-a", alice, "alice")
	f.approve(t, "alice", f.admin)

	reply := f.connect(t, "tag-m", mallory, "alice")
	require.Equal(t, "error: bad signature", reply.Content)
}

// A replayed connect frame from a different sender tag verifies and binds
// a session for that tag. The transport handle is not an identity.
func TestConnectReplayFromOtherTag(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	f.register(t, "tag-a", alice, "alice")
	f.approve(t, "alice", f.admin)

	frame, err := json.Marshal(map[string]interface{}{
		"action":    "connect",
		"username":  "alice",
		"signature": alice.sign(t, "alice"),
	})
	require.NoError(t, err)

	require.Equal(t, "success", f.doRaw(t, "tag-a", frame).Content)
	require.Equal(t, "success", f.doRaw(t, "tag-attacker", frame).Content)

	// Both tags now fetch as alice.
	reply := f.do(t, "tag-attacker", map[string]interface{}{
		"action":     "fetchGroup",
		"lastSeenId": "",
		"signature":  alice.sign(t, ""),
	})
	require.Equal(t, "success", reply.Content)
}

func TestSendRequiresSession(t *testing.T) {
	f := newFixture(t)

	reply := f.do(t, "tag-x", map[string]interface{}{
		"action":     "sendGroup",
		"ciphertext": "Q0lQSEVS",
	})
	require.Equal(t, "error: not connected", reply.Content)
}

func TestSendMissingCiphertext(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	f.register(t, "tag-a", alice, "alice")
	f.approve(t, "alice", f.admin)
	f.connect(t, "tag-a", alice, "alice")

	reply := f.do(t, "tag-a", map[string]interface{}{"action": "sendGroup"})
	require.Equal(t, "error: missing ciphertext", reply.Content)

	reply = f.do(t, "tag-a", map[string]interface{}{"action": "sendGroup", "ciphertext": ""})
	require.Equal(t, "error: missing ciphertext", reply.Content)
}

func TestFetchCursorSemantics(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	f.register(t, "tag-a", alice, "alice")
	f.approve(t, "alice", f.admin)
	f.connect(t, "tag-a", alice, "alice")

	f.do(t, "tag-a", map[string]interface{}{"action": "sendGroup", "ciphertext": "one"})
	f.do(t, "tag-a", map[string]interface{}{"action": "sendGroup", "ciphertext": "two"})

	fetch := func(last string) [][2]string {
		reply := f.do(t, "tag-a", map[string]interface{}{
			"action":     "fetchGroup",
			"lastSeenId": last,
			"signature":  alice.sign(t, last),
		})
		require.Equal(t, "success", reply.Content)
		var pairs [][2]string
		require.NoError(t, json.Unmarshal(reply.Messages, &pairs))
		return pairs
	}

	all := fetch("")
	require.Len(t, all, 2)
	require.Less(t, all[0][1], all[1][1])

	// Resume after the first entry.
	rest := fetch(all[0][1])
	require.Len(t, rest, 1)
	require.Equal(t, "two", rest[0][0])

	// Cursor beyond the newest entry: a valid empty list.
	require.Empty(t, fetch("99999999999999-0"))
}

func TestFetchRequiresSessionAndSignature(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")
	mallory := newClient(t, "mallory")

	reply := f.do(t, "tag-x", map[string]interface{}{
		"action":     "fetchGroup",
		"lastSeenId": "",
		"signature":  alice.sign(t, ""),
	})
	require.Equal(t, "error: not connected", reply.Content)

	f.register(t, "tag-a", alice, "alice")
	f.approve(t, "alice", f.admin)
	f.connect(t, "tag-a", alice, "alice")

	// Signature by the wrong key over the cursor.
	reply = f.do(t, "tag-a", map[string]interface{}{
		"action":     "fetchGroup",
		"lastSeenId": "",
		"signature":  mallory.sign(t, ""),
	})
	require.Equal(t, "error: bad signature", reply.Content)

	// Missing cursor field entirely.
	reply = f.do(t, "tag-a", map[string]interface{}{
		"action":    "fetchGroup",
		"signature": alice.sign(t, ""),
	})
	require.Equal(t, "error: malformed", reply.Content)
}

func TestMalformedAndUnknown(t *testing.T) {
	f := newFixture(t)

	reply := f.doRaw(t, "tag-x", []byte("not json"))
	require.Equal(t, "errorResponse", reply.Action)
	require.Equal(t, "error: malformed", reply.Content)

	reply = f.doRaw(t, "tag-x", []byte(`["array","not","object"]`))
	require.Equal(t, "error: malformed", reply.Content)

	reply = f.doRaw(t, "tag-x", []byte(`{"noaction":true}`))
	require.Equal(t, "error: malformed", reply.Content)

	reply = f.do(t, "tag-x", map[string]interface{}{"action": "fly"})
	require.Equal(t, "errorResponse", reply.Action)
	require.Equal(t, "error: unknown action", reply.Content)
}

func TestOversizedFrame(t *testing.T) {
	f := newFixture(t)

	big := strings.Repeat("A", 70*1024)
	frame, err := json.Marshal(map[string]interface{}{"action": "sendGroup", "ciphertext": big})
	require.NoError(t, err)

	reply := f.doRaw(t, "tag-x", frame)
	require.Equal(t, "errorResponse", reply.Action)
	require.Equal(t, "error: too large", reply.Content)

	// No state was touched: the stream stays empty.
	entries, err := f.d.stream.ReadAfter(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSendThenFetchExactlyOnce(t *testing.T) {
	f := newFixture(t)
	alice := newClient(t, "alice")

	f.register(t, "tag-a", alice, "alice")
	f.approve(t, "alice", f.admin)
	f.connect(t, "tag-a", alice, "alice")

	f.do(t, "tag-a", map[string]interface{}{"action": "sendGroup", "ciphertext": "only-once"})

	reply := f.do(t, "tag-a", map[string]interface{}{
		"action":     "fetchGroup",
		"lastSeenId": "",
		"signature":  alice.sign(t, ""),
	})
	var pairs [][2]string
	require.NoError(t, json.Unmarshal(reply.Messages, &pairs))

	count := 0
	for _, p := range pairs {
		if p[0] == "only-once" {
			count++
		}
	}
	require.Equal(t, 1, count)
}
