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

// Package session maps opaque mixnet sender tags to authenticated
// usernames. Bindings live in memory only: a restart drops every session
// and clients reconnect.
package session

import (
	"sync"
	"time"

	"github.com/nymstr-project/nymstr-groupd/internal/metrics"
)

// DefaultIdleTimeout is the eviction threshold when none is configured.
const DefaultIdleTimeout = 30 * time.Minute

const cleanupInterval = time.Minute

type entry struct {
	username string
	since    time.Time
	lastSeen time.Time
}

// Table handles session binding, lookup, and idle cleanup
type Table struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	idleTimeout time.Duration

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewTable creates a session table and starts its background janitor.
func NewTable(idleTimeout time.Duration) *Table {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	t := &Table{
		sessions:    make(map[string]*entry),
		idleTimeout: idleTimeout,
		stopCleanup: make(chan struct{}),
	}

	t.cleanupTicker = time.NewTicker(cleanupInterval)
	go t.runCleanup()

	return t
}

// Bind associates a sender tag with a username, replacing any prior
// binding for that tag.
func (t *Table) Bind(senderTag, username string) {
	now := time.Now()

	t.mu.Lock()
	t.sessions[senderTag] = &entry{username: username, since: now, lastSeen: now}
	size := len(t.sessions)
	t.mu.Unlock()

	metrics.ActiveSessions.Set(float64(size))
}

// Lookup resolves a sender tag to its bound username and refreshes the
// idle clock.
func (t *Table) Lookup(senderTag string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[senderTag]
	if !ok {
		return "", false
	}
	e.lastSeen = time.Now()
	return e.username, true
}

// Remove drops the binding for a sender tag.
func (t *Table) Remove(senderTag string) {
	t.mu.Lock()
	delete(t.sessions, senderTag)
	size := len(t.sessions)
	t.mu.Unlock()

	metrics.ActiveSessions.Set(float64(size))
}

// Len returns the number of bound sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// ExpireIdle evicts every session idle for at least the table's timeout,
// returning the eviction count.
func (t *Table) ExpireIdle(now time.Time) int {
	t.mu.Lock()
	evicted := 0
	for tag, e := range t.sessions {
		if now.Sub(e.lastSeen) >= t.idleTimeout {
			delete(t.sessions, tag)
			evicted++
		}
	}
	size := len(t.sessions)
	t.mu.Unlock()

	if evicted > 0 {
		metrics.SessionsEvicted.Add(float64(evicted))
		metrics.ActiveSessions.Set(float64(size))
	}
	return evicted
}

func (t *Table) runCleanup() {
	for {
		select {
		case <-t.cleanupTicker.C:
			t.ExpireIdle(time.Now())
		case <-t.stopCleanup:
			return
		}
	}
}

// Close stops the background janitor.
func (t *Table) Close() {
	t.closeOnce.Do(func() {
		t.cleanupTicker.Stop()
		close(t.stopCleanup)
	})
}
