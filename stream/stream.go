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

// Package stream adapts a Redis Stream as the single group message log.
// The broker assigns entry IDs and owns message ordering; nothing here
// reorders, filters, or deletes entries.
package stream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ciphertextField is the single field name under which the opaque payload
// is stored in each stream entry.
const ciphertextField = "c"

// Entry is one stream record.
type Entry struct {
	ID         string
	Ciphertext []byte
}

// Stream appends and range-reads the group's message log.
type Stream struct {
	rdb *redis.Client
	key string
}

// New connects to the broker at the given URL.
func New(url, key string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), key), nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(rdb *redis.Client, key string) *Stream {
	return &Stream{rdb: rdb, key: key}
}

// Append adds one ciphertext entry and returns the broker-assigned ID.
// Durable (acknowledged by the broker) before return.
func (s *Stream) Append(ctx context.Context, ciphertext []byte) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]interface{}{ciphertextField: ciphertext},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to stream: %w", err)
	}
	return id, nil
}

// ReadAfter returns all entries strictly after lastSeenID in ascending
// broker order. An empty lastSeenID reads from the beginning; an ID the
// broker rejects as malformed falls back to a full read from the
// retention horizon. IDs beyond the newest entry yield an empty list.
func (s *Stream) ReadAfter(ctx context.Context, lastSeenID string) ([]Entry, error) {
	start := "-"
	if lastSeenID != "" {
		start = "(" + lastSeenID
	}

	msgs, err := s.rdb.XRange(ctx, s.key, start, "+").Result()
	if err != nil && lastSeenID != "" {
		msgs, err = s.rdb.XRange(ctx, s.key, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[ciphertextField]
		if !ok {
			continue
		}
		text, ok := raw.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{ID: msg.ID, Ciphertext: []byte(text)})
	}
	return entries, nil
}

// Ping checks broker liveness.
func (s *Stream) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (s *Stream) Close() error {
	return s.rdb.Close()
}
