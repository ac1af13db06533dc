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

// Package transport connects the relay to its local nym-client over the
// client's websocket interface. Peers are identified only by the opaque
// sender tag the mixnet attaches to anonymous packets; the tag is stable
// per client session but carries no identity.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nymstr-project/nymstr-groupd/internal/logger"
)

// MaxFrameSize is the largest request frame the dispatcher accepts.
const MaxFrameSize = 64 * 1024

// Inbound is one mixnet-delivered frame.
type Inbound struct {
	SenderTag string
	Data      []byte
}

// wireMessage is the nym-client websocket text envelope.
type wireMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SenderTag string `json:"senderTag,omitempty"`
	Address   string `json:"address,omitempty"`
}

// Client is the websocket connection to a nym-client.
type Client struct {
	url string
	log logger.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	inbound chan Inbound
	once    sync.Once
}

// New creates a client for the nym-client at wsURL.
func New(wsURL string, log logger.Logger) *Client {
	return &Client{
		url:     wsURL,
		log:     log,
		inbound: make(chan Inbound, 64),
	}
}

// Connect dials the nym-client and performs the selfAddress handshake.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial nym-client %s: %w", c.url, err)
	}
	c.conn = conn

	if err := c.write(wireMessage{Type: "selfAddress"}); err != nil {
		conn.Close()
		return fmt.Errorf("request self address: %w", err)
	}
	var reply wireMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("read self address: %w", err)
	}
	c.log.Info("connected to nym-client", logger.String("address", reply.Address))
	return nil
}

// Run pumps received frames into the inbound channel until the context is
// canceled or the connection drops. Frames without a sender tag cannot be
// replied to and are dropped.
func (c *Client) Run(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("transport: not connected")
	}

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read from nym-client: %w", err)
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("unparseable frame from nym-client", logger.Error(err))
			continue
		}

		switch msg.Type {
		case "received":
			if msg.SenderTag == "" {
				c.log.Warn("received frame without sender tag, dropping")
				continue
			}
			select {
			case c.inbound <- Inbound{SenderTag: msg.SenderTag, Data: []byte(msg.Message)}:
			case <-ctx.Done():
				return nil
			}
		case "error":
			c.log.Warn("nym-client error", logger.String("message", msg.Message))
		default:
			c.log.Debug("ignoring frame", logger.String("type", msg.Type))
		}
	}
}

// Receive returns the inbound frame channel. It is closed when Run exits.
func (c *Client) Receive() <-chan Inbound {
	return c.inbound
}

// Send replies to the peer behind senderTag. Best effort: failures are the
// caller's to log, never retried here.
func (c *Client) Send(ctx context.Context, senderTag string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(wireMessage{
		Type:      "reply",
		Message:   string(data),
		SenderTag: senderTag,
	})
}

func (c *Client) write(msg wireMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close tears down the websocket. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
