// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Client receives a snapshot stream.
type Client struct {
	conn  *websocket.Conn
	hello Hello
}

// Dial connects to a stream server and reads its Hello.
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	c := &Client{conn: conn}
	msg, err := c.next()
	if err != nil {
		conn.Close()
		return nil, err
	}
	h, ok := msg.(Hello)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("expected hello, got %T", msg)
	}
	c.hello = h
	return c, nil
}

// Hello returns the server's session greeting.
func (c *Client) Hello() Hello {
	return c.hello
}

// Next blocks for the next snapshot.
func (c *Client) Next() (Snapshot, error) {
	for {
		msg, err := c.next()
		if err != nil {
			return Snapshot{}, err
		}
		if s, ok := msg.(Snapshot); ok {
			return s, nil
		}
	}
}

func (c *Client) next() (interface{}, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return Decode(data)
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
