package websocket

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 32
	pingInterval   = 30 * time.Second
	maxRequestSize = 1024
)

// request is the only thing a session sends: {"type":"resync"}.
type request struct {
	Type string `json:"type"`
}

// Client is one browser session on the change feed.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the session and serves it until the connection closes or the
// hub drops it.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxRequestSize)
	defer c.conn.CloseNow()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.hub.Register(c)
	defer c.hub.Unregister(c)

	go func() {
		c.readRequests(ctx)
		cancel()
	}()
	c.writeEvents(ctx)
}

func (c *Client) readRequests(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.hub.logger.Debug("ignoring malformed session request", "error", err)
			continue
		}
		if req.Type == "resync" {
			c.hub.Resync(c)
		}
	}
}

// writeEvents returns when the hub closes the send channel, a write fails, or
// ctx ends.
func (c *Client) writeEvents(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(ws.StatusTryAgainLater, "too slow, reconnect")
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
