package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event is one change notification. Seq grows by one per Publish, so a
// session that sees a gap knows it missed something and can ask for a
// snapshot.
type Event struct {
	Seq   uint64 `json:"seq"`
	Topic string `json:"topic"`
	Kind  string `json:"kind"`
	Data  any    `json:"data,omitempty"`
}

// Hub fans events out to every connected session.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	seq      atomic.Uint64
	snapshot func() any
	logger   *slog.Logger
}

// NewHub creates a Hub. snapshot, when non-nil, produces the full state sent
// to a session when it connects or asks to resync.
func NewHub(logger *slog.Logger, snapshot func() any) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		snapshot: snapshot,
		logger:   logger,
	}
}

// Register adds a client and queues the current snapshot for it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("session connected", "sessions", n)
	h.Resync(c)
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.drop(c)
	h.mu.Unlock()
}

// drop requires h.mu held for writing.
func (h *Hub) drop(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

// Seq returns the sequence number of the last published event.
func (h *Hub) Seq() uint64 {
	return h.seq.Load()
}

// Resync queues a state snapshot for c. Its Seq is the last sequence number
// seen before the snapshot was taken, so later events may already be
// reflected in it. A session with a full buffer is disconnected instead.
func (h *Hub) Resync(c *Client) {
	if h.snapshot == nil {
		return
	}
	seq := h.seq.Load()
	data, err := json.Marshal(Event{Seq: seq, Topic: "state", Kind: "snapshot", Data: h.snapshot()})
	if err != nil {
		h.logger.Error("marshal snapshot", "error", err)
		return
	}

	h.mu.RLock()
	_, ok := h.clients[c]
	sent := false
	if ok {
		select {
		case c.send <- data:
			sent = true
		default:
		}
	}
	h.mu.RUnlock()

	if ok && !sent {
		h.mu.Lock()
		if h.drop(c) {
			h.logger.Warn("dropping slow session", "seq", seq)
		}
		h.mu.Unlock()
	}
}

// Publish stamps the next sequence number and sends the event to every
// session. A session whose buffer is full is disconnected; it reconnects and
// starts again from a snapshot instead of silently missing a change.
func (h *Hub) Publish(topic, kind string, payload any) Event {
	ev := Event{Seq: h.seq.Add(1), Topic: topic, Kind: kind, Data: payload}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "topic", topic, "kind", kind, "error", err)
		return ev
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			if h.drop(c) {
				h.logger.Warn("dropping slow session", "seq", ev.Seq)
			}
		}
		h.mu.Unlock()
	}
	return ev
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
