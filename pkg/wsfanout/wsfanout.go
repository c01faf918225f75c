// Package wsfanout is a debug/demo WebSocket broadcaster of the pipeline's
// outbound UI contracts (committed/speculative text, audio level, final
// text). It is transport-only: no business logic lives here.
package wsfanout

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// EventType names one of the outbound UI contracts.
type EventType string

const (
	EventCommittedText   EventType = "committed_text_changed"
	EventSpeculativeText EventType = "speculative_text_changed"
	EventAudioLevel      EventType = "audio_level"
	EventFinalText       EventType = "final_text"
	EventMaxDuration     EventType = "max_duration_reached"
)

// Event is one message broadcast to every connected client.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Broadcaster accepts WebSocket clients over HTTP and fans out Events to
// all of them.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New creates an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{clients: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket and registers it as a
// broadcast target until the connection closes or the request context is
// canceled.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Debug clients are write-only sinks; block on read only to detect
	// disconnects and keep the registration alive.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Broadcast sends ev to every currently connected client. A client whose
// write fails is dropped.
func (b *Broadcaster) Broadcast(ctx context.Context, ev Event) {
	b.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := wsjson.Write(ctx, c, ev); err != nil {
			b.mu.Lock()
			delete(b.clients, c)
			b.mu.Unlock()
			c.Close(websocket.StatusAbnormalClosure, "write failed")
		}
	}
}

// Close disconnects every connected client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.Close(websocket.StatusNormalClosure, "")
		delete(b.clients, c)
	}
}
