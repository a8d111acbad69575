// Package realtime is the narrow publish contract the orchestration core
// pushes state changes through (spec: the web dashboard and its transport
// are out of scope, but every module that changes state still needs
// somewhere to announce it). Hub is grounded on the teacher's SSE fan-out
// hub, with the HTTP handler itself dropped — the wire protocol serving
// this Hub is the out-of-scope part, not the fan-out primitive).
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/deepampatel/foreman/internal/otel"
)

// Publisher is the contract every module publishes state changes through.
// Implementations must never block a caller on a slow subscriber.
type Publisher interface {
	PublishJSON(v any)
}

// Hub fans a published value out to every current subscriber, dropping it
// for subscribers whose buffer is full instead of blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

var _ Publisher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber and returns its delivery channel.
// The caller must eventually call Unsubscribe.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	otel.AddSSEConnection()
	return ch
}

// Unsubscribe removes and closes a subscriber's channel. Safe to call more
// than once.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		otel.RemoveSSEConnection()
	}
	h.mu.Unlock()
}

// PublishJSON marshals v and fans it out to every subscriber.
func (h *Hub) PublishJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	otel.RecordSSEEvent(context.Background())
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
			// subscriber too slow; drop rather than block the publisher.
		}
	}
}

// Envelope is the shape every state-change notification is wrapped in
// before being handed to PublishJSON, so subscribers can dispatch on
// Type without inspecting the payload first.
type Envelope struct {
	Type    string `json:"type"`
	TeamID  string `json:"team_id,omitempty"`
	Payload any    `json:"payload"`
}

// Publish wraps payload in an Envelope and publishes it.
func Publish(p Publisher, eventType, teamID string, payload any) {
	if p == nil {
		return
	}
	p.PublishJSON(Envelope{Type: eventType, TeamID: teamID, Payload: payload})
}
