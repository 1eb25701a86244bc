// Package notifications fans proactive messages out to connected
// clients over websockets, optionally relayed through redis so every
// server process reaches its own clients.
package notifications

import (
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// EventType names what a websocket frame carries.
type EventType string

const (
	EventProactive EventType = "proactive"
	EventHello     EventType = "hello"
)

// Event is one frame sent to a websocket client.
type Event struct {
	Type      EventType              `json:"type"`
	Payload   *core.ProactiveMessage `json:"payload,omitempty"`
	ClientID  string                 `json:"client_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// envelope is what travels over the redis channel.
type envelope struct {
	Origin  string                 `json:"origin"`
	Message *core.ProactiveMessage `json:"message"`
}

// HubStats reports hub activity
type HubStats struct {
	Clients   int   `json:"clients"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}
