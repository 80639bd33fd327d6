// Package transport defines the contract this engine consumes from the
// websocket pub/sub client. Connection management, retry and backoff live in
// the real client; this package only names the surface the subscription layer
// binds against, plus an in-memory implementation for tests and local runs.
package transport

import "encoding/json"

// Reserved event names the transport emits for its own housekeeping.
const (
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
	EventConnected             = "pusher:connection_established"
)

// Channel is a single subscribed logical channel.
type Channel interface {
	// Bind registers a callback for one event name.
	Bind(eventName string, fn func(payload json.RawMessage))
	// BindGlobal registers a catch-all callback receiving every event on the channel.
	BindGlobal(fn func(eventName string, payload json.RawMessage))
	// UnbindAll removes every callback registered on the channel.
	UnbindAll()
}

// Client opens and closes channel subscriptions.
type Client interface {
	Subscribe(channelName string) (Channel, error)
	Unsubscribe(channelName string)
}
