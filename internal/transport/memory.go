package transport

import (
	"encoding/json"
	"sync"
)

// MemoryClient is a loopback Client. Publishing delivers synchronously to
// every callback bound on the named channel, which makes event interleavings
// deterministic in tests. It also backs the relayd binary when no real
// transport is configured.
type MemoryClient struct {
	mu       sync.Mutex
	channels map[string]*memoryChannel
	failing  map[string]error
}

// NewMemoryClient constructs an empty loopback client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		channels: make(map[string]*memoryChannel),
		failing:  make(map[string]error),
	}
}

// FailSubscription makes future Subscribe calls for the named channel fail.
func (c *MemoryClient) FailSubscription(channelName string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[channelName] = err
}

// Subscribe opens (or returns the existing) channel. The real transport
// confirms asynchronously; here confirmation is an explicit Reconnect call so
// tests control when the subscription-succeeded signal fires.
func (c *MemoryClient) Subscribe(channelName string) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failing[channelName]; err != nil {
		return nil, err
	}
	channel, ok := c.channels[channelName]
	if !ok {
		channel = &memoryChannel{name: channelName}
		c.channels[channelName] = channel
	}
	return channel, nil
}

// Unsubscribe drops the channel and its callbacks.
func (c *MemoryClient) Unsubscribe(channelName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelName)
}

// Publish delivers an event to the named channel if it is subscribed.
func (c *MemoryClient) Publish(channelName, eventName string, payload json.RawMessage) {
	c.mu.Lock()
	channel := c.channels[channelName]
	c.mu.Unlock()
	if channel != nil {
		channel.deliver(eventName, payload)
	}
}

// Reconnect emits the subscription-succeeded event on every open channel. It
// stands in for both the initial asynchronous confirmation and the replayed
// confirmation after a transport reconnect.
func (c *MemoryClient) Reconnect() {
	c.mu.Lock()
	open := make([]*memoryChannel, 0, len(c.channels))
	for _, channel := range c.channels {
		open = append(open, channel)
	}
	c.mu.Unlock()
	for _, channel := range open {
		channel.deliver(EventSubscriptionSucceeded, nil)
	}
}

// Subscribed reports whether the named channel is currently open.
func (c *MemoryClient) Subscribed(channelName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channelName]
	return ok
}

type memoryChannel struct {
	mu       sync.Mutex
	name     string
	bindings map[string][]func(json.RawMessage)
	global   []func(string, json.RawMessage)
}

func (ch *memoryChannel) Bind(eventName string, fn func(payload json.RawMessage)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.bindings == nil {
		ch.bindings = make(map[string][]func(json.RawMessage))
	}
	ch.bindings[eventName] = append(ch.bindings[eventName], fn)
}

func (ch *memoryChannel) BindGlobal(fn func(eventName string, payload json.RawMessage)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.global = append(ch.global, fn)
}

func (ch *memoryChannel) UnbindAll() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.bindings = nil
	ch.global = nil
}

func (ch *memoryChannel) deliver(eventName string, payload json.RawMessage) {
	ch.mu.Lock()
	named := append([]func(json.RawMessage){}, ch.bindings[eventName]...)
	global := append([]func(string, json.RawMessage){}, ch.global...)
	ch.mu.Unlock()

	for _, fn := range named {
		fn(payload)
	}
	for _, fn := range global {
		fn(eventName, payload)
	}
}

var _ Client = (*MemoryClient)(nil)
