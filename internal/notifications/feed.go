// Package notifications holds the cross-cutting notification feed that the
// router promotes selected events into.
package notifications

import (
	"sync"
	"time"

	"github.com/lodgetech/relay/internal/envelope"
)

const defaultFeedCapacity = 200

// Notification is one feed entry.
type Notification struct {
	Category envelope.Category `json:"category"`
	Type     string            `json:"type"`
	EntityID string            `json:"entity_id"`
	Title    string            `json:"title,omitempty"`
	Body     string            `json:"body,omitempty"`
	At       time.Time         `json:"at"`
}

// Feed is a bounded newest-first notification list; pushing past capacity
// drops the oldest entry.
type Feed struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
}

// NewFeed constructs a feed. Non-positive capacities fall back to the default.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	return &Feed{capacity: capacity}
}

// Push prepends a notification, evicting the oldest once full.
func (f *Feed) Push(notification Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]Notification{notification}, f.items...)
	if len(f.items) > f.capacity {
		f.items = f.items[:f.capacity]
	}
}

// Recent returns up to limit newest entries.
func (f *Feed) Recent(limit int) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.items) {
		limit = len(f.items)
	}
	return append([]Notification{}, f.items[:limit]...)
}

// Len returns the current feed size.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
