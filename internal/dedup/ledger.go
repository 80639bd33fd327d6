package dedup

import (
	"fmt"
	"sync"

	"github.com/lodgetech/relay/internal/envelope"
)

const defaultLedgerCapacity = 1000

// Ledger records already-processed event keys with a fixed capacity. Once
// full, each insertion evicts the oldest key, so memory stays bounded and
// eviction is O(1).
type Ledger struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	ring     []string
	next     int
	capacity int
}

// NewLedger constructs a ledger. Non-positive capacities fall back to the default.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = defaultLedgerCapacity
	}
	return &Ledger{
		seen:     make(map[string]struct{}, capacity),
		ring:     make([]string, capacity),
		capacity: capacity,
	}
}

// ShouldProcess reports whether the key has not been seen before and, when it
// has not, records it. An empty key is always processed and never recorded.
func (l *Ledger) ShouldProcess(key string) bool {
	if key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, duplicate := l.seen[key]; duplicate {
		return false
	}
	if evicted := l.ring[l.next]; evicted != "" {
		delete(l.seen, evicted)
	}
	l.ring[l.next] = key
	l.next = (l.next + 1) % l.capacity
	l.seen[key] = struct{}{}
	return true
}

// Len returns the number of keys currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Key derives the dedup key for an envelope. An explicit event id is the
// strongest identity; otherwise a composite of domain, type, entity and
// secondary id is used. Without either an event id or a secondary id the key
// is empty: suppressing on type+entity alone would wrongly swallow legitimate
// consecutive events, so those are always processed.
func Key(env envelope.Envelope) string {
	if env.Meta.EventID != "" {
		return "id:" + env.Meta.EventID
	}
	if env.SecondaryID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s:%s", env.Category, env.Type, env.EntityID, env.SecondaryID)
}
