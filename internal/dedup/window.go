package dedup

import (
	"sync"
	"time"
)

const defaultWindowSpan = 5 * time.Second

// Window suppresses repeats of the same key within a fixed time span. It
// trades bookkeeping for simplicity: a legitimate recurrence of a key inside
// the span is wrongly suppressed, which the attendance domain tolerates.
type Window struct {
	mu   sync.Mutex
	last map[string]time.Time
	span time.Duration
	now  func() time.Time
}

// WindowConfig describes Window parameters. Zero values select defaults.
type WindowConfig struct {
	Span  time.Duration
	Clock func() time.Time
}

// NewWindow constructs a time-window suppressor.
func NewWindow(cfg WindowConfig) *Window {
	span := cfg.Span
	if span <= 0 {
		span = defaultWindowSpan
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Window{
		last: make(map[string]time.Time),
		span: span,
		now:  clock,
	}
}

// ShouldProcess reports whether the key was last seen longer than the span
// ago and records the current time for it. Expired entries are purged
// opportunistically on each call.
func (w *Window) ShouldProcess(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if seenAt, ok := w.last[key]; ok && now.Sub(seenAt) < w.span {
		return false
	}
	for existing, seenAt := range w.last {
		if now.Sub(seenAt) >= w.span {
			delete(w.last, existing)
		}
	}
	w.last[key] = now
	return true
}
