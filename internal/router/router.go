// Package router dispatches normalized envelopes to their domain stores. The
// router is built at the composition root with explicit references to every
// store, so nothing can route before its store exists.
package router

import (
	"errors"
	"time"

	"github.com/lodgetech/relay/internal/dedup"
	"github.com/lodgetech/relay/internal/envelope"
	"github.com/lodgetech/relay/internal/notifications"
	"go.uber.org/zap"
)

// Store is the single entry point every domain store exposes.
type Store interface {
	HandleEvent(env envelope.Envelope)
}

// Recorder observes every envelope accepted for dispatch. Satisfied by the
// diagnostic journal.
type Recorder interface {
	Record(env envelope.Envelope)
}

var errMissingStore = errors.New("router: all six domain stores are required")

// promotedTypes lists event types surfaced into the notification feed in
// addition to their domain store.
var promotedTypes = map[string]struct{}{
	"guest_message_created":   {},
	"order_created":           {},
	"room_booking_created":    {},
	"service_booking_created": {},
}

// Config wires the router's collaborators.
type Config struct {
	StaffChat   Store
	GuestChat   Store
	Attendance  Store
	RoomService Store
	Booking     Store
	RoomBooking Store

	Feed     *notifications.Feed
	Recorder Recorder
	Logger   *zap.Logger
	// LedgerCapacity bounds each per-domain dedup ledger.
	LedgerCapacity int
}

// Router owns one dedup ledger per domain; ledgers are never shared across
// domains, so composite keys cannot collide between them.
type Router struct {
	stores   map[envelope.Category]Store
	ledgers  map[envelope.Category]*dedup.Ledger
	feed     *notifications.Feed
	recorder Recorder
	logger   *zap.Logger
}

// New constructs a Router. Every domain store must be present.
func New(cfg Config) (*Router, error) {
	stores := map[envelope.Category]Store{
		envelope.CategoryStaffChat:   cfg.StaffChat,
		envelope.CategoryGuestChat:   cfg.GuestChat,
		envelope.CategoryAttendance:  cfg.Attendance,
		envelope.CategoryRoomService: cfg.RoomService,
		envelope.CategoryBooking:     cfg.Booking,
		envelope.CategoryRoomBooking: cfg.RoomBooking,
	}
	for _, store := range stores {
		if store == nil {
			return nil, errMissingStore
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ledgers := make(map[envelope.Category]*dedup.Ledger, len(stores))
	for category := range stores {
		ledgers[category] = dedup.NewLedger(cfg.LedgerCapacity)
	}
	return &Router{
		stores:   stores,
		ledgers:  ledgers,
		feed:     cfg.Feed,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// Route dispatches one envelope to exactly one domain store, with the
// notification feed as a side channel. Duplicates are dropped quietly.
func (r *Router) Route(env envelope.Envelope) {
	ledger, ok := r.ledgers[env.Category]
	if !ok {
		r.logger.Warn("envelope for unroutable category", zap.String("category", string(env.Category)))
		return
	}
	if !ledger.ShouldProcess(dedup.Key(env)) {
		r.logger.Debug("duplicate envelope dropped",
			zap.String("category", string(env.Category)),
			zap.String("type", env.Type),
			zap.String("event_id", env.Meta.EventID))
		return
	}

	if r.recorder != nil {
		r.recorder.Record(env)
	}

	r.stores[env.Category].HandleEvent(env)

	if r.feed != nil {
		if _, promoted := promotedTypes[env.Type]; promoted {
			r.feed.Push(notifications.Notification{
				Category: env.Category,
				Type:     env.Type,
				EntityID: env.EntityID,
				At:       occurredAt(env),
			})
		}
	}
}

func occurredAt(env envelope.Envelope) time.Time {
	if !env.Meta.OccurredAt.IsZero() {
		return env.Meta.OccurredAt
	}
	return time.Now().UTC()
}
