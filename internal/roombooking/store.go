// Package roombooking tracks room reservations in a newest-first display
// order: every event touching a booking moves it to the front.
package roombooking

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lodgetech/relay/internal/envelope"
	"go.uber.org/zap"
)

// BookingStatus is a booking's lifecycle stage.
type BookingStatus string

const (
	StatusConfirmed  BookingStatus = "confirmed"
	StatusCheckedIn  BookingStatus = "checked_in"
	StatusCheckedOut BookingStatus = "checked_out"
	StatusCancelled  BookingStatus = "cancelled"
)

// Event types routed to this store.
const (
	EventBookingCreated   = "room_booking_created"
	EventBookingUpdated   = "room_booking_updated"
	EventBookingCancelled = "room_booking_cancelled"
	EventBookingReopened  = "room_booking_reopened"
)

// healingEvents are backend data-integrity corrections. They replay through
// the normal created/updated channel separately, so this store logs and
// ignores them rather than mutating state.
var healingEvents = map[string]struct{}{
	"room_booking_integrity_healed": {},
	"room_booking_resynced":         {},
}

// Booking is one room reservation.
type Booking struct {
	ID         string        `json:"id"`
	RoomNumber string        `json:"room_number"`
	GuestName  string        `json:"guest_name,omitempty"`
	Status     BookingStatus `json:"status"`
	CheckIn    time.Time     `json:"check_in"`
	CheckOut   time.Time     `json:"check_out"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type bookingPayload struct {
	ID         envelope.ID `json:"id"`
	BookingID  envelope.ID `json:"booking_id"`
	RoomNumber string      `json:"room_number"`
	GuestName  string      `json:"guest_name"`
	Status     string      `json:"status"`
	CheckIn    time.Time   `json:"check_in"`
	CheckOut   time.Time   `json:"check_out"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (p bookingPayload) bookingID() string {
	if p.BookingID != "" {
		return p.BookingID.String()
	}
	return p.ID.String()
}

// StoreConfig describes Store dependencies.
type StoreConfig struct {
	Logger *zap.Logger
}

// Store owns room-booking state plus the newest-first display order.
type Store struct {
	logger *zap.Logger

	mu       sync.Mutex
	bookings map[string]Booking
	display  []string
}

// NewStore constructs an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:   logger,
		bookings: make(map[string]Booking),
	}
}

// InitBookings replaces state with a bulk load; list order becomes the
// initial display order.
func (s *Store) InitBookings(bookings []Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = make(map[string]Booking, len(bookings))
	s.display = make([]string, 0, len(bookings))
	for _, booking := range bookings {
		s.bookings[booking.ID] = booking
		s.display = append(s.display, booking.ID)
	}
}

// HandleEvent applies one routed envelope.
func (s *Store) HandleEvent(env envelope.Envelope) {
	if _, healing := healingEvents[env.Type]; healing {
		s.logger.Info("room booking healing event observed",
			zap.String("type", env.Type),
			zap.String("booking_id", env.EntityID))
		return
	}

	var payload bookingPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.logger.Warn("room booking payload malformed", zap.Error(err))
		return
	}

	switch env.Type {
	case EventBookingCreated:
		s.applyUpsert(payload, StatusConfirmed, false)
	case EventBookingUpdated:
		s.applyUpdate(payload)
	case EventBookingCancelled:
		s.applyCancelled(payload)
	case EventBookingReopened:
		s.applyUpsert(payload, StatusConfirmed, true)
	default:
		s.logger.Debug("room booking event ignored", zap.String("type", env.Type))
	}
}

func (s *Store) applyUpsert(payload bookingPayload, fallback BookingStatus, reopen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.bookingID()
	booking, known := s.bookings[id]
	if reopen && !known {
		s.logger.Warn("reopen for unknown booking", zap.String("booking_id", id))
		return
	}
	if !reopen && known && isTerminal(booking.Status) {
		s.logger.Warn("create for terminal booking ignored",
			zap.String("booking_id", id),
			zap.String("current", string(booking.Status)))
		return
	}
	booking.ID = id
	s.mergeFields(&booking, payload)
	if status, ok := parseStatus(payload.Status); ok {
		booking.Status = status
	} else if booking.Status == "" {
		booking.Status = fallback
	}
	s.bookings[id] = booking
	s.moveToFront(id)
}

func (s *Store) applyUpdate(payload bookingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.bookingID()
	booking, known := s.bookings[id]
	if !known {
		s.logger.Warn("update for unknown booking", zap.String("booking_id", id))
		return
	}
	if isTerminal(booking.Status) {
		s.logger.Warn("update for terminal booking ignored",
			zap.String("booking_id", id),
			zap.String("current", string(booking.Status)))
		return
	}
	s.mergeFields(&booking, payload)
	if status, ok := parseStatus(payload.Status); ok {
		booking.Status = status
	}
	s.bookings[id] = booking
	s.moveToFront(id)
}

func (s *Store) applyCancelled(payload bookingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.bookingID()
	booking, known := s.bookings[id]
	if !known {
		s.logger.Warn("cancel for unknown booking", zap.String("booking_id", id))
		return
	}
	booking.Status = StatusCancelled
	if !payload.UpdatedAt.IsZero() {
		booking.UpdatedAt = payload.UpdatedAt
	}
	s.bookings[id] = booking
	s.moveToFront(id)
}

func (s *Store) mergeFields(booking *Booking, payload bookingPayload) {
	if payload.RoomNumber != "" {
		booking.RoomNumber = payload.RoomNumber
	}
	if payload.GuestName != "" {
		booking.GuestName = payload.GuestName
	}
	if !payload.CheckIn.IsZero() {
		booking.CheckIn = payload.CheckIn
	}
	if !payload.CheckOut.IsZero() {
		booking.CheckOut = payload.CheckOut
	}
	if !payload.UpdatedAt.IsZero() {
		booking.UpdatedAt = payload.UpdatedAt
	}
}

// moveToFront puts the booking first in display order. Callers must hold the
// mutex.
func (s *Store) moveToFront(id string) {
	for i, existing := range s.display {
		if existing == id {
			s.display = append(s.display[:i:i], s.display[i+1:]...)
			break
		}
	}
	s.display = append([]string{id}, s.display...)
}

// Booking returns one booking by id.
func (s *Store) Booking(id string) (Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[id]
	return booking, ok
}

// DisplayOrder returns booking ids newest-first.
func (s *Store) DisplayOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.display...)
}

// Snapshot is a copy of the store state safe to hand across goroutines.
type Snapshot struct {
	Bookings     map[string]Booking `json:"bookings"`
	DisplayOrder []string           `json:"display_order"`
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := Snapshot{
		Bookings:     make(map[string]Booking, len(s.bookings)),
		DisplayOrder: append([]string{}, s.display...),
	}
	for id, booking := range s.bookings {
		snapshot.Bookings[id] = booking
	}
	return snapshot
}

func isTerminal(status BookingStatus) bool {
	return status == StatusCancelled || status == StatusCheckedOut
}

func parseStatus(raw string) (BookingStatus, bool) {
	switch BookingStatus(raw) {
	case StatusConfirmed, StatusCheckedIn, StatusCheckedOut, StatusCancelled:
		return BookingStatus(raw), true
	default:
		return "", false
	}
}
