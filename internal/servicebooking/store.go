// Package servicebooking tracks table and amenity reservations (restaurant,
// spa) and maintains a todays-bookings index against an injected clock.
package servicebooking

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
	StatusBooked    BookingStatus = "booked"
	StatusSeated    BookingStatus = "seated"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

// Event types routed to this store.
const (
	EventBookingCreated   = "service_booking_created"
	EventBookingUpdated   = "service_booking_updated"
	EventBookingCancelled = "service_booking_cancelled"
	EventBookingReopened  = "service_booking_reopened"
)

// Booking is one service/table reservation.
type Booking struct {
	ID        string        `json:"id"`
	Service   string        `json:"service"`
	Table     string        `json:"table,omitempty"`
	GuestName string        `json:"guest_name,omitempty"`
	PartySize int           `json:"party_size,omitempty"`
	At        time.Time     `json:"at"`
	Status    BookingStatus `json:"status"`
}

type bookingPayload struct {
	ID        envelope.ID `json:"id"`
	BookingID envelope.ID `json:"booking_id"`
	Service   string      `json:"service"`
	Table     string      `json:"table"`
	GuestName string      `json:"guest_name"`
	PartySize int         `json:"party_size"`
	At        time.Time   `json:"at"`
	Status    string      `json:"status"`
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
	Clock  func() time.Time
}

// Store owns service-booking state plus the todays index.
type Store struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	bookings map[string]Booking
	today    []string
}

// NewStore constructs an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		logger:   logger,
		now:      clock,
		bookings: make(map[string]Booking),
	}
}

// InitBookings replaces state with a bulk load and rebuilds the todays index.
func (s *Store) InitBookings(bookings []Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = make(map[string]Booking, len(bookings))
	s.today = nil
	for _, booking := range bookings {
		s.bookings[booking.ID] = booking
		s.syncTodayIndex(booking)
	}
}

// HandleEvent applies one routed envelope.
func (s *Store) HandleEvent(env envelope.Envelope) {
	var payload bookingPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.logger.Warn("service booking payload malformed", zap.Error(err))
		return
	}

	switch env.Type {
	case EventBookingCreated:
		s.applyCreated(payload)
	case EventBookingUpdated:
		s.applyUpdated(payload)
	case EventBookingCancelled:
		s.applyCancelled(payload)
	case EventBookingReopened:
		s.applyReopened(payload)
	default:
		s.logger.Debug("service booking event ignored", zap.String("type", env.Type))
	}
}

func (s *Store) applyCreated(payload bookingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.bookingID()
	if existing, known := s.bookings[id]; known && isTerminal(existing.Status) {
		s.logger.Warn("create for terminal service booking ignored",
			zap.String("booking_id", id),
			zap.String("current", string(existing.Status)))
		return
	}
	booking := Booking{
		ID:        id,
		Service:   payload.Service,
		Table:     payload.Table,
		GuestName: payload.GuestName,
		PartySize: payload.PartySize,
		At:        payload.At,
		Status:    bookingStatus(payload.Status, StatusBooked),
	}
	s.bookings[id] = booking
	s.syncTodayIndex(booking)
}

func (s *Store) applyUpdated(payload bookingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.bookingID()
	booking, known := s.bookings[id]
	if !known {
		s.logger.Warn("update for unknown service booking", zap.String("booking_id", id))
		return
	}
	if isTerminal(booking.Status) {
		s.logger.Warn("update for terminal service booking ignored",
			zap.String("booking_id", id),
			zap.String("current", string(booking.Status)))
		return
	}
	if payload.Service != "" {
		booking.Service = payload.Service
	}
	if payload.Table != "" {
		booking.Table = payload.Table
	}
	if payload.GuestName != "" {
		booking.GuestName = payload.GuestName
	}
	if payload.PartySize > 0 {
		booking.PartySize = payload.PartySize
	}
	if !payload.At.IsZero() {
		booking.At = payload.At
	}
	if status, ok := parseStatus(payload.Status); ok {
		booking.Status = status
	}
	s.bookings[id] = booking
	s.syncTodayIndex(booking)
}

func (s *Store) applyCancelled(payload bookingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.bookingID()
	booking, known := s.bookings[id]
	if !known {
		s.logger.Warn("cancel for unknown service booking", zap.String("booking_id", id))
		return
	}
	booking.Status = StatusCancelled
	s.bookings[id] = booking
	s.syncTodayIndex(booking)
}

func (s *Store) applyReopened(payload bookingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.bookingID()
	booking, known := s.bookings[id]
	if !known {
		s.logger.Warn("reopen for unknown service booking", zap.String("booking_id", id))
		return
	}
	booking.Status = bookingStatus(payload.Status, StatusBooked)
	s.bookings[id] = booking
	s.syncTodayIndex(booking)
}

// syncTodayIndex keeps the index holding exactly the non-cancelled bookings
// scheduled for the current calendar day. Callers must hold the mutex.
func (s *Store) syncTodayIndex(booking Booking) {
	belongs := booking.Status != StatusCancelled && sameDay(booking.At, s.now())
	position := -1
	for i, id := range s.today {
		if id == booking.ID {
			position = i
			break
		}
	}
	switch {
	case belongs && position < 0:
		s.today = append(s.today, booking.ID)
	case !belongs && position >= 0:
		s.today = append(s.today[:position:position], s.today[position+1:]...)
	}
}

// Booking returns one booking by id.
func (s *Store) Booking(id string) (Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[id]
	return booking, ok
}

// TodaysBookings returns the ids of active bookings scheduled today.
func (s *Store) TodaysBookings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.today...)
}

// Snapshot is a copy of the store state safe to hand across goroutines.
type Snapshot struct {
	Bookings map[string]Booking `json:"bookings"`
	Today    []string           `json:"today"`
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := Snapshot{
		Bookings: make(map[string]Booking, len(s.bookings)),
		Today:    append([]string{}, s.today...),
	}
	for id, booking := range s.bookings {
		snapshot.Bookings[id] = booking
	}
	return snapshot
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func isTerminal(status BookingStatus) bool {
	return status == StatusCompleted || status == StatusCancelled
}

func parseStatus(raw string) (BookingStatus, bool) {
	switch BookingStatus(raw) {
	case StatusBooked, StatusSeated, StatusCompleted, StatusCancelled:
		return BookingStatus(raw), true
	default:
		return "", false
	}
}

func bookingStatus(raw string, fallback BookingStatus) BookingStatus {
	if status, ok := parseStatus(raw); ok {
		return status
	}
	return fallback
}
