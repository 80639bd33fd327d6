// Package roomservice tracks in-room dining orders and a derived pending
// index kept in sync by membership test on every create and update.
package roomservice

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lodgetech/relay/internal/envelope"
	"go.uber.org/zap"
)

// OrderStatus is an order's lifecycle stage.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// Event types routed to this store. A terminal order only leaves its terminal
// state through the explicit reopen event, never by inference from a status
// field.
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderReopened      = "order_reopened"
)

// OrderItem is one line of an order.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Order is one room-service order.
type Order struct {
	ID         string      `json:"id"`
	RoomNumber string      `json:"room_number"`
	Items      []OrderItem `json:"items,omitempty"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type orderPayload struct {
	ID         envelope.ID `json:"id"`
	OrderID    envelope.ID `json:"order_id"`
	RoomNumber string      `json:"room_number"`
	Items      []OrderItem `json:"items"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (p orderPayload) orderID() string {
	if p.OrderID != "" {
		return p.OrderID.String()
	}
	return p.ID.String()
}

// StoreConfig describes Store dependencies.
type StoreConfig struct {
	Logger *zap.Logger
}

// Store owns room-service order state plus the pending index.
type Store struct {
	logger *zap.Logger

	mu      sync.Mutex
	orders  map[string]Order
	pending []string
}

// NewStore constructs an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger: logger,
		orders: make(map[string]Order),
	}
}

// InitOrders replaces the order map with a bulk load and rebuilds the pending
// index.
func (s *Store) InitOrders(orders []Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]Order, len(orders))
	s.pending = nil
	for _, order := range orders {
		s.orders[order.ID] = order
		s.syncPendingIndex(order)
	}
}

// HandleEvent applies one routed envelope.
func (s *Store) HandleEvent(env envelope.Envelope) {
	var payload orderPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.logger.Warn("room service payload malformed", zap.Error(err))
		return
	}

	switch env.Type {
	case EventOrderCreated:
		s.applyCreated(payload)
	case EventOrderStatusChanged:
		s.applyStatusChanged(payload)
	case EventOrderReopened:
		s.applyReopened(payload)
	default:
		s.logger.Debug("room service event ignored", zap.String("type", env.Type))
	}
}

func (s *Store) applyCreated(payload orderPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.orderID()
	if existing, known := s.orders[id]; known && isTerminal(existing.Status) {
		s.logger.Warn("create for terminal order ignored",
			zap.String("order_id", id),
			zap.String("current", string(existing.Status)))
		return
	}
	order := Order{
		ID:         id,
		RoomNumber: payload.RoomNumber,
		Items:      payload.Items,
		Status:     orderStatus(payload.Status, StatusPending),
		CreatedAt:  payload.CreatedAt,
		UpdatedAt:  payload.UpdatedAt,
	}
	s.orders[id] = order
	s.syncPendingIndex(order)
}

func (s *Store) applyStatusChanged(payload orderPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.orderID()
	order, known := s.orders[id]
	if !known {
		s.logger.Warn("status change for unknown order", zap.String("order_id", id))
		return
	}
	if isTerminal(order.Status) {
		s.logger.Warn("status change for terminal order ignored",
			zap.String("order_id", id),
			zap.String("current", string(order.Status)),
			zap.String("incoming", payload.Status))
		return
	}
	next, ok := parseStatus(payload.Status)
	if !ok {
		s.logger.Warn("order status unknown", zap.String("order_id", id), zap.String("status", payload.Status))
		return
	}
	order.Status = next
	if !payload.UpdatedAt.IsZero() {
		order.UpdatedAt = payload.UpdatedAt
	}
	s.orders[id] = order
	s.syncPendingIndex(order)
}

func (s *Store) applyReopened(payload orderPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.orderID()
	order, known := s.orders[id]
	if !known {
		s.logger.Warn("reopen for unknown order", zap.String("order_id", id))
		return
	}
	order.Status = orderStatus(payload.Status, StatusPending)
	if !payload.UpdatedAt.IsZero() {
		order.UpdatedAt = payload.UpdatedAt
	}
	s.orders[id] = order
	s.syncPendingIndex(order)
}

// syncPendingIndex adds the order when it is pending and absent, removes it
// when it is not pending and present. Callers must hold the mutex.
func (s *Store) syncPendingIndex(order Order) {
	isPending := order.Status == StatusPending || order.Status == StatusPreparing
	position := -1
	for i, id := range s.pending {
		if id == order.ID {
			position = i
			break
		}
	}
	switch {
	case isPending && position < 0:
		s.pending = append(s.pending, order.ID)
	case !isPending && position >= 0:
		s.pending = append(s.pending[:position:position], s.pending[position+1:]...)
	}
}

// Order returns one order by id.
func (s *Store) Order(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	return order, ok
}

// PendingOrders returns the ids of orders currently pending or preparing.
func (s *Store) PendingOrders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.pending...)
}

// Snapshot is a copy of the store state safe to hand across goroutines.
type Snapshot struct {
	Orders  map[string]Order `json:"orders"`
	Pending []string         `json:"pending"`
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := Snapshot{
		Orders:  make(map[string]Order, len(s.orders)),
		Pending: append([]string{}, s.pending...),
	}
	for id, order := range s.orders {
		snapshot.Orders[id] = order
	}
	return snapshot
}

func isTerminal(status OrderStatus) bool {
	return status == StatusDelivered || status == StatusCancelled
}

func parseStatus(raw string) (OrderStatus, bool) {
	switch OrderStatus(raw) {
	case StatusPending, StatusPreparing, StatusDelivered, StatusCancelled:
		return OrderStatus(raw), true
	default:
		return "", false
	}
}

func orderStatus(raw string, fallback OrderStatus) OrderStatus {
	if status, ok := parseStatus(raw); ok {
		return status
	}
	return fallback
}
