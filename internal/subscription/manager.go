// Package subscription owns the lifecycle of logical channel subscriptions:
// the fixed hotel-wide set, the optional personal channel, and dynamic
// per-conversation channels. Every received event is forwarded into the
// normalization pipeline; subscription failures are surfaced as state, never
// retried here.
package subscription

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/lodgetech/relay/internal/envelope"
	"github.com/lodgetech/relay/internal/transport"
	"go.uber.org/zap"
)

var (
	errMissingClient   = errors.New("subscription: transport client required")
	errMissingPipeline = errors.New("subscription: pipeline required")
)

// baseDomains is the fixed set of hotel-wide channels opened per tenant.
var baseDomains = []string{
	"staff-chat",
	"guest-chat",
	"attendance",
	"room-service",
	"bookings",
	"room-bookings",
}

// Pipeline receives every raw delivery from every subscribed channel.
type Pipeline interface {
	HandleDelivery(delivery envelope.ChannelDelivery)
}

// BaseScope identifies the tenant (and optionally the signed-in staff member)
// the base channels are opened for.
type BaseScope struct {
	TenantSlug string
	StaffID    string
}

// Status is the connection-state flag surfaced to UI indicators.
type Status struct {
	BaseActive     bool
	FailedChannels []string
}

// ManagerConfig describes Manager dependencies.
type ManagerConfig struct {
	Client   transport.Client
	Pipeline Pipeline
	Logger   *zap.Logger
}

// Manager tracks open channels and guarantees unbind-before-unsubscribe on
// every teardown path.
type Manager struct {
	client   transport.Client
	pipeline Pipeline
	logger   *zap.Logger

	mu            sync.Mutex
	baseActive    bool
	base          map[string]transport.Channel
	conversations map[string]transport.Channel
	failed        map[string]error
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Pipeline == nil {
		return nil, errMissingPipeline
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:        cfg.Client,
		pipeline:      cfg.Pipeline,
		logger:        logger,
		base:          make(map[string]transport.Channel),
		conversations: make(map[string]transport.Channel),
		failed:        make(map[string]error),
	}, nil
}

// SubscribeBase opens the hotel-wide channels plus the personal channel when
// a staff id is present. Calling it again while the base set is active is a
// no-op returning a no-op cleanup; the returned cleanup from the first call
// tears the whole set down.
func (m *Manager) SubscribeBase(scope BaseScope) func() {
	m.mu.Lock()
	if m.baseActive {
		m.mu.Unlock()
		m.logger.Debug("base channels already subscribed", zap.String("tenant", scope.TenantSlug))
		return func() {}
	}
	m.baseActive = true
	m.mu.Unlock()

	names := make([]string, 0, len(baseDomains)+1)
	for _, domain := range baseDomains {
		names = append(names, transport.HotelChannel(scope.TenantSlug, domain))
	}
	if scope.StaffID != "" {
		names = append(names, transport.StaffNotificationsChannel(scope.TenantSlug, scope.StaffID))
	}

	for _, name := range names {
		channel, err := m.openForwardingChannel(name, nil)
		if err != nil {
			m.recordFailure(name, err)
			continue
		}
		m.mu.Lock()
		m.base[name] = channel
		m.mu.Unlock()
	}

	return m.TeardownBase
}

// TeardownBase unbinds and unsubscribes every base channel.
func (m *Manager) TeardownBase() {
	m.mu.Lock()
	open := m.base
	m.base = make(map[string]transport.Channel)
	m.baseActive = false
	m.mu.Unlock()

	for name, channel := range open {
		channel.UnbindAll()
		m.client.Unsubscribe(name)
	}
}

// SubscribeStaffConversation opens the channel for one staff-chat
// conversation. Independent lifecycle from the base set.
func (m *Manager) SubscribeStaffConversation(tenantSlug, conversationID string) func() {
	name := transport.StaffConversationChannel(tenantSlug, conversationID)
	return m.subscribeConversation(name, nil)
}

// SubscribeGuestConversation opens the channel for one guest-chat
// conversation. onSubscribed fires on every subscription-succeeded signal,
// i.e. on first connect and again after each reconnect, which is the resync
// trigger for the guest-chat client.
func (m *Manager) SubscribeGuestConversation(tenantSlug, roomPin string, onSubscribed func()) func() {
	name := transport.GuestConversationChannel(tenantSlug, roomPin)
	return m.subscribeConversation(name, onSubscribed)
}

func (m *Manager) subscribeConversation(name string, onSubscribed func()) func() {
	m.mu.Lock()
	if _, open := m.conversations[name]; open {
		m.mu.Unlock()
		m.logger.Debug("conversation channel already subscribed", zap.String("channel", name))
		return func() {}
	}
	m.mu.Unlock()

	channel, err := m.openForwardingChannel(name, onSubscribed)
	if err != nil {
		m.recordFailure(name, err)
		return func() {}
	}

	m.mu.Lock()
	m.conversations[name] = channel
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		open, ok := m.conversations[name]
		delete(m.conversations, name)
		m.mu.Unlock()
		if ok {
			open.UnbindAll()
			m.client.Unsubscribe(name)
		}
	}
}

// openForwardingChannel subscribes and binds the catch-all listener feeding
// the pipeline.
func (m *Manager) openForwardingChannel(name string, onSubscribed func()) (transport.Channel, error) {
	channel, err := m.client.Subscribe(name)
	if err != nil {
		return nil, err
	}
	if onSubscribed != nil {
		channel.Bind(transport.EventSubscriptionSucceeded, func(json.RawMessage) {
			onSubscribed()
		})
	}
	channel.BindGlobal(func(eventName string, payload json.RawMessage) {
		m.pipeline.HandleDelivery(envelope.ChannelDelivery{
			Channel:   name,
			EventName: eventName,
			Payload:   payload,
		})
	})
	m.clearFailure(name)
	return channel, nil
}

func (m *Manager) recordFailure(name string, err error) {
	m.logger.Warn("channel subscription failed", zap.String("channel", name), zap.Error(err))
	m.mu.Lock()
	m.failed[name] = err
	m.mu.Unlock()
}

func (m *Manager) clearFailure(name string) {
	m.mu.Lock()
	delete(m.failed, name)
	m.mu.Unlock()
}

// Status reports the current subscription state for UI indicators.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := Status{BaseActive: m.baseActive}
	for name := range m.failed {
		status.FailedChannels = append(status.FailedChannels, name)
	}
	return status
}
