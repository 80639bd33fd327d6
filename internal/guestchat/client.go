package guestchat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/lodgetech/relay/internal/rest"
	"go.uber.org/zap"
)

var (
	// ErrClosed indicates the client was torn down; late results are dropped.
	ErrClosed = errors.New("guestchat: client closed")
	// ErrEmptyBody indicates a send with no content.
	ErrEmptyBody = errors.New("guestchat: empty message body")
	// ErrUnknownAttempt indicates a retry for a correlation id not in the sending buffer.
	ErrUnknownAttempt = errors.New("guestchat: unknown send attempt")
	// ErrUnconfirmedCursor indicates pagination from a locally synthesized id;
	// older pages can only be keyed by a server-confirmed message.
	ErrUnconfirmedCursor = errors.New("guestchat: cursor not yet server-confirmed")
	errMissingStore      = errors.New("guestchat: store required")
	errMissingREST       = errors.New("guestchat: rest client required")
	errMissingIDs        = errors.New("guestchat: id provider required")
	errMissingConvID     = errors.New("guestchat: conversation id required")
)

const defaultPageSize = 50

// IDProvider issues client correlation identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Attempt is one tracked outbound send. It lives in a buffer separate from
// the authoritative message list.
type Attempt struct {
	CorrelationID string
	Body          string
	Status        MessageStatus
	StartedAt     time.Time
}

// ConversationSubscriber opens the realtime channel for one conversation and
// reports subscription-succeeded signals. Satisfied by subscription.Manager.
type ConversationSubscriber interface {
	SubscribeGuestConversation(tenantSlug, roomPin string, onSubscribed func()) func()
}

// ClientConfig describes Client dependencies.
type ClientConfig struct {
	Store          *Store
	REST           rest.Client
	IDs            IDProvider
	Clock          func() time.Time
	Logger         *zap.Logger
	ConversationID string
	// TenantSlug and RoomPin address the conversation's realtime channel; used
	// only when Subscriptions is set.
	TenantSlug    string
	RoomPin       string
	Subscriptions ConversationSubscriber
	SenderRole    Role
	PageSize      int
}

// Client runs the guest-chat send/receive protocol for one conversation:
// optimistic sends keyed by correlation id, failed-send retry, reconnect
// resync, and cursor pagination. Any number of sends may be in flight at
// once, each tracked independently.
type Client struct {
	store          *Store
	restClient     rest.Client
	ids            IDProvider
	clock          func() time.Time
	logger         *zap.Logger
	conversationID string
	tenantSlug     string
	roomPin        string
	subscriptions  ConversationSubscriber
	senderRole     Role
	pageSize       int

	mu       sync.Mutex
	sending  map[string]*Attempt
	closed   bool
	cleanups []func()
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.REST == nil {
		return nil, errMissingREST
	}
	if cfg.IDs == nil {
		return nil, errMissingIDs
	}
	if cfg.ConversationID == "" {
		return nil, errMissingConvID
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	role := cfg.SenderRole
	if role == "" {
		role = RoleGuest
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		store:          cfg.Store,
		restClient:     cfg.REST,
		ids:            cfg.IDs,
		clock:          clock,
		logger:         logger,
		conversationID: cfg.ConversationID,
		tenantSlug:     cfg.TenantSlug,
		roomPin:        cfg.RoomPin,
		subscriptions:  cfg.Subscriptions,
		senderRole:     role,
		pageSize:       pageSize,
		sending:        make(map[string]*Attempt),
	}, nil
}

// Start wires the confirmation observer and, when a subscriber is configured,
// the conversation channel with resync on every subscription-succeeded
// signal. Returns the teardown function; Close is equivalent.
func (c *Client) Start() func() {
	unsubscribe := c.store.SubscribeConfirmations(c.onConfirmed)
	c.mu.Lock()
	c.cleanups = append(c.cleanups, unsubscribe)
	c.mu.Unlock()

	if c.subscriptions != nil {
		cleanup := c.subscriptions.SubscribeGuestConversation(c.tenantSlug, c.roomPin, func() {
			go c.resyncAfterReconnect()
		})
		c.mu.Lock()
		c.cleanups = append(c.cleanups, cleanup)
		c.mu.Unlock()
	}
	return c.Close
}

// Close unbinds everything. In-flight REST calls may still resolve; their
// results are dropped.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for _, cleanup := range cleanups {
		cleanup()
	}
}

// Send submits a new message: synthesizes the optimistic local entry, tracks
// the attempt under a fresh correlation id, and issues the REST call.
func (c *Client) Send(ctx context.Context, body string) (string, error) {
	if body == "" {
		return "", ErrEmptyBody
	}
	correlationID, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("guestchat: correlation id: %w", err)
	}
	return correlationID, c.dispatch(ctx, correlationID, body)
}

// Retry re-enters a failed attempt at sending with the same correlation id
// and content. A message never moves from failed straight to delivered.
func (c *Client) Retry(ctx context.Context, correlationID string) error {
	c.mu.Lock()
	attempt, ok := c.sending[correlationID]
	if !ok || attempt.Status != StatusFailed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAttempt, correlationID)
	}
	body := attempt.Body
	delete(c.sending, correlationID)
	c.mu.Unlock()

	c.store.RemoveLocal(c.conversationID, correlationID)
	return c.dispatch(ctx, correlationID, body)
}

func (c *Client) dispatch(ctx context.Context, correlationID, body string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	now := c.clock().UTC()
	c.sending[correlationID] = &Attempt{
		CorrelationID: correlationID,
		Body:          body,
		Status:        StatusSending,
		StartedAt:     now,
	}
	c.mu.Unlock()

	c.store.AppendLocal(Message{
		ID:              LocalIDPrefix + correlationID,
		ConversationID:  c.conversationID,
		Sender:          c.senderRole,
		Body:            body,
		ClientMessageID: correlationID,
		CreatedAt:       now,
		Status:          StatusSending,
	})

	request := map[string]string{
		"body":              body,
		"client_message_id": correlationID,
	}
	path := fmt.Sprintf("/guest-chat/conversations/%s/messages", c.conversationID)
	if err := c.restClient.Post(ctx, path, request, nil); err != nil {
		c.markFailed(correlationID)
		return fmt.Errorf("guestchat: send: %w", err)
	}

	// Success drops the attempt from the sending buffer; the authoritative
	// message arrives over the realtime channel and merges by id.
	c.mu.Lock()
	delete(c.sending, correlationID)
	c.mu.Unlock()
	return nil
}

func (c *Client) markFailed(correlationID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if attempt, ok := c.sending[correlationID]; ok {
		attempt.Status = StatusFailed
	}
	c.mu.Unlock()
	c.store.MarkLocalFailed(c.conversationID, correlationID)
	c.logger.Warn("guest chat send failed", zap.String("client_message_id", correlationID))
}

// onConfirmed removes the sending-buffer entry once the realtime channel
// delivered the confirmed counterpart, covering the race where the push beats
// the REST response.
func (c *Client) onConfirmed(conversationID, clientMessageID string) {
	if conversationID != c.conversationID {
		return
	}
	c.mu.Lock()
	delete(c.sending, clientMessageID)
	c.mu.Unlock()
}

// Resync re-fetches the latest message page and merges it by id, preserving
// unconfirmed optimistic entries. Compensates for events missed while
// disconnected; the transport exposes no client-visible sequence numbers to
// gap-fill from.
func (c *Client) Resync(ctx context.Context) error {
	var response messagesResponse
	params := url.Values{"limit": []string{strconv.Itoa(c.pageSize)}}
	path := fmt.Sprintf("/guest-chat/conversations/%s/messages", c.conversationID)
	if err := c.restClient.Get(ctx, path, params, &response); err != nil {
		return fmt.Errorf("guestchat: resync: %w", err)
	}
	if c.isClosed() {
		return nil
	}
	c.store.MergeMessages(c.conversationID, response.Messages)
	return nil
}

// LoadOlder pages backwards using the oldest loaded message id as an opaque
// cursor. Returns the number of messages fetched.
func (c *Client) LoadOlder(ctx context.Context) (int, error) {
	messages := c.store.Messages(c.conversationID)
	if len(messages) == 0 {
		return 0, c.Resync(ctx)
	}
	oldest := messages[0]
	if isLocalID(oldest.ID) {
		return 0, ErrUnconfirmedCursor
	}

	var response messagesResponse
	params := url.Values{
		"limit":  []string{strconv.Itoa(c.pageSize)},
		"before": []string{oldest.ID},
	}
	path := fmt.Sprintf("/guest-chat/conversations/%s/messages", c.conversationID)
	if err := c.restClient.Get(ctx, path, params, &response); err != nil {
		return 0, fmt.Errorf("guestchat: load older: %w", err)
	}
	if c.isClosed() {
		return 0, nil
	}
	c.store.MergeMessages(c.conversationID, response.Messages)
	return len(response.Messages), nil
}

// SendingMessages returns the current sending buffer.
func (c *Client) SendingMessages() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	attempts := make([]Attempt, 0, len(c.sending))
	for _, attempt := range c.sending {
		attempts = append(attempts, *attempt)
	}
	return attempts
}

func (c *Client) resyncAfterReconnect() {
	if c.isClosed() {
		return
	}
	if err := c.Resync(context.Background()); err != nil {
		c.logger.Warn("guest chat resync failed", zap.Error(err))
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func isLocalID(id string) bool {
	return len(id) >= len(LocalIDPrefix) && id[:len(LocalIDPrefix)] == LocalIDPrefix
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}
