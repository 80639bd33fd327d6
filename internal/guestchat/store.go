// Package guestchat holds the guest-conversation domain store and the
// send/receive client protocol. It parallels staffchat structurally but keeps
// its own participant model and a guest/staff unread split.
package guestchat

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/lodgetech/relay/internal/envelope"
	"go.uber.org/zap"
)

// Event types routed to this store.
const (
	EventGuestMessageCreated = "guest_message_created"
	EventStaffMessageCreated = "staff_message_created"
	EventMessageEdited       = "message_edited"
	EventMessageDeleted      = "message_deleted"
	EventMessageRead         = "message_read"
	EventMessagesReadBulk    = "messages_read_bulk"
	EventConversationUpdated = "conversation_updated"
	EventUnreadCountUpdated  = "unread_count_updated"
)

// ConfirmFunc observes server confirmation of an optimistic message: a
// realtime delivery whose client_message_id matched a local entry.
type ConfirmFunc func(conversationID, clientMessageID string)

// StoreConfig describes Store dependencies.
type StoreConfig struct {
	// Perspective is the side this process represents; it decides which unread
	// counter the active-conversation rule applies to.
	Perspective Role
	Logger      *zap.Logger
}

// Store owns normalized guest-chat state. Server messages are merged by id;
// optimistic local entries are resolved by correlation id the moment their
// confirmed counterpart arrives.
type Store struct {
	perspective Role
	logger      *zap.Logger

	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]Message
	activeID      string
	confirms      map[int]ConfirmFunc
	nextConfirmID int
}

// NewStore constructs an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	perspective := cfg.Perspective
	if perspective == "" {
		perspective = RoleStaff
	}
	return &Store{
		perspective:   perspective,
		logger:        logger,
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		confirms:      make(map[int]ConfirmFunc),
	}
}

// SubscribeConfirmations registers an observer for optimistic-message
// confirmations and returns its unregister function.
func (s *Store) SubscribeConfirmations(fn ConfirmFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextConfirmID
	s.nextConfirmID++
	s.confirms[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.confirms, id)
	}
}

// InitConversations replaces the conversation map with a bulk load.
func (s *Store) InitConversations(conversations []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]Conversation, len(conversations))
	for _, conversation := range conversations {
		s.conversations[conversation.ID] = conversation
	}
}

// InitMessages replaces one conversation's list with a bulk load. Incoming
// entries are server-confirmed by definition.
func (s *Store) InitMessages(conversationID string, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Message, 0, len(messages))
	for _, message := range messages {
		if message.Status == "" {
			message.Status = StatusDelivered
		}
		list = append(list, message)
	}
	sortMessages(list)
	s.messages[conversationID] = list
}

// MergeMessages merges a fetched page by id into the current list, resolving
// optimistic entries whose correlation id now has a server-side match and
// preserving the still-unconfirmed ones. Used by reconnect resync and
// pagination.
func (s *Store) MergeMessages(conversationID string, messages []Message) {
	s.mu.Lock()
	var confirmed []string
	for _, message := range messages {
		if message.Status == "" {
			message.Status = StatusDelivered
		}
		if message.ClientMessageID != "" && s.dropLocalEntry(conversationID, message.ClientMessageID) {
			confirmed = append(confirmed, message.ClientMessageID)
		}
		s.upsertMessage(conversationID, message)
	}
	observers := s.observers()
	s.mu.Unlock()

	for _, clientMessageID := range confirmed {
		for _, fn := range observers {
			fn(conversationID, clientMessageID)
		}
	}
}

// AppendLocal injects an optimistic, locally synthesized message.
func (s *Store) AppendLocal(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertMessage(message.ConversationID, message)
}

// MarkLocalFailed flips an optimistic entry to failed after a REST rejection.
func (s *Store) MarkLocalFailed(conversationID, clientMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ClientMessageID == clientMessageID && strings.HasPrefix(list[i].ID, LocalIDPrefix) {
			list[i].Status = StatusFailed
			return
		}
	}
}

// RemoveLocal drops an optimistic entry, e.g. before a user-initiated retry.
func (s *Store) RemoveLocal(conversationID, clientMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocalEntry(conversationID, clientMessageID)
}

// SetActiveConversation marks the focused conversation and resets the unread
// counter for this store's perspective.
func (s *Store) SetActiveConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = conversationID
	if conversationID == "" {
		return
	}
	if conversation, ok := s.conversations[conversationID]; ok {
		s.resetUnread(&conversation)
		s.conversations[conversationID] = conversation
	}
}

// MarkRead resets this perspective's unread counter for one conversation.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversation, ok := s.conversations[conversationID]; ok {
		s.resetUnread(&conversation)
		s.conversations[conversationID] = conversation
	}
}

// HandleEvent applies one routed envelope.
func (s *Store) HandleEvent(env envelope.Envelope) {
	switch env.Type {
	case EventGuestMessageCreated:
		s.applyMessageCreated(env.Payload, RoleGuest)
	case EventStaffMessageCreated:
		s.applyMessageCreated(env.Payload, RoleStaff)
	case EventMessageEdited:
		s.applyMessageEdited(env.Payload)
	case EventMessageDeleted:
		s.applyMessageDeleted(env.Payload)
	case EventMessageRead, EventMessagesReadBulk:
		s.applyReadReceipt(env.Payload)
	case EventConversationUpdated:
		s.applyConversationUpdated(env.Payload)
	case EventUnreadCountUpdated:
		s.applyUnreadCount(env.Payload)
	default:
		s.logger.Debug("guest chat event ignored", zap.String("type", env.Type))
	}
}

func (s *Store) applyMessageCreated(raw json.RawMessage, sender Role) {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("guest chat message payload malformed", zap.Error(err))
		return
	}
	conversationID := payload.ConversationID.String()
	message := Message{
		ID:              payload.messageID(),
		ConversationID:  conversationID,
		Sender:          sender,
		Body:            payload.Body,
		ClientMessageID: payload.ClientMessageID,
		CreatedAt:       payload.CreatedAt,
		Status:          StatusDelivered,
	}

	s.mu.Lock()
	var confirmedClientID string
	if message.ClientMessageID != "" && s.dropLocalEntry(conversationID, message.ClientMessageID) {
		confirmedClientID = message.ClientMessageID
	}
	inserted := s.upsertMessage(conversationID, message)

	conversation, known := s.conversations[conversationID]
	if !known {
		conversation = Conversation{ID: conversationID}
	}
	if message.CreatedAt.After(conversation.LastMessageAt) {
		conversation.LastMessageAt = message.CreatedAt
	}
	if inserted && confirmedClientID == "" {
		s.countUnread(&conversation, sender)
	}
	s.conversations[conversationID] = conversation
	observers := s.observers()
	s.mu.Unlock()

	if confirmedClientID != "" {
		for _, fn := range observers {
			fn(conversationID, confirmedClientID)
		}
	}
}

// countUnread increments the counter of the party the message was sent to,
// unless that party is this perspective and the conversation is focused.
func (s *Store) countUnread(conversation *Conversation, sender Role) {
	switch sender {
	case RoleGuest:
		if s.perspective == RoleStaff && conversation.ID == s.activeID {
			return
		}
		conversation.UnreadForStaff++
	case RoleStaff:
		if s.perspective == RoleGuest && conversation.ID == s.activeID {
			return
		}
		conversation.UnreadForGuest++
	}
}

func (s *Store) resetUnread(conversation *Conversation) {
	if s.perspective == RoleGuest {
		conversation.UnreadForGuest = 0
		return
	}
	conversation.UnreadForStaff = 0
}

func (s *Store) applyMessageEdited(raw json.RawMessage) {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("guest chat edit payload malformed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID := payload.ConversationID.String()
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID == payload.messageID() {
			list[i].Body = payload.Body
			list[i].EditedAt = payload.EditedAt
			return
		}
	}
	s.logger.Warn("edit for unknown guest chat message",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", payload.messageID()))
}

func (s *Store) applyMessageDeleted(raw json.RawMessage) {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("guest chat delete payload malformed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID := payload.ConversationID.String()
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID == payload.messageID() {
			list[i].Deleted = true
			list[i].Body = ""
			return
		}
	}
	s.logger.Warn("delete for unknown guest chat message",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", payload.messageID()))
}

func (s *Store) applyReadReceipt(raw json.RawMessage) {
	var payload readReceiptPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("guest chat read receipt malformed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID := payload.ConversationID.String()
	list, ok := s.messages[conversationID]
	if !ok {
		s.logger.Warn("read receipt for unknown conversation", zap.String("conversation_id", conversationID))
		return
	}

	targets := make(map[string]struct{}, len(payload.MessageIDs)+1)
	if payload.MessageID != "" {
		targets[payload.MessageID.String()] = struct{}{}
	}
	for _, id := range payload.MessageIDs {
		targets[id.String()] = struct{}{}
	}

	reader := payload.ReaderID.String()
	for i := range list {
		if _, hit := targets[list[i].ID]; hit {
			list[i].ReadBy = appendReader(list[i].ReadBy, reader)
		}
	}
}

func (s *Store) applyConversationUpdated(raw json.RawMessage) {
	var payload conversationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("guest chat conversation payload malformed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.ID.String()
	conversation, ok := s.conversations[id]
	if !ok {
		s.logger.Warn("update for unknown guest conversation", zap.String("conversation_id", id))
		return
	}
	if payload.RoomPin != "" {
		conversation.RoomPin = payload.RoomPin
	}
	if payload.GuestName != "" {
		conversation.GuestName = payload.GuestName
	}
	if payload.LastMessageAt.After(conversation.LastMessageAt) {
		conversation.LastMessageAt = payload.LastMessageAt
	}
	s.conversations[id] = conversation
}

func (s *Store) applyUnreadCount(raw json.RawMessage) {
	var payload unreadCountPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("guest chat unread payload malformed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := payload.ConversationID.String()
	conversation, ok := s.conversations[id]
	if !ok {
		s.logger.Warn("unread update for unknown guest conversation", zap.String("conversation_id", id))
		return
	}

	target := &conversation.UnreadForStaff
	if payload.For == string(RoleGuest) {
		target = &conversation.UnreadForGuest
	}
	if payload.IsTotalUpdate {
		*target = payload.Count
	} else {
		*target += payload.Count
	}
	if *target < 0 {
		*target = 0
	}
	s.conversations[id] = conversation
}

// dropLocalEntry removes the optimistic message carrying the correlation id.
// Callers must hold the mutex.
func (s *Store) dropLocalEntry(conversationID, clientMessageID string) bool {
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ClientMessageID == clientMessageID && strings.HasPrefix(list[i].ID, LocalIDPrefix) {
			s.messages[conversationID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// upsertMessage inserts or replaces by id and re-sorts. Callers must hold the
// mutex.
func (s *Store) upsertMessage(conversationID string, message Message) bool {
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID == message.ID {
			message.ReadBy = list[i].ReadBy
			list[i] = message
			sortMessages(list)
			return false
		}
	}
	list = append(list, message)
	sortMessages(list)
	s.messages[conversationID] = list
	return true
}

func (s *Store) observers() []ConfirmFunc {
	observers := make([]ConfirmFunc, 0, len(s.confirms))
	for _, fn := range s.confirms {
		observers = append(observers, fn)
	}
	return observers
}

// Snapshot is a copy of the store state safe to hand across goroutines.
type Snapshot struct {
	Conversations        map[string]Conversation `json:"conversations"`
	Messages             map[string][]Message    `json:"messages"`
	ActiveConversationID string                  `json:"active_conversation_id,omitempty"`
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := Snapshot{
		Conversations:        make(map[string]Conversation, len(s.conversations)),
		Messages:             make(map[string][]Message, len(s.messages)),
		ActiveConversationID: s.activeID,
	}
	for id, conversation := range s.conversations {
		snapshot.Conversations[id] = conversation
	}
	for id, list := range s.messages {
		snapshot.Messages[id] = append([]Message{}, list...)
	}
	return snapshot
}

// Messages returns a copy of one conversation's ordered message list.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.messages[conversationID]...)
}

// Conversation returns one conversation row.
func (s *Store) Conversation(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	return conversation, ok
}

func sortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func appendReader(readers []string, reader string) []string {
	if reader == "" {
		return readers
	}
	for _, existing := range readers {
		if existing == reader {
			return readers
		}
	}
	return append(readers, reader)
}
