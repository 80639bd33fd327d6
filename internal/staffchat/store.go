// Package staffchat holds the domain store for staff-to-staff chat. It is
// structurally parallel to guestchat but kept separate on purpose: the two
// domains have different participant models and unread-counting rules.
package staffchat

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/lodgetech/relay/internal/envelope"
	"go.uber.org/zap"
)

// Event types routed to this store. Staff-chat producers publish under the
// transport's richer event names, which the normalizer treats as the
// effective type.
const (
	EventMessageCreated      = "message_created"
	EventMessageEdited       = "message_edited"
	EventMessageDeleted      = "message_deleted"
	EventMessageRead         = "message_read"
	EventMessagesReadBulk    = "messages_read_bulk"
	EventConversationUpdated = "conversation_updated"
	EventUnreadCountUpdated  = "unread_count_updated"
)

// StoreConfig describes Store dependencies.
type StoreConfig struct {
	// SelfID is the signed-in staff member; their own messages never count as unread.
	SelfID string
	Logger *zap.Logger
}

// Store owns the normalized staff-chat state: conversations, per-conversation
// ordered message lists and unread counters. All mutation goes through
// InitConversations/InitMessages, HandleEvent and the active-conversation
// operations.
type Store struct {
	selfID string
	logger *zap.Logger

	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]Message
	activeID      string
}

// NewStore constructs an empty store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		selfID:        cfg.SelfID,
		logger:        logger,
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

// InitConversations replaces the conversation map with a bulk load from the
// REST layer.
func (s *Store) InitConversations(conversations []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]Conversation, len(conversations))
	for _, conversation := range conversations {
		s.conversations[conversation.ID] = conversation
	}
}

// InitMessages replaces one conversation's message list with a bulk load.
func (s *Store) InitMessages(conversationID string, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]Message{}, messages...)
	sortMessages(list)
	s.messages[conversationID] = list
}

// SetActiveConversation marks the focused conversation and resets its unread
// counter. Passing an empty id clears focus.
func (s *Store) SetActiveConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = conversationID
	if conversationID == "" {
		return
	}
	if conversation, ok := s.conversations[conversationID]; ok {
		conversation.UnreadCount = 0
		s.conversations[conversationID] = conversation
	}
}

// MarkRead resets one conversation's unread counter without changing focus.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversation, ok := s.conversations[conversationID]; ok {
		conversation.UnreadCount = 0
		s.conversations[conversationID] = conversation
	}
}

// HandleEvent applies one routed envelope. Unknown event types degrade to
// no-ops; invariant violations log a warning and leave state unchanged.
func (s *Store) HandleEvent(env envelope.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Type {
	case EventMessageCreated:
		s.applyMessageCreated(env.Payload)
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
		s.logger.Debug("staff chat event ignored", zap.String("type", env.Type))
	}
}

func (s *Store) applyMessageCreated(raw json.RawMessage) {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("staff chat message payload malformed", zap.Error(err))
		return
	}
	conversationID := payload.ConversationID.String()
	message := Message{
		ID:             payload.messageID(),
		ConversationID: conversationID,
		SenderID:       payload.SenderID.String(),
		SenderName:     payload.SenderName,
		Body:           payload.Body,
		CreatedAt:      payload.CreatedAt,
	}
	inserted := s.upsertMessage(conversationID, message)

	conversation, known := s.conversations[conversationID]
	if !known {
		conversation = Conversation{ID: conversationID}
	}
	if message.CreatedAt.After(conversation.LastMessageAt) {
		conversation.LastMessageAt = message.CreatedAt
	}
	if inserted && message.SenderID != s.selfID && conversationID != s.activeID {
		conversation.UnreadCount++
	}
	s.conversations[conversationID] = conversation
}

func (s *Store) applyMessageEdited(raw json.RawMessage) {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("staff chat edit payload malformed", zap.Error(err))
		return
	}
	conversationID := payload.ConversationID.String()
	list, ok := s.messages[conversationID]
	if !ok {
		s.logger.Warn("edit for unknown conversation", zap.String("conversation_id", conversationID))
		return
	}
	for i := range list {
		if list[i].ID == payload.messageID() {
			list[i].Body = payload.Body
			list[i].EditedAt = payload.EditedAt
			return
		}
	}
	s.logger.Warn("edit for unknown message",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", payload.messageID()))
}

func (s *Store) applyMessageDeleted(raw json.RawMessage) {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("staff chat delete payload malformed", zap.Error(err))
		return
	}
	conversationID := payload.ConversationID.String()
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID == payload.messageID() {
			list[i].Deleted = true
			list[i].Body = ""
			return
		}
	}
	s.logger.Warn("delete for unknown message",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", payload.messageID()))
}

func (s *Store) applyReadReceipt(raw json.RawMessage) {
	var payload readReceiptPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("staff chat read receipt malformed", zap.Error(err))
		return
	}
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
		s.logger.Warn("staff chat conversation payload malformed", zap.Error(err))
		return
	}
	id := payload.ID.String()
	conversation, ok := s.conversations[id]
	if !ok {
		s.logger.Warn("update for unknown conversation", zap.String("conversation_id", id))
		return
	}
	if payload.Subject != "" {
		conversation.Subject = payload.Subject
	}
	if len(payload.Participants) > 0 {
		conversation.Participants = payload.Participants
	}
	if payload.LastMessageAt.After(conversation.LastMessageAt) {
		conversation.LastMessageAt = payload.LastMessageAt
	}
	s.conversations[id] = conversation
}

func (s *Store) applyUnreadCount(raw json.RawMessage) {
	var payload unreadCountPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("staff chat unread payload malformed", zap.Error(err))
		return
	}
	id := payload.ConversationID.String()
	conversation, ok := s.conversations[id]
	if !ok {
		s.logger.Warn("unread update for unknown conversation", zap.String("conversation_id", id))
		return
	}
	if payload.IsTotalUpdate {
		conversation.UnreadCount = payload.Count
	} else {
		conversation.UnreadCount += payload.Count
	}
	if conversation.UnreadCount < 0 {
		conversation.UnreadCount = 0
	}
	s.conversations[id] = conversation
}

// upsertMessage inserts or replaces by message id and re-sorts. Returns true
// when the message was new. Id-based replacement is the second line of dedup
// defense behind the router's ledger.
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

// UnreadCount returns one conversation's unread counter.
func (s *Store) UnreadCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[conversationID].UnreadCount
}

// sortMessages keeps the list ascending by (timestamp, id); realtime delivery
// and fetched history interleave out of order.
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
