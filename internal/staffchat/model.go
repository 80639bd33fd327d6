package staffchat

import (
	"time"

	"github.com/lodgetech/relay/internal/envelope"
)

// Message is one staff-to-staff chat message.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	ReadBy         []string   `json:"read_by,omitempty"`
}

// Conversation is the metadata row for one staff-chat thread.
type Conversation struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject,omitempty"`
	Participants  []string  `json:"participants,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
}

type messagePayload struct {
	ID             envelope.ID `json:"id"`
	MessageID      envelope.ID `json:"message_id"`
	ConversationID envelope.ID `json:"conversation_id"`
	SenderID       envelope.ID `json:"sender_id"`
	SenderName     string      `json:"sender_name"`
	Body           string      `json:"body"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at"`
}

func (p messagePayload) messageID() string {
	if p.MessageID != "" {
		return p.MessageID.String()
	}
	return p.ID.String()
}

type readReceiptPayload struct {
	ConversationID envelope.ID   `json:"conversation_id"`
	MessageID      envelope.ID   `json:"message_id"`
	MessageIDs     []envelope.ID `json:"message_ids"`
	ReaderID       envelope.ID   `json:"reader_id"`
}

type conversationPayload struct {
	ID            envelope.ID `json:"id"`
	Subject       string      `json:"subject"`
	Participants  []string    `json:"participants"`
	LastMessageAt time.Time   `json:"last_message_at"`
}

type unreadCountPayload struct {
	ConversationID envelope.ID `json:"conversation_id"`
	Count          int         `json:"count"`
	IsTotalUpdate  bool        `json:"is_total_update"`
}
