package guestchat

import (
	"time"

	"github.com/lodgetech/relay/internal/envelope"
)

// Role identifies which side of a guest conversation a participant (or this
// store's owner) is on.
type Role string

const (
	RoleGuest Role = "guest"
	RoleStaff Role = "staff"
)

// MessageStatus tracks the delivery state of a message. Server-confirmed
// messages are always delivered; only locally synthesized optimistic entries
// pass through sending or failed.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// LocalIDPrefix marks locally synthesized message identifiers awaiting server
// confirmation.
const LocalIDPrefix = "local:"

// Message is one guest-chat message.
type Message struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversation_id"`
	Sender          Role          `json:"sender"`
	Body            string        `json:"body"`
	ClientMessageID string        `json:"client_message_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	Status          MessageStatus `json:"status"`
	EditedAt        *time.Time    `json:"edited_at,omitempty"`
	Deleted         bool          `json:"deleted,omitempty"`
	ReadBy          []string      `json:"read_by,omitempty"`
}

// Conversation is the metadata row for one guest-chat thread, keyed by the
// conversation id with the room pin as the channel-addressing handle.
type Conversation struct {
	ID             string    `json:"id"`
	RoomPin        string    `json:"room_pin,omitempty"`
	GuestName      string    `json:"guest_name,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadForStaff int       `json:"unread_for_staff"`
	UnreadForGuest int       `json:"unread_for_guest"`
}

type messagePayload struct {
	ID              envelope.ID `json:"id"`
	MessageID       envelope.ID `json:"message_id"`
	ConversationID  envelope.ID `json:"conversation_id"`
	Sender          string      `json:"sender"`
	Body            string      `json:"body"`
	ClientMessageID string      `json:"client_message_id"`
	CreatedAt       time.Time   `json:"created_at"`
	EditedAt        *time.Time  `json:"edited_at"`
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
	RoomPin       string      `json:"room_pin"`
	GuestName     string      `json:"guest_name"`
	LastMessageAt time.Time   `json:"last_message_at"`
}

type unreadCountPayload struct {
	ConversationID envelope.ID `json:"conversation_id"`
	Count          int         `json:"count"`
	IsTotalUpdate  bool        `json:"is_total_update"`
	For            string      `json:"for"`
}
