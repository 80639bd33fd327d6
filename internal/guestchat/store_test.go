package guestchat

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/lodgetech/relay/internal/envelope"
)

func guestEvent(t *testing.T, eventType, payload string) envelope.Envelope {
	t.Helper()
	return envelope.Envelope{
		Category: envelope.CategoryGuestChat,
		Type:     eventType,
		Payload:  json.RawMessage(payload),
	}
}

func guestMessage(t *testing.T, eventType, conversationID, messageID, clientMessageID, body string, at time.Time) envelope.Envelope {
	t.Helper()
	payload := fmt.Sprintf(
		`{"id": %q, "conversation_id": %q, "client_message_id": %q, "body": %q, "created_at": %q}`,
		messageID, conversationID, clientMessageID, body, at.Format(time.RFC3339Nano))
	return guestEvent(t, eventType, payload)
}

func TestOptimisticMessageResolvedByCorrelationID(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	store.AppendLocal(Message{
		ID:              LocalIDPrefix + "c1",
		ConversationID:  "40",
		Sender:          RoleGuest,
		Body:            "towels please",
		ClientMessageID: "c1",
		CreatedAt:       at,
		Status:          StatusSending,
	})

	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "201", "c1", "towels please", at.Add(time.Second)))

	messages := store.Messages("40")
	if len(messages) != 1 {
		t.Fatalf("expected exactly one message after confirmation, got %d", len(messages))
	}
	if messages[0].ID != "201" || messages[0].Status != StatusDelivered {
		t.Fatalf("expected confirmed server message, got %+v", messages[0])
	}
}

func TestConfirmationNotifiesObservers(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	var confirmed []string
	unsubscribe := store.SubscribeConfirmations(func(conversationID, clientMessageID string) {
		confirmed = append(confirmed, conversationID+"/"+clientMessageID)
	})

	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c1", ConversationID: "40", Sender: RoleGuest,
		Body: "hi", ClientMessageID: "c1", CreatedAt: at, Status: StatusSending,
	})
	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "201", "c1", "hi", at))

	if len(confirmed) != 1 || confirmed[0] != "40/c1" {
		t.Fatalf("expected one confirmation 40/c1, got %v", confirmed)
	}

	unsubscribe()
	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c2", ConversationID: "40", Sender: RoleGuest,
		Body: "again", ClientMessageID: "c2", CreatedAt: at, Status: StatusSending,
	})
	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "202", "c2", "again", at))
	if len(confirmed) != 1 {
		t.Fatalf("unsubscribed observer must not fire, got %v", confirmed)
	}
}

func TestConfirmationOfOwnSendSkipsUnread(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleStaff})
	store.InitConversations([]Conversation{{ID: "40"}})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// Confirmation of a local optimistic entry is the sender seeing their own
	// message; nobody's counter moves.
	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c1", ConversationID: "40", Sender: RoleStaff,
		Body: "on the way", ClientMessageID: "c1", CreatedAt: at, Status: StatusSending,
	})
	store.HandleEvent(guestMessage(t, EventStaffMessageCreated, "40", "201", "c1", "on the way", at))

	conversation, _ := store.Conversation("40")
	if conversation.UnreadForGuest != 0 {
		t.Fatalf("own confirmed send must not count unread, got %d", conversation.UnreadForGuest)
	}

	// A genuinely foreign staff message does count for the guest side.
	store.HandleEvent(guestMessage(t, EventStaffMessageCreated, "40", "202", "", "checking in", at.Add(time.Second)))
	conversation, _ = store.Conversation("40")
	if conversation.UnreadForGuest != 1 {
		t.Fatalf("expected 1 unread for guest, got %d", conversation.UnreadForGuest)
	}
}

func TestUnreadSplitByRole(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleStaff})
	store.InitConversations([]Conversation{{ID: "40"}})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "201", "", "hello", at))
	store.HandleEvent(guestMessage(t, EventStaffMessageCreated, "40", "202", "", "hi there", at.Add(time.Second)))

	conversation, _ := store.Conversation("40")
	if conversation.UnreadForStaff != 1 || conversation.UnreadForGuest != 1 {
		t.Fatalf("expected split counters 1/1, got staff=%d guest=%d",
			conversation.UnreadForStaff, conversation.UnreadForGuest)
	}

	// Focusing from the staff perspective only resets the staff counter.
	store.SetActiveConversation("40")
	conversation, _ = store.Conversation("40")
	if conversation.UnreadForStaff != 0 {
		t.Fatalf("expected staff counter reset, got %d", conversation.UnreadForStaff)
	}
	if conversation.UnreadForGuest != 1 {
		t.Fatalf("guest counter must survive staff focus, got %d", conversation.UnreadForGuest)
	}

	// While focused, incoming guest messages stay read for staff.
	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "203", "", "still there?", at.Add(2*time.Second)))
	conversation, _ = store.Conversation("40")
	if conversation.UnreadForStaff != 0 {
		t.Fatalf("active conversation must not accumulate staff unread, got %d", conversation.UnreadForStaff)
	}
}

func TestMergeMessagesPreservesUnconfirmedEntries(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c1", ConversationID: "40", Sender: RoleGuest,
		Body: "confirmed later", ClientMessageID: "c1", CreatedAt: at.Add(2 * time.Second), Status: StatusSending,
	})
	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c2", ConversationID: "40", Sender: RoleGuest,
		Body: "still in flight", ClientMessageID: "c2", CreatedAt: at.Add(3 * time.Second), Status: StatusSending,
	})

	store.MergeMessages("40", []Message{
		{ID: "200", ConversationID: "40", Sender: RoleStaff, Body: "older history", CreatedAt: at},
		{ID: "201", ConversationID: "40", Sender: RoleGuest, Body: "confirmed later", ClientMessageID: "c1", CreatedAt: at.Add(2 * time.Second)},
	})

	messages := store.Messages("40")
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages after merge, got %d", len(messages))
	}
	if messages[0].ID != "200" || messages[1].ID != "201" {
		t.Fatalf("expected server history first, got %s,%s", messages[0].ID, messages[1].ID)
	}
	if messages[2].ID != LocalIDPrefix+"c2" || messages[2].Status != StatusSending {
		t.Fatalf("unconfirmed optimistic entry must survive merge, got %+v", messages[2])
	}
}

func TestDuplicateRealtimeDeliveryUpsertsByID(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleStaff})
	store.InitConversations([]Conversation{{ID: "40"}})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "201", "", "hello", at))
	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "201", "", "hello", at))

	if got := len(store.Messages("40")); got != 1 {
		t.Fatalf("expected 1 message after duplicate, got %d", got)
	}
	conversation, _ := store.Conversation("40")
	if conversation.UnreadForStaff != 1 {
		t.Fatalf("duplicate must not re-increment unread, got %d", conversation.UnreadForStaff)
	}
}

func TestMarkLocalFailedOnlyTouchesOptimisticEntries(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	store.InitMessages("40", []Message{
		{ID: "201", ConversationID: "40", Sender: RoleGuest, Body: "old", ClientMessageID: "c0", CreatedAt: at.Add(-time.Minute)},
	})
	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c1", ConversationID: "40", Sender: RoleGuest,
		Body: "hi", ClientMessageID: "c1", CreatedAt: at, Status: StatusSending,
	})

	store.MarkLocalFailed("40", "c1")
	store.MarkLocalFailed("40", "c0")

	for _, message := range store.Messages("40") {
		switch message.ID {
		case LocalIDPrefix + "c1":
			if message.Status != StatusFailed {
				t.Fatalf("expected optimistic entry failed, got %s", message.Status)
			}
		case "201":
			if message.Status == StatusFailed {
				t.Fatal("server-confirmed message must never flip to failed")
			}
		}
	}
}

func TestRemoveLocalDropsOptimisticEntry(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c1", ConversationID: "40", Sender: RoleGuest,
		Body: "hi", ClientMessageID: "c1", CreatedAt: at, Status: StatusFailed,
	})
	store.RemoveLocal("40", "c1")

	if got := len(store.Messages("40")); got != 0 {
		t.Fatalf("expected empty list after removal, got %d entries", got)
	}
}

func TestInitMessagesDefaultsStatusDelivered(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleStaff})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	store.InitMessages("40", []Message{
		{ID: "201", ConversationID: "40", Sender: RoleGuest, Body: "hello", CreatedAt: at},
	})

	if got := store.Messages("40")[0].Status; got != StatusDelivered {
		t.Fatalf("fetched history is delivered by definition, got %s", got)
	}
}

func TestUnreadCountUpdatedTargetsNamedSide(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleStaff})
	store.InitConversations([]Conversation{{ID: "40", UnreadForStaff: 1}})

	store.HandleEvent(guestEvent(t, EventUnreadCountUpdated, `{"conversation_id": "40", "count": 2}`))
	store.HandleEvent(guestEvent(t, EventUnreadCountUpdated, `{"conversation_id": "40", "count": 4, "for": "guest", "is_total_update": true}`))

	conversation, _ := store.Conversation("40")
	if conversation.UnreadForStaff != 3 {
		t.Fatalf("expected staff delta applied, got %d", conversation.UnreadForStaff)
	}
	if conversation.UnreadForGuest != 4 {
		t.Fatalf("expected guest total applied, got %d", conversation.UnreadForGuest)
	}
}

func TestConversationUpdatedForUnknownIDIsNoOp(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleStaff})
	store.HandleEvent(guestEvent(t, EventConversationUpdated, `{"id": "99", "guest_name": "Ghost"}`))

	if _, ok := store.Conversation("99"); ok {
		t.Fatal("update for unknown conversation must not create state")
	}
}
