package guestchat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"
)

type postCall struct {
	path string
	body map[string]string
}

type getCall struct {
	path   string
	params url.Values
}

// fakeREST scripts responses for the message endpoints.
type fakeREST struct {
	mu       sync.Mutex
	posts    []postCall
	gets     []getCall
	postErr  error
	getErr   error
	messages []Message
}

func (f *fakeREST) Get(ctx context.Context, path string, params url.Values, out any) error {
	f.mu.Lock()
	f.gets = append(f.gets, getCall{path: path, params: params})
	f.mu.Unlock()
	if f.getErr != nil {
		return f.getErr
	}
	if response, ok := out.(*messagesResponse); ok {
		response.Messages = append([]Message{}, f.messages...)
	}
	return nil
}

func (f *fakeREST) Post(ctx context.Context, path string, body any, out any) error {
	call := postCall{path: path}
	if request, ok := body.(map[string]string); ok {
		call.body = request
	}
	f.mu.Lock()
	f.posts = append(f.posts, call)
	f.mu.Unlock()
	return f.postErr
}

func (f *fakeREST) Patch(ctx context.Context, path string, body any, out any) error {
	return nil
}

// sequenceIDs hands out c1, c2, ... deterministically.
type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("c%d", s.next), nil
}

type fakeSubscriber struct {
	tenantSlug   string
	roomPin      string
	onSubscribed func()
	cleanups     int
}

func (f *fakeSubscriber) SubscribeGuestConversation(tenantSlug, roomPin string, onSubscribed func()) func() {
	f.tenantSlug = tenantSlug
	f.roomPin = roomPin
	f.onSubscribed = onSubscribed
	return func() { f.cleanups++ }
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestClient(t *testing.T, store *Store, backend *fakeREST) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Store:          store,
		REST:           backend,
		IDs:            &sequenceIDs{},
		Clock:          fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		ConversationID: "40",
		SenderRole:     RoleGuest,
		PageSize:       25,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestSendAppendsOptimisticEntryAndPosts(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	backend := &fakeREST{}
	client := newTestClient(t, store, backend)

	correlationID, err := client.Send(context.Background(), "towels please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if correlationID != "c1" {
		t.Fatalf("expected correlation id c1, got %s", correlationID)
	}

	if len(backend.posts) != 1 {
		t.Fatalf("expected one POST, got %d", len(backend.posts))
	}
	post := backend.posts[0]
	if post.path != "/guest-chat/conversations/40/messages" {
		t.Fatalf("unexpected path %s", post.path)
	}
	if post.body["body"] != "towels please" || post.body["client_message_id"] != "c1" {
		t.Fatalf("unexpected request body %v", post.body)
	}

	// The optimistic entry stays in sending until the realtime confirmation;
	// the attempt buffer is already clear because the REST call succeeded.
	messages := store.Messages("40")
	if len(messages) != 1 || messages[0].ID != LocalIDPrefix+"c1" || messages[0].Status != StatusSending {
		t.Fatalf("expected optimistic sending entry, got %+v", messages)
	}
	if got := len(client.SendingMessages()); got != 0 {
		t.Fatalf("successful REST call must clear the attempt buffer, got %d", got)
	}
}

func TestSendRejectsEmptyBody(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	client := newTestClient(t, store, &fakeREST{})

	if _, err := client.Send(context.Background(), ""); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestFailedSendMarksFailedAndRetryReusesCorrelationID(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	backend := &fakeREST{postErr: errors.New("rest: status 502")}
	client := newTestClient(t, store, backend)

	correlationID, err := client.Send(context.Background(), "towels please")
	if err == nil {
		t.Fatal("expected send error")
	}

	messages := store.Messages("40")
	if len(messages) != 1 || messages[0].Status != StatusFailed {
		t.Fatalf("expected failed optimistic entry, got %+v", messages)
	}
	attempts := client.SendingMessages()
	if len(attempts) != 1 || attempts[0].Status != StatusFailed {
		t.Fatalf("expected one failed attempt, got %+v", attempts)
	}

	backend.postErr = nil
	if err := client.Retry(context.Background(), correlationID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	if len(backend.posts) != 2 {
		t.Fatalf("expected 2 POSTs, got %d", len(backend.posts))
	}
	if got := backend.posts[1].body["client_message_id"]; got != correlationID {
		t.Fatalf("retry must reuse the correlation id, got %s", got)
	}
	messages = store.Messages("40")
	if len(messages) != 1 || messages[0].Status != StatusSending {
		t.Fatalf("expected a fresh sending entry after retry, got %+v", messages)
	}
}

func TestRetryRequiresFailedAttempt(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	client := newTestClient(t, store, &fakeREST{})

	if err := client.Retry(context.Background(), "never-sent"); !errors.Is(err, ErrUnknownAttempt) {
		t.Fatalf("expected ErrUnknownAttempt, got %v", err)
	}

	// A delivered (already cleared) attempt cannot re-enter sending either.
	correlationID, _ := client.Send(context.Background(), "hello")
	if err := client.Retry(context.Background(), correlationID); !errors.Is(err, ErrUnknownAttempt) {
		t.Fatalf("expected ErrUnknownAttempt for cleared attempt, got %v", err)
	}
}

func TestRealtimeConfirmationClearsAttemptBuffer(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	backend := &fakeREST{postErr: errors.New("rest: timeout")}
	client := newTestClient(t, store, backend)
	defer client.Start()()

	correlationID, _ := client.Send(context.Background(), "towels please")
	if got := len(client.SendingMessages()); got != 1 {
		t.Fatalf("expected buffered attempt, got %d", got)
	}

	// The push can beat (or replace) the REST response; confirmation by
	// correlation id settles the attempt either way.
	at := time.Date(2026, 3, 10, 9, 0, 1, 0, time.UTC)
	store.HandleEvent(guestMessage(t, EventGuestMessageCreated, "40", "201", correlationID, "towels please", at))

	if got := len(client.SendingMessages()); got != 0 {
		t.Fatalf("confirmation must clear the attempt buffer, got %d", got)
	}
	messages := store.Messages("40")
	if len(messages) != 1 || messages[0].ID != "201" {
		t.Fatalf("expected confirmed message only, got %+v", messages)
	}
}

func TestLoadOlderUsesOldestConfirmedCursor(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store.InitMessages("40", []Message{
		{ID: "210", ConversationID: "40", Sender: RoleStaff, Body: "newer", CreatedAt: at.Add(time.Minute)},
		{ID: "205", ConversationID: "40", Sender: RoleGuest, Body: "older", CreatedAt: at},
	})
	backend := &fakeREST{messages: []Message{
		{ID: "199", ConversationID: "40", Sender: RoleStaff, Body: "history", CreatedAt: at.Add(-time.Hour)},
	}}
	client := newTestClient(t, store, backend)

	fetched, err := client.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched != 1 {
		t.Fatalf("expected 1 fetched message, got %d", fetched)
	}

	if len(backend.gets) != 1 {
		t.Fatalf("expected one GET, got %d", len(backend.gets))
	}
	params := backend.gets[0].params
	if params.Get("before") != "205" {
		t.Fatalf("expected cursor before=205, got %s", params.Get("before"))
	}
	if params.Get("limit") != "25" {
		t.Fatalf("expected limit=25, got %s", params.Get("limit"))
	}

	messages := store.Messages("40")
	if len(messages) != 3 || messages[0].ID != "199" {
		t.Fatalf("expected history prepended, got %+v", messages)
	}
}

func TestLoadOlderRejectsLocalCursor(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	store.AppendLocal(Message{
		ID: LocalIDPrefix + "c1", ConversationID: "40", Sender: RoleGuest,
		Body: "unconfirmed", ClientMessageID: "c1", CreatedAt: at, Status: StatusSending,
	})
	client := newTestClient(t, store, &fakeREST{})

	if _, err := client.LoadOlder(context.Background()); !errors.Is(err, ErrUnconfirmedCursor) {
		t.Fatalf("expected ErrUnconfirmedCursor, got %v", err)
	}
}

func TestLoadOlderOnEmptyListFallsBackToResync(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	backend := &fakeREST{messages: []Message{
		{ID: "201", ConversationID: "40", Sender: RoleStaff, Body: "hello", CreatedAt: at},
	}}
	client := newTestClient(t, store, backend)

	if _, err := client.LoadOlder(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.gets) != 1 || backend.gets[0].params.Get("before") != "" {
		t.Fatalf("expected cursorless fetch, got %+v", backend.gets)
	}
	if got := len(store.Messages("40")); got != 1 {
		t.Fatalf("expected merged page, got %d messages", got)
	}
}

func TestResyncOnSubscriptionSucceeded(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	backend := &fakeREST{messages: []Message{
		{ID: "201", ConversationID: "40", Sender: RoleStaff, Body: "missed while offline", CreatedAt: at},
	}}
	subscriber := &fakeSubscriber{}

	client, err := NewClient(ClientConfig{
		Store:          store,
		REST:           backend,
		IDs:            &sequenceIDs{},
		ConversationID: "40",
		TenantSlug:     "acme-hotel",
		RoomPin:        "4821",
		Subscriptions:  subscriber,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cleanup := client.Start()

	if subscriber.tenantSlug != "acme-hotel" || subscriber.roomPin != "4821" {
		t.Fatalf("unexpected subscription target %s/%s", subscriber.tenantSlug, subscriber.roomPin)
	}
	if subscriber.onSubscribed == nil {
		t.Fatal("expected onSubscribed wiring")
	}

	// Drive the reconnect signal and give the resync goroutine time to land.
	subscriber.onSubscribed()
	deadline := time.Now().Add(2 * time.Second)
	for len(store.Messages("40")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for resync merge")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cleanup()
	if subscriber.cleanups != 1 {
		t.Fatalf("expected channel cleanup on close, got %d", subscriber.cleanups)
	}
}

func TestClosedClientRejectsSends(t *testing.T) {
	store := NewStore(StoreConfig{Perspective: RoleGuest})
	client := newTestClient(t, store, &fakeREST{})

	client.Start()
	client.Close()
	client.Close()

	if _, err := client.Send(context.Background(), "too late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := len(store.Messages("40")); got != 0 {
		t.Fatalf("closed client must not append optimistic entries, got %d", got)
	}
}
