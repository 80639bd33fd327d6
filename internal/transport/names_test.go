package transport

import (
	"encoding/json"
	"testing"
)

func TestChannelNamingConvention(t *testing.T) {
	cases := []struct {
		name     string
		got      string
		expected string
	}{
		{"hotel wide", HotelChannel("acme-hotel", "attendance"), "acme-hotel.attendance"},
		{"staff conversation", StaffConversationChannel("acme-hotel", "17"), "acme-hotel.staff-chat.17"},
		{"guest conversation", GuestConversationChannel("acme-hotel", "4821"), "hotel-acme-hotel.guest-chat.4821"},
		{"personal", StaffNotificationsChannel("acme-hotel", "7"), "acme-hotel.staff-7-notifications"},
	}
	for _, tc := range cases {
		if tc.got != tc.expected {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.expected, tc.got)
		}
	}
}

func TestMemoryClientDeliversToGlobalAndNamedBindings(t *testing.T) {
	client := NewMemoryClient()
	channel, err := client.Subscribe("acme-hotel.attendance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var namedCalls, globalCalls int
	channel.Bind("clock_status_changed", func(payload json.RawMessage) {
		namedCalls++
	})
	channel.BindGlobal(func(eventName string, payload json.RawMessage) {
		globalCalls++
	})

	client.Publish("acme-hotel.attendance", "clock_status_changed", []byte(`{}`))
	if namedCalls != 1 || globalCalls != 1 {
		t.Fatalf("expected one named and one global delivery, got %d and %d", namedCalls, globalCalls)
	}

	channel.UnbindAll()
	client.Publish("acme-hotel.attendance", "clock_status_changed", []byte(`{}`))
	if namedCalls != 1 || globalCalls != 1 {
		t.Fatalf("expected no delivery after UnbindAll")
	}
}

func TestMemoryClientReconnectSignalsSubscriptionSucceeded(t *testing.T) {
	client := NewMemoryClient()
	channel, err := client.Subscribe("hotel-acme.guest-chat.4821")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var signals int
	channel.Bind(EventSubscriptionSucceeded, func(payload json.RawMessage) {
		signals++
	})

	client.Reconnect()
	client.Reconnect()
	if signals != 2 {
		t.Fatalf("expected 2 subscription-succeeded signals, got %d", signals)
	}
}
