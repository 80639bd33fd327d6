package dedup

import (
	"fmt"
	"testing"

	"github.com/lodgetech/relay/internal/envelope"
)

func TestLedgerSuppressesRepeatedKeys(t *testing.T) {
	ledger := NewLedger(10)

	if !ledger.ShouldProcess("ev-1") {
		t.Fatalf("first occurrence must be processed")
	}
	if ledger.ShouldProcess("ev-1") {
		t.Fatalf("second occurrence must be suppressed")
	}
	if !ledger.ShouldProcess("ev-2") {
		t.Fatalf("distinct key must be processed")
	}
}

func TestLedgerAlwaysProcessesEmptyKey(t *testing.T) {
	ledger := NewLedger(10)

	for i := 0; i < 3; i++ {
		if !ledger.ShouldProcess("") {
			t.Fatalf("empty key must never be suppressed")
		}
	}
	if ledger.Len() != 0 {
		t.Fatalf("empty key must not be recorded, ledger has %d entries", ledger.Len())
	}
}

func TestLedgerEvictsOldestAtCapacity(t *testing.T) {
	ledger := NewLedger(3)

	for i := 0; i < 3; i++ {
		ledger.ShouldProcess(fmt.Sprintf("ev-%d", i))
	}
	// ev-3 evicts ev-0.
	ledger.ShouldProcess("ev-3")

	if ledger.Len() != 3 {
		t.Fatalf("expected ledger to stay at capacity 3, got %d", ledger.Len())
	}
	if !ledger.ShouldProcess("ev-0") {
		t.Fatalf("evicted key must be processable again")
	}
	if ledger.ShouldProcess("ev-2") {
		t.Fatalf("retained key must stay suppressed")
	}
}

func TestKeyPrefersExplicitEventID(t *testing.T) {
	env := envelope.Envelope{
		Category:    envelope.CategoryGuestChat,
		Type:        "guest_message_created",
		EntityID:    "9",
		SecondaryID: "55",
		Meta:        envelope.Meta{EventID: "ev1"},
	}
	if key := Key(env); key != "id:ev1" {
		t.Fatalf("expected explicit id key, got %q", key)
	}
}

func TestKeyFallsBackToCompositeWithSecondaryID(t *testing.T) {
	env := envelope.Envelope{
		Category:    envelope.CategoryGuestChat,
		Type:        "guest_message_created",
		EntityID:    "9",
		SecondaryID: "55",
	}
	if key := Key(env); key != "guest_chat:guest_message_created:9:55" {
		t.Fatalf("unexpected composite key %q", key)
	}
}

func TestKeyIsEmptyWithoutAnyStrongIdentifier(t *testing.T) {
	env := envelope.Envelope{
		Category: envelope.CategoryAttendance,
		Type:     "clock_status_changed",
		EntityID: "42",
	}
	if key := Key(env); key != "" {
		t.Fatalf("expected empty key without event or secondary id, got %q", key)
	}
}
