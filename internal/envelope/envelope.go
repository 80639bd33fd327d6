package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Category identifies the business domain an envelope belongs to. Each
// category is owned by exactly one domain store.
type Category string

const (
	CategoryStaffChat   Category = "staff_chat"
	CategoryGuestChat   Category = "guest_chat"
	CategoryAttendance  Category = "attendance"
	CategoryRoomService Category = "room_service"
	CategoryBooking     Category = "booking"
	CategoryRoomBooking Category = "room_booking"
)

var (
	// ErrInvalidCategory indicates a category value outside the known set.
	ErrInvalidCategory = errors.New("envelope: invalid category")
	// ErrMissingType indicates an envelope without an event type tag.
	ErrMissingType = errors.New("envelope: missing event type")
	// ErrUnknownEventType indicates a push payload whose discriminator maps to no known domain.
	ErrUnknownEventType = errors.New("envelope: unknown event type")
	// ErrControlFrame indicates a transport-internal housekeeping frame that must be discarded silently.
	ErrControlFrame = errors.New("envelope: transport control frame")
	// ErrUnresolvedEntity indicates the payload carries no routable entity identifier.
	ErrUnresolvedEntity = errors.New("envelope: no resolvable entity id")
)

var knownCategories = map[Category]struct{}{
	CategoryStaffChat:   {},
	CategoryGuestChat:   {},
	CategoryAttendance:  {},
	CategoryRoomService: {},
	CategoryBooking:     {},
	CategoryRoomBooking: {},
}

// ParseCategory validates raw input against the closed category set.
func ParseCategory(raw string) (Category, error) {
	category := Category(raw)
	if _, ok := knownCategories[category]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
	return category, nil
}

// ID is an entity identifier that producers serialize inconsistently as
// either a JSON string or a JSON number.
type ID string

// UnmarshalJSON accepts both encodings.
func (id *ID) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*id = ID(asString)
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("envelope: decode id: %w", err)
	}
	*id = ID(asNumber.String())
	return nil
}

// String returns the underlying identifier.
func (id ID) String() string {
	return string(id)
}

// Meta carries transport-level metadata attached to an envelope.
type Meta struct {
	EventID    string
	Channel    string
	Source     string
	OccurredAt time.Time
	Scope      map[string]string
}

// Envelope is the canonical, transport-agnostic event record. EntityID is
// resolved at the transport boundary; an envelope without one never exists
// past normalization.
type Envelope struct {
	Category    Category
	Type        string
	EntityID    string
	SecondaryID string
	Payload     json.RawMessage
	Meta        Meta
}
