package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	controlPrefix         = "pusher:"
	controlInternalPrefix = "pusher_internal:"
)

// IsControlEvent reports whether an event name belongs to the transport's
// reserved housekeeping namespace.
func IsControlEvent(eventName string) bool {
	return strings.HasPrefix(eventName, controlPrefix) || strings.HasPrefix(eventName, controlInternalPrefix)
}

// PushNotification is the raw mobile-push payload shape consumed from the
// push provider: a flat string map discriminated by data.type.
type PushNotification struct {
	Data         map[string]string `json:"data"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
}

// ChannelDelivery is the raw pub/sub delivery triple handed over by the
// websocket transport.
type ChannelDelivery struct {
	Channel   string
	EventName string
	Payload   json.RawMessage
}

// pushRoute maps a push data.type discriminator onto a canonical domain and type.
type pushRoute struct {
	category Category
	typ      string
}

var pushRoutes = map[string]pushRoute{
	"staff_chat_message":        {CategoryStaffChat, "message_created"},
	"guest_chat_message":        {CategoryGuestChat, "guest_message_created"},
	"attendance_update":         {CategoryAttendance, "clock_status_changed"},
	"room_service_order":        {CategoryRoomService, "order_created"},
	"room_service_order_update": {CategoryRoomService, "order_status_changed"},
	"booking_created":           {CategoryBooking, "service_booking_created"},
	"booking_updated":           {CategoryBooking, "service_booking_updated"},
	"room_booking_created":      {CategoryRoomBooking, "room_booking_created"},
	"room_booking_updated":      {CategoryRoomBooking, "room_booking_updated"},
}

// entityIDKeys lists, in priority order, the payload fields that can serve as
// the routable entity identifier for each domain.
var entityIDKeys = map[Category][]string{
	CategoryStaffChat:   {"conversation_id"},
	CategoryGuestChat:   {"conversation_id"},
	CategoryAttendance:  {"staff_id"},
	CategoryRoomService: {"order_id", "id"},
	CategoryBooking:     {"booking_id", "id"},
	CategoryRoomBooking: {"booking_id", "id"},
}

// secondaryIDKeys lists payload fields usable as a per-event secondary
// identifier (message id, order line id) for dedup key derivation.
var secondaryIDKeys = map[Category][]string{
	CategoryStaffChat:   {"message_id", "id"},
	CategoryGuestChat:   {"message_id", "id"},
	CategoryRoomService: {"id"},
	CategoryBooking:     {"id"},
	CategoryRoomBooking: {"id"},
}

// scopeKeys lists meta.scope fields consulted when the payload itself carries
// no top-level identifier.
var scopeKeys = []string{"conversation_id", "booking_id", "order_id", "staff_id"}

// Normalizer converts the two raw transport shapes into canonical envelopes.
// It is the single parse-or-reject point: everything downstream receives only
// fully resolved envelopes.
type Normalizer struct {
	logger *zap.Logger
	clock  func() time.Time
}

// NormalizerConfig describes Normalizer dependencies.
type NormalizerConfig struct {
	Logger *zap.Logger
	Clock  func() time.Time
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Normalizer{logger: logger, clock: clock}
}

// FromPush normalizes a mobile push payload. Unknown data.type values return
// ErrUnknownEventType so the caller can drop them without raising.
func (n *Normalizer) FromPush(raw PushNotification) (Envelope, error) {
	discriminator := strings.TrimSpace(raw.Data["type"])
	if discriminator == "" {
		return Envelope{}, ErrMissingType
	}
	route, ok := pushRoutes[discriminator]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEventType, discriminator)
	}

	payloadFields := make(map[string]string, len(raw.Data))
	for key, value := range raw.Data {
		if key == "type" {
			continue
		}
		payloadFields[key] = value
	}
	payload, err := json.Marshal(payloadFields)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: encode push payload: %w", err)
	}

	env := Envelope{
		Category: route.category,
		Type:     route.typ,
		Payload:  payload,
		Meta: Meta{
			EventID:    raw.Data["event_id"],
			Source:     "push",
			OccurredAt: n.occurredAt(raw.Data["ts"]),
		},
	}
	return n.resolveIdentifiers(env)
}

// wireEnvelope is the over-the-wire shape a pub/sub payload takes when the
// producer already wraps it in an envelope.
type wireEnvelope struct {
	Category string          `json:"category"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Meta     struct {
		EventID string            `json:"event_id"`
		Ts      string            `json:"ts"`
		Scope   map[string]string `json:"scope"`
	} `json:"meta"`
}

// FromChannel normalizes a pub/sub delivery. Control frames are rejected with
// ErrControlFrame so the caller can discard them without logging.
func (n *Normalizer) FromChannel(delivery ChannelDelivery) (Envelope, error) {
	if IsControlEvent(delivery.EventName) {
		return Envelope{}, ErrControlFrame
	}

	var wire wireEnvelope
	if len(delivery.Payload) > 0 {
		if err := json.Unmarshal(delivery.Payload, &wire); err != nil {
			return Envelope{}, fmt.Errorf("envelope: decode channel payload: %w", err)
		}
	}

	if wire.Category != "" && wire.Type != "" && len(wire.Payload) > 0 {
		return n.fromWrappedPayload(delivery, wire)
	}
	return n.fromBarePayload(delivery)
}

func (n *Normalizer) fromWrappedPayload(delivery ChannelDelivery, wire wireEnvelope) (Envelope, error) {
	category, err := ParseCategory(wire.Category)
	if err != nil {
		return Envelope{}, err
	}

	effectiveType := wire.Type
	// Staff-chat producers publish under richer transport event names than the
	// payload's own type tag, and the transport name is the fresher surface.
	if category == CategoryStaffChat && delivery.EventName != "" && len(delivery.EventName) > len(wire.Type) {
		effectiveType = delivery.EventName
	}

	env := Envelope{
		Category: category,
		Type:     effectiveType,
		Payload:  wire.Payload,
		Meta: Meta{
			EventID:    wire.Meta.EventID,
			Channel:    delivery.Channel,
			Source:     "channel",
			OccurredAt: n.occurredAt(wire.Meta.Ts),
			Scope:      wire.Meta.Scope,
		},
	}
	return n.resolveIdentifiers(env)
}

func (n *Normalizer) fromBarePayload(delivery ChannelDelivery) (Envelope, error) {
	domain, ok := categoryFromChannel(delivery.Channel)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: channel %q", ErrUnknownEventType, delivery.Channel)
	}
	if strings.TrimSpace(delivery.EventName) == "" {
		return Envelope{}, ErrMissingType
	}

	env := Envelope{
		Category: domain,
		Type:     delivery.EventName,
		Payload:  delivery.Payload,
		Meta: Meta{
			Channel:    delivery.Channel,
			Source:     "channel",
			OccurredAt: n.clock().UTC(),
		},
	}
	return n.resolveIdentifiers(env)
}

// resolveIdentifiers extracts the routable entity id (and secondary id when
// present). A partial envelope corrupts per-entity indices, so failure to
// resolve drops the whole event.
func (n *Normalizer) resolveIdentifiers(env Envelope) (Envelope, error) {
	fields := map[string]json.RawMessage{}
	if len(env.Payload) > 0 {
		// Best effort: non-object payloads simply resolve nothing.
		_ = json.Unmarshal(env.Payload, &fields)
	}

	for _, key := range entityIDKeys[env.Category] {
		if value := scalarField(fields, key); value != "" {
			env.EntityID = value
			break
		}
	}
	if env.EntityID == "" {
		for _, key := range scopeKeys {
			if value := env.Meta.Scope[key]; value != "" {
				env.EntityID = value
				break
			}
		}
	}
	if env.EntityID == "" {
		return Envelope{}, fmt.Errorf("%w: category=%s type=%s", ErrUnresolvedEntity, env.Category, env.Type)
	}

	for _, key := range secondaryIDKeys[env.Category] {
		if value := scalarField(fields, key); value != "" && value != env.EntityID {
			env.SecondaryID = value
			break
		}
	}
	return env, nil
}

// scalarField reads a string or number payload field as a string.
func scalarField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

// channelDomains maps the domain segment of a channel name onto a category.
var channelDomains = map[string]Category{
	"staff-chat":    CategoryStaffChat,
	"guest-chat":    CategoryGuestChat,
	"attendance":    CategoryAttendance,
	"room-service":  CategoryRoomService,
	"bookings":      CategoryBooking,
	"room-bookings": CategoryRoomBooking,
}

// categoryFromChannel derives the domain from a logical channel name such as
// "acme-hotel.attendance" or "hotel-acme.guest-chat.4821".
func categoryFromChannel(name string) (Category, bool) {
	segments := strings.Split(name, ".")
	if len(segments) < 2 {
		return "", false
	}
	category, ok := channelDomains[segments[1]]
	return category, ok
}

func (n *Normalizer) occurredAt(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.UTC()
		}
	}
	return n.clock().UTC()
}
