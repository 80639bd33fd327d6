package transport

import "fmt"

// Channel naming must reproduce the producer's convention exactly; these
// builders are the only place the formats appear.

// HotelChannel names a hotel-wide domain channel, e.g. "acme-hotel.attendance".
func HotelChannel(tenantSlug, domain string) string {
	return fmt.Sprintf("%s.%s", tenantSlug, domain)
}

// StaffConversationChannel names a staff-chat conversation channel.
func StaffConversationChannel(tenantSlug, conversationID string) string {
	return fmt.Sprintf("%s.staff-chat.%s", tenantSlug, conversationID)
}

// GuestConversationChannel names a guest-chat conversation channel keyed by room pin.
func GuestConversationChannel(tenantSlug, roomPin string) string {
	return fmt.Sprintf("hotel-%s.guest-chat.%s", tenantSlug, roomPin)
}

// StaffNotificationsChannel names the personal channel for one staff member.
func StaffNotificationsChannel(tenantSlug, staffID string) string {
	return fmt.Sprintf("%s.staff-%s-notifications", tenantSlug, staffID)
}
