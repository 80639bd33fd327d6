// Package bootstrap hydrates the domain stores from the REST backend at
// startup. Stores always start empty; hydration is best-effort per domain so
// one failing endpoint does not hold the realtime pipeline hostage.
package bootstrap

import (
	"context"
	"errors"

	"github.com/lodgetech/relay/internal/attendance"
	"github.com/lodgetech/relay/internal/guestchat"
	"github.com/lodgetech/relay/internal/rest"
	"github.com/lodgetech/relay/internal/roombooking"
	"github.com/lodgetech/relay/internal/roomservice"
	"github.com/lodgetech/relay/internal/servicebooking"
	"github.com/lodgetech/relay/internal/staffchat"
	"go.uber.org/zap"
)

var errMissingREST = errors.New("bootstrap: rest client required")

// Stores groups the bulk-init targets. Nil entries are skipped.
type Stores struct {
	StaffChat   *staffchat.Store
	GuestChat   *guestchat.Store
	Attendance  *attendance.Store
	RoomService *roomservice.Store
	Booking     *servicebooking.Store
	RoomBooking *roombooking.Store
}

// LoaderConfig describes Loader dependencies.
type LoaderConfig struct {
	REST   rest.Client
	Logger *zap.Logger
}

// Loader fetches the initial state for each domain.
type Loader struct {
	restClient rest.Client
	logger     *zap.Logger
}

// NewLoader constructs a Loader.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.REST == nil {
		return nil, errMissingREST
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{restClient: cfg.REST, logger: logger}, nil
}

// Load hydrates every non-nil store. Each domain fetch failure is logged and
// skipped; the affected store simply starts empty and catches up from events.
func (l *Loader) Load(ctx context.Context, stores Stores) {
	if stores.StaffChat != nil {
		var response struct {
			Conversations []staffchat.Conversation `json:"conversations"`
		}
		if err := l.restClient.Get(ctx, "/staff-chat/conversations", nil, &response); err != nil {
			l.logger.Warn("staff chat hydration failed", zap.Error(err))
		} else {
			stores.StaffChat.InitConversations(response.Conversations)
		}
	}
	if stores.GuestChat != nil {
		var response struct {
			Conversations []guestchat.Conversation `json:"conversations"`
		}
		if err := l.restClient.Get(ctx, "/guest-chat/conversations", nil, &response); err != nil {
			l.logger.Warn("guest chat hydration failed", zap.Error(err))
		} else {
			stores.GuestChat.InitConversations(response.Conversations)
		}
	}
	if stores.Attendance != nil {
		var response struct {
			Staff []attendance.StaffStatus `json:"staff"`
		}
		if err := l.restClient.Get(ctx, "/attendance/staff", nil, &response); err != nil {
			l.logger.Warn("attendance hydration failed", zap.Error(err))
		} else {
			stores.Attendance.InitStaff(response.Staff)
		}
	}
	if stores.RoomService != nil {
		var response struct {
			Orders []roomservice.Order `json:"orders"`
		}
		if err := l.restClient.Get(ctx, "/room-service/orders", nil, &response); err != nil {
			l.logger.Warn("room service hydration failed", zap.Error(err))
		} else {
			stores.RoomService.InitOrders(response.Orders)
		}
	}
	if stores.Booking != nil {
		var response struct {
			Bookings []servicebooking.Booking `json:"bookings"`
		}
		if err := l.restClient.Get(ctx, "/bookings", nil, &response); err != nil {
			l.logger.Warn("service booking hydration failed", zap.Error(err))
		} else {
			stores.Booking.InitBookings(response.Bookings)
		}
	}
	if stores.RoomBooking != nil {
		var response struct {
			Bookings []roombooking.Booking `json:"bookings"`
		}
		if err := l.restClient.Get(ctx, "/room-bookings", nil, &response); err != nil {
			l.logger.Warn("room booking hydration failed", zap.Error(err))
		} else {
			stores.RoomBooking.InitBookings(response.Bookings)
		}
	}
}
