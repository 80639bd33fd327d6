// Package opsserver exposes the operations HTTP surface: health, per-store
// snapshots, subscription state, the notification feed, and envelope
// injection (the same handleEvent entry the router uses, reachable for debug
// tooling).
package opsserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lodgetech/relay/internal/attendance"
	"github.com/lodgetech/relay/internal/envelope"
	"github.com/lodgetech/relay/internal/guestchat"
	"github.com/lodgetech/relay/internal/notifications"
	"github.com/lodgetech/relay/internal/roombooking"
	"github.com/lodgetech/relay/internal/roomservice"
	"github.com/lodgetech/relay/internal/router"
	"github.com/lodgetech/relay/internal/servicebooking"
	"github.com/lodgetech/relay/internal/staffchat"
	"github.com/lodgetech/relay/internal/subscription"
	"go.uber.org/zap"
)

var (
	errMissingPipeline  = errors.New("opsserver: pipeline dependency required")
	errMissingStores    = errors.New("opsserver: all domain stores required")
	errMissingValidator = errors.New("opsserver: token validator required")
)

// TokenValidator checks operator bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the ops server's collaborators.
type Dependencies struct {
	Pipeline      *router.Pipeline
	StaffChat     *staffchat.Store
	GuestChat     *guestchat.Store
	Attendance    *attendance.Store
	RoomService   *roomservice.Store
	Booking       *servicebooking.Store
	RoomBooking   *roombooking.Store
	Feed          *notifications.Feed
	Subscriptions *subscription.Manager
	Validator     TokenValidator
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin handler for the ops API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Pipeline == nil {
		return nil, errMissingPipeline
	}
	if deps.StaffChat == nil || deps.GuestChat == nil || deps.Attendance == nil ||
		deps.RoomService == nil || deps.Booking == nil || deps.RoomBooking == nil {
		return nil, errMissingStores
	}
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &opsHandler{deps: deps, logger: logger}

	engine.GET("/healthz", handler.handleHealth)

	protected := engine.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/state/:domain", handler.handleState)
	protected.GET("/notifications", handler.handleNotifications)
	protected.GET("/subscriptions", handler.handleSubscriptions)
	protected.POST("/events", handler.handleInjectEvent)
	protected.POST("/push", handler.handleInjectPush)

	return engine, nil
}

type opsHandler struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *opsHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *opsHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	subject, err := h.deps.Validator.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		h.logger.Warn("ops token rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set("ops_subject", subject)
	c.Next()
}

func (h *opsHandler) handleState(c *gin.Context) {
	switch c.Param("domain") {
	case "staff-chat":
		c.JSON(http.StatusOK, h.deps.StaffChat.Snapshot())
	case "guest-chat":
		c.JSON(http.StatusOK, h.deps.GuestChat.Snapshot())
	case "attendance":
		c.JSON(http.StatusOK, h.deps.Attendance.Snapshot())
	case "room-service":
		c.JSON(http.StatusOK, h.deps.RoomService.Snapshot())
	case "bookings":
		c.JSON(http.StatusOK, h.deps.Booking.Snapshot())
	case "room-bookings":
		c.JSON(http.StatusOK, h.deps.RoomBooking.Snapshot())
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_domain"})
	}
}

func (h *opsHandler) handleNotifications(c *gin.Context) {
	if h.deps.Feed == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []notifications.Notification{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, gin.H{"notifications": h.deps.Feed.Recent(limit)})
}

func (h *opsHandler) handleSubscriptions(c *gin.Context) {
	if h.deps.Subscriptions == nil {
		c.JSON(http.StatusOK, subscription.Status{})
		return
	}
	c.JSON(http.StatusOK, h.deps.Subscriptions.Status())
}

type injectEventPayload struct {
	Channel   string          `json:"channel"`
	EventName string          `json:"event_name"`
	Payload   json.RawMessage `json:"payload"`
}

func (h *opsHandler) handleInjectEvent(c *gin.Context) {
	var request injectEventPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.EventName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.deps.Pipeline.HandleDelivery(envelope.ChannelDelivery{
		Channel:   request.Channel,
		EventName: request.EventName,
		Payload:   request.Payload,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *opsHandler) handleInjectPush(c *gin.Context) {
	var request envelope.PushNotification
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.deps.Pipeline.HandlePush(request)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
