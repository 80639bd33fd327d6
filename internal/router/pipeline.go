package router

import (
	"errors"

	"github.com/lodgetech/relay/internal/envelope"
	"go.uber.org/zap"
)

// Pipeline is the transport-facing entry point: raw delivery in, normalized
// envelope routed out. It never raises across the boundary; bad events are
// dropped according to the error taxonomy and the pipeline stays alive.
type Pipeline struct {
	normalizer *envelope.Normalizer
	router     *Router
	logger     *zap.Logger
}

// PipelineConfig describes Pipeline dependencies.
type PipelineConfig struct {
	Normalizer *envelope.Normalizer
	Router     *Router
	Logger     *zap.Logger
}

var (
	errMissingNormalizer = errors.New("router: normalizer required")
	errMissingRouter     = errors.New("router: router required")
)

// NewPipeline constructs a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Normalizer == nil {
		return nil, errMissingNormalizer
	}
	if cfg.Router == nil {
		return nil, errMissingRouter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		normalizer: cfg.Normalizer,
		router:     cfg.Router,
		logger:     logger,
	}, nil
}

// HandleDelivery processes one pub/sub delivery.
func (p *Pipeline) HandleDelivery(delivery envelope.ChannelDelivery) {
	env, err := p.normalizer.FromChannel(delivery)
	if err != nil {
		p.dropped(err, delivery.Channel, delivery.EventName)
		return
	}
	p.router.Route(env)
}

// HandlePush processes one mobile push payload.
func (p *Pipeline) HandlePush(push envelope.PushNotification) {
	env, err := p.normalizer.FromPush(push)
	if err != nil {
		p.dropped(err, "push", push.Data["type"])
		return
	}
	p.router.Route(env)
}

// dropped applies the error taxonomy: control frames vanish silently, unknown
// types are forward-compatible no-ops, everything else warns.
func (p *Pipeline) dropped(err error, source, name string) {
	switch {
	case errors.Is(err, envelope.ErrControlFrame):
	case errors.Is(err, envelope.ErrUnknownEventType):
		p.logger.Debug("unknown event type ignored",
			zap.String("source", source),
			zap.String("event", name))
	default:
		p.logger.Warn("envelope dropped",
			zap.String("source", source),
			zap.String("event", name),
			zap.Error(err))
	}
}
