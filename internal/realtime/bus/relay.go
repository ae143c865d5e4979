package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/realtime"
)

// Relay publishes through the bus so every instance's hub sees the same
// events. The local hub is fed only by the forwarder, except when the bus is
// down, in which case operations are applied locally.
type Relay struct {
	log     *logger.Logger
	bus     Bus
	local   *realtime.Hub
	started atomic.Bool
}

var _ realtime.Publisher = (*Relay)(nil)

func NewRelay(log *logger.Logger, b Bus, local *realtime.Hub) *Relay {
	return &Relay{log: log.With("service", "EventRelay"), bus: b, local: local}
}

// Start subscribes to the bus and applies every envelope to the local hub.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.bus.StartForwarder(ctx, r.apply); err != nil {
		return err
	}
	r.started.Store(true)
	go func() {
		<-ctx.Done()
		r.started.Store(false)
	}()
	return nil
}

func (r *Relay) apply(env Envelope) {
	ctx := context.Background()
	switch env.Op {
	case OpReset:
		r.local.Reset(ctx, env.Subject)
	case OpPublish:
		if env.Event == nil {
			return
		}
		r.local.Publish(ctx, env.Subject, *env.Event)
	default:
		r.log.Warn("unknown event envelope op", "op", string(env.Op))
	}
}

func (r *Relay) Reset(ctx context.Context, subject string) {
	r.send(ctx, Envelope{Op: OpReset, Subject: subject})
}

func (r *Relay) Publish(ctx context.Context, subject string, ev realtime.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	r.send(ctx, Envelope{Op: OpPublish, Subject: subject, Event: &ev})
}

func (r *Relay) send(ctx context.Context, env Envelope) {
	if !r.started.Load() {
		r.apply(env)
		return
	}
	if err := r.bus.Publish(context.WithoutCancel(ctx), env); err != nil {
		r.log.Warn("event bus publish failed; applying locally", "op", string(env.Op), "subject", env.Subject, "error", err)
		r.apply(env)
	}
}
