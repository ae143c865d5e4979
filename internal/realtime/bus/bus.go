package bus

import (
	"context"

	"github.com/yungbote/storyforge-backend/internal/realtime"
)

type Op string

const (
	OpReset   Op = "reset"
	OpPublish Op = "publish"
)

// Envelope is what travels between instances: a hub operation on one subject.
type Envelope struct {
	Op      Op              `json:"op"`
	Subject string          `json:"subject"`
	Event   *realtime.Event `json:"event,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	StartForwarder(ctx context.Context, onMsg func(env Envelope)) error
	Close() error
}
