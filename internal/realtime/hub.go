package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/storyforge-backend/internal/observability"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

// Publisher is what the generation pipeline writes to. The local Hub and the
// Redis relay both implement it.
type Publisher interface {
	Reset(ctx context.Context, subject string)
	Publish(ctx context.Context, subject string, ev Event)
}

type HubConfig struct {
	HistoryLimit int
	// TTL is how long a subject's history survives after a terminal event.
	TTL time.Duration
	// Buffer is each subscriber's queue capacity.
	Buffer int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{HistoryLimit: 200, TTL: 10 * time.Minute, Buffer: 256}
}

type Hub struct {
	log *logger.Logger
	cfg HubConfig
	now func() time.Time

	mu       sync.Mutex
	channels map[string]*subjectChannel
}

type subjectChannel struct {
	history    []Event
	subs       map[*Subscription]struct{}
	terminalAt time.Time
}

// Subscription is one reader of a subject's live events.
type Subscription struct {
	subject string
	ch      chan Event
	closed  bool
}

func (s *Subscription) Subject() string      { return s.subject }
func (s *Subscription) Events() <-chan Event { return s.ch }

func NewHub(log *logger.Logger, cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	return &Hub{
		log:      log.With("service", "EventHub"),
		cfg:      cfg,
		now:      time.Now,
		channels: make(map[string]*subjectChannel),
	}
}

func (h *Hub) channelLocked(subject string) *subjectChannel {
	c, ok := h.channels[subject]
	if !ok {
		c = &subjectChannel{subs: make(map[*Subscription]struct{})}
		h.channels[subject] = c
	}
	return c
}

// Reset drops the subject's history. Live subscribers stay attached.
func (h *Hub) Reset(_ context.Context, subject string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[subject]
	if !ok {
		return
	}
	c.history = nil
	c.terminalAt = time.Time{}
	if len(c.subs) == 0 {
		delete(h.channels, subject)
	}
}

func (h *Hub) Publish(_ context.Context, subject string, ev Event) {
	now := h.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	h.mu.Lock()
	c := h.channelLocked(subject)
	c.history = append(c.history, ev)
	if over := len(c.history) - h.cfg.HistoryLimit; over > 0 {
		c.history = append([]Event(nil), c.history[over:]...)
	}
	if ev.Terminal() {
		c.terminalAt = now
	}
	evicted := 0
	for sub := range c.subs {
		select {
		case sub.ch <- ev:
		default:
			// full queue: end the subscription; the reader replays history on reconnect
			sub.closed = true
			close(sub.ch)
			delete(c.subs, sub)
			evicted++
			h.log.Warn("Evicting slow subscriber", "subject", subject, "type", string(ev.Type))
		}
	}
	h.sweepLocked(now)
	h.mu.Unlock()

	observability.Current().IncEvent(string(ev.Type))
	if evicted > 0 {
		observability.Current().AddSubscribers(-evicted)
	}
}

// Subscribe attaches a reader and returns it with a snapshot of the history.
// Both are taken under one lock so no event falls between them.
func (h *Hub) Subscribe(subject string) (*Subscription, []Event) {
	sub := &Subscription{subject: subject, ch: make(chan Event, h.cfg.Buffer)}
	h.mu.Lock()
	c := h.channelLocked(subject)
	c.subs[sub] = struct{}{}
	history := append([]Event(nil), c.history...)
	h.mu.Unlock()
	observability.Current().AddSubscribers(1)
	return sub, history
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if c, ok := h.channels[sub.subject]; ok {
		delete(c.subs, sub)
		if len(c.subs) == 0 && len(c.history) == 0 {
			delete(h.channels, sub.subject)
		}
	}
	observability.Current().AddSubscribers(-1)
}

// History returns a copy of the subject's buffered events.
func (h *Hub) History(subject string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.channels[subject]; ok {
		return append([]Event(nil), c.history...)
	}
	return nil
}

func (h *Hub) sweepLocked(now time.Time) {
	for subject, c := range h.channels {
		if c.terminalAt.IsZero() || now.Sub(c.terminalAt) < h.cfg.TTL {
			continue
		}
		c.history = nil
		c.terminalAt = time.Time{}
		if len(c.subs) == 0 {
			delete(h.channels, subject)
		}
	}
}

// StartJanitor sweeps expired histories on an interval so idle processes
// release memory without waiting for the next publish.
func (h *Hub) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.mu.Lock()
				h.sweepLocked(h.now())
				h.mu.Unlock()
			}
		}
	}()
}
