package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultKeepAlive = 15 * time.Second

// Source is the subscribe side of a hub.
type Source interface {
	Subscribe(subject string) (*Subscription, []Event)
	Unsubscribe(sub *Subscription)
}

type StreamOptions struct {
	KeepAlive time.Duration
}

// SetStreamHeaders writes the event-stream response headers.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// ServeStream replays the subject's history, then forwards live events until
// a done or generation.error frame is written, the client goes away, or the
// subscription closes.
func ServeStream(ctx context.Context, w io.Writer, flush func(), src Source, subject string, opts StreamOptions) error {
	if flush == nil {
		flush = func() {}
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	sub, history := src.Subscribe(subject)
	defer src.Unsubscribe(sub)

	for _, ev := range history {
		if err := writeFrame(w, ev); err != nil {
			return err
		}
		if ev.Terminal() {
			flush()
			return nil
		}
	}
	flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeFrame(w, ev); err != nil {
				return err
			}
			flush()
			if ev.Terminal() {
				return nil
			}
			ticker.Reset(keepAlive)
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return err
			}
			flush()
		}
	}
}

func writeFrame(w io.Writer, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}
