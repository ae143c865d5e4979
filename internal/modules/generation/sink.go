package generation

import (
	"sync"
	"time"

	"github.com/yungbote/storyforge-backend/internal/platform/openai"
)

const streamNotifyEvery = 2 * time.Second

// progressSink counts streamed characters and reports them at most once per
// interval.
type progressSink struct {
	mu        sync.Mutex
	every     time.Duration
	now       func() time.Time
	last      time.Time
	content   int
	reasoning int
	notify    func(content, reasoning int)
}

func newProgressSink(every time.Duration, notify func(content, reasoning int)) *progressSink {
	return &progressSink{every: every, now: time.Now, notify: notify}
}

func (s *progressSink) Sink() openai.StreamSink {
	return func(contentDelta, reasoningDelta string) {
		s.mu.Lock()
		s.content += len([]rune(contentDelta))
		s.reasoning += len([]rune(reasoningDelta))
		now := s.now()
		if !s.last.IsZero() && now.Sub(s.last) < s.every {
			s.mu.Unlock()
			return
		}
		s.last = now
		c, r := s.content, s.reasoning
		s.mu.Unlock()
		s.notify(c, r)
	}
}
