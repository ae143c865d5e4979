package realtime

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestHubFanOutPreservesOrder(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{})
	subject := uuid.NewString()
	ctx := context.Background()

	sub, history := hub.Subscribe(subject)
	defer hub.Unsubscribe(sub)
	if len(history) != 0 {
		t.Fatalf("fresh subject history: want=0 got=%d", len(history))
	}

	hub.Publish(ctx, subject, AssistantMessage("starting"))
	hub.Publish(ctx, subject, Step("summary", "started", nil))

	first := recvEvent(t, sub.Events(), time.Second)
	second := recvEvent(t, sub.Events(), time.Second)
	if first.Type != EventAssistantMessage || second.Type != EventStep {
		t.Fatalf("order: got %s then %s", first.Type, second.Type)
	}
	if first.Timestamp.IsZero() {
		t.Fatalf("publish should stamp timestamp")
	}
}

func TestHubLateSubscriberGetsHistory(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{})
	subject := uuid.NewString()
	ctx := context.Background()

	hub.Publish(ctx, subject, AssistantMessage("a"))
	hub.Publish(ctx, subject, Step("summary", "started", nil))
	hub.Publish(ctx, subject, Done("pkg-1"))

	sub, history := hub.Subscribe(subject)
	defer hub.Unsubscribe(sub)
	if len(history) != 3 {
		t.Fatalf("history len: want=3 got=%d", len(history))
	}
	if history[2].Type != EventDone || history[2].Payload["package_id"] != "pkg-1" {
		t.Fatalf("last replayed event: %+v", history[2])
	}
}

func TestHubHistoryCapKeepsNewest(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{HistoryLimit: 200})
	subject := uuid.NewString()
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		hub.Publish(ctx, subject, Step("summary", "streaming", map[string]any{"seq": i}))
	}
	history := hub.History(subject)
	if len(history) != 200 {
		t.Fatalf("history len: want=200 got=%d", len(history))
	}
	if got := history[0].Payload["seq"]; got != 50 {
		t.Fatalf("oldest kept seq: want=50 got=%v", got)
	}
	if got := history[199].Payload["seq"]; got != 249 {
		t.Fatalf("newest seq: want=249 got=%v", got)
	}
}

func TestHubResetClearsHistoryKeepsSubscribers(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{})
	subject := uuid.NewString()
	ctx := context.Background()

	hub.Publish(ctx, subject, GenerationError("summary", "Generation failed"))
	sub, _ := hub.Subscribe(subject)
	defer hub.Unsubscribe(sub)

	hub.Reset(ctx, subject)
	if n := len(hub.History(subject)); n != 0 {
		t.Fatalf("history after reset: want=0 got=%d", n)
	}
	hub.Publish(ctx, subject, AssistantMessage("again"))
	if ev := recvEvent(t, sub.Events(), time.Second); ev.Type != EventAssistantMessage {
		t.Fatalf("subscriber after reset got %s", ev.Type)
	}
}

func TestHubExpiresHistoryAfterTerminal(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{TTL: 10 * time.Minute})
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	hub.now = func() time.Time { return now }
	ctx := context.Background()

	hub.Publish(ctx, "finished", Done("pkg"))
	hub.Publish(ctx, "running", Step("scenes", "started", nil))

	now = base.Add(9 * time.Minute)
	hub.Publish(ctx, "other", AssistantMessage("tick"))
	if n := len(hub.History("finished")); n != 1 {
		t.Fatalf("history before ttl: want=1 got=%d", n)
	}

	now = base.Add(11 * time.Minute)
	hub.Publish(ctx, "other", AssistantMessage("tick"))
	if n := len(hub.History("finished")); n != 0 {
		t.Fatalf("history after ttl: want=0 got=%d", n)
	}
	if n := len(hub.History("running")); n != 1 {
		t.Fatalf("non-terminal history should survive: got=%d", n)
	}
}

func TestHubUnsubscribeClosesChannelOnce(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{})
	sub, _ := hub.Subscribe("s")
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("channel should be closed")
	}
	hub.Publish(context.Background(), "s", AssistantMessage("after close"))
}

func TestHubEvictsFullSubscriberAndKeepsTerminalInHistory(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{Buffer: 2})
	ctx := context.Background()
	subject := uuid.NewString()

	sub, _ := hub.Subscribe(subject)
	for _, step := range []string{"summary", "art_style", "package_name"} {
		hub.Publish(ctx, subject, Step(step, "started", nil))
	}
	hub.Publish(ctx, subject, Done("pkg-1"))

	delivered := 0
	for range sub.Events() {
		delivered++
	}
	if delivered != 2 {
		t.Fatalf("delivered before eviction: want=2 got=%d", delivered)
	}
	hub.Unsubscribe(sub)

	again, history := hub.Subscribe(subject)
	defer hub.Unsubscribe(again)
	if len(history) != 4 {
		t.Fatalf("replay after eviction: want=4 got=%d", len(history))
	}
	if !history[3].Terminal() {
		t.Fatalf("last replayed event is not terminal: %+v", history[3])
	}
}

func TestEventJSONFlattensPayload(t *testing.T) {
	ev := Step("art_style", "started", map[string]any{"progress": 40})
	ev.TraceID = "trace-1"
	raw, err := ev.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"type":"generation.step"`, `"step":"art_style"`, `"status":"started"`, `"trace_id":"trace-1"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("encoded event missing %s: %s", want, s)
		}
	}
	var back Event
	if err := back.UnmarshalJSON(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != EventStep || back.Payload["step"] != "art_style" || back.TraceID != "trace-1" {
		t.Fatalf("decoded event: %+v", back)
	}
	if _, ok := back.Payload["type"]; ok {
		t.Fatalf("type should not leak into payload")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeStreamEndsAfterReplayedTerminal(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{})
	ctx := context.Background()
	hub.Publish(ctx, "p1", AssistantMessage("hi"))
	hub.Publish(ctx, "p1", GenerationError("art_style", "Generation failed"))

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- ServeStream(ctx, &out, nil, hub, "p1", StreamOptions{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeStream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end after replayed terminal event")
	}
	frames := strings.Count(out.String(), "data: ")
	if frames != 2 {
		t.Fatalf("frames: want=2 got=%d\n%s", frames, out.String())
	}
}

func TestServeStreamLiveEventsAndKeepAlive(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- ServeStream(ctx, &out, nil, hub, "p2", StreamOptions{KeepAlive: 20 * time.Millisecond})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), ": ping") {
		if time.Now().After(deadline) {
			t.Fatalf("no keepalive written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(ctx, "p2", Step("summary", "started", nil))
	hub.Publish(ctx, "p2", Done("pkg-9"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeStream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end after done")
	}
	body := out.String()
	if !strings.Contains(body, `"package_id":"pkg-9"`) {
		t.Fatalf("done frame missing: %s", body)
	}
	if strings.Index(body, `"generation.step"`) > strings.Index(body, `"done"`) {
		t.Fatalf("frames out of order: %s", body)
	}
}

func TestServeStreamStopsOnClientDisconnect(t *testing.T) {
	hub := NewHub(mustTestLogger(t), HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- ServeStream(ctx, &out, nil, hub, "p3", StreamOptions{}) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop on cancel")
	}
}
