package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventAssistantMessage EventType = "assistant_message"
	EventTodoList         EventType = "todo_list"
	EventTodoUpdate       EventType = "todo_update"
	EventContentUpdate    EventType = "content_update"
	EventStep             EventType = "generation.step"
	EventError            EventType = "generation.error"
	EventDone             EventType = "done"
)

// Event is one frame on a subject's channel. Payload keys are flattened next
// to type, trace_id and timestamp on the wire.
type Event struct {
	Type      EventType
	Payload   map[string]any
	TraceID   string
	Timestamp time.Time
}

// Terminal reports whether the event ends a run's stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = string(e.Type)
	if e.TraceID != "" {
		out["trace_id"] = e.TraceID
	}
	if !e.Timestamp.IsZero() {
		out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t, _ := raw["type"].(string)
	if t == "" {
		return fmt.Errorf("event without type")
	}
	e.Type = EventType(t)
	e.TraceID, _ = raw["trace_id"].(string)
	if ts, ok := raw["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
	}
	delete(raw, "type")
	delete(raw, "trace_id")
	delete(raw, "timestamp")
	e.Payload = raw
	return nil
}

func AssistantMessage(content string) Event {
	return Event{Type: EventAssistantMessage, Payload: map[string]any{"content": content}}
}

type TodoItem struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"`
}

func TodoList(items []TodoItem) Event {
	return Event{Type: EventTodoList, Payload: map[string]any{"items": items}}
}

func TodoUpdate(id, status string) Event {
	return Event{Type: EventTodoUpdate, Payload: map[string]any{"id": id, "status": status}}
}

func ContentUpdate(section string, data any) Event {
	return Event{Type: EventContentUpdate, Payload: map[string]any{"section": section, "data": data}}
}

func Step(step, status string, extra map[string]any) Event {
	payload := map[string]any{"step": step, "status": status}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{Type: EventStep, Payload: payload}
}

func GenerationError(step, message string) Event {
	return Event{Type: EventError, Payload: map[string]any{"step": step, "message": message}}
}

func Done(packageID string) Event {
	return Event{Type: EventDone, Payload: map[string]any{"package_id": packageID}}
}
