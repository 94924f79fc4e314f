package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

const EventToast = "toast"

// Toast is a transient notice shown by the console. Duration is in
// milliseconds.
type Toast struct {
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Severity string          `json:"severity"`
	Duration int64           `json:"duration"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewToast builds a toast shown for d.
func NewToast(title, message, severity string, d time.Duration) Toast {
	return Toast{Title: title, Message: message, Severity: severity, Duration: d.Milliseconds()}
}

// WithPayload attaches v, JSON-encoded, to the toast.
func (t Toast) WithPayload(v any) (Toast, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return t, fmt.Errorf("marshal toast payload: %w", err)
	}
	t.Payload = raw
	return t, nil
}

// Event wraps the toast into a hub event on topic.
func (t Toast) Event(topic string, at time.Time) (Event, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return Event{}, fmt.Errorf("marshal toast: %w", err)
	}
	return Event{Type: EventToast, Topic: topic, Timestamp: at, Data: raw}, nil
}
