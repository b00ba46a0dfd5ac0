package eventbus

import "time"

// Event is a workflow event queued for asynchronous handling.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	SubjectID string         `json:"subject_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Listener handles an event.
type Listener func(Event)
