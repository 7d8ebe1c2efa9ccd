package models

import "time"

// EventType names a coordinator lifecycle event.
type EventType string

const (
	EventCaptureStarted   EventType = "capture_started"
	EventSelectionStart   EventType = "selection_start"
	EventCaptureCompleted EventType = "capture_completed"
	EventCaptureFailed    EventType = "capture_failed"
	EventItemEvicted      EventType = "item_evicted"
)

// Event is emitted by the coordinator as a capture progresses.
type Event struct {
	Type      EventType       `json:"type"`
	CaptureID string          `json:"capture_id,omitempty"`
	Category  CaptureCategory `json:"category,omitempty"`
	Mode      CaptureMode     `json:"mode,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}
