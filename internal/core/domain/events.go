package domain

import "time"

type EventType string

const (
	EventStreamChanged  EventType = "stream.changed"
	EventCaptureStarted EventType = "capture.started"
	EventCaptureStopped EventType = "capture.stopped"
	EventCaptureFailed  EventType = "capture.failed"
)

// LifecycleEvent is the serializable form of a controller event, as relayed to
// websocket clients and other instances.
type LifecycleEvent struct {
	Type       EventType `json:"type"`
	Controller string    `json:"controller,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	StreamID   StreamID  `json:"stream_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
