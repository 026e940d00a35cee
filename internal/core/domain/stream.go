package domain

type StreamID string

// Stream is a live handle to locally captured audio and/or video.
type Stream interface {
	ID() StreamID
	HasVideo() bool
	HasAudio() bool
	// Stop ends every track of the stream. Stopping an already stopped stream is a no-op.
	Stop() error
	// OnEnded registers a handler invoked at most once when the platform ends the
	// stream out-of-band (permission revoked, device unplugged).
	OnEnded(handler func(error))
}

// State is the externally observable controller lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
)

type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}
