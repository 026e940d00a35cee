package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"localmedia/internal/core/domain"

	"github.com/google/uuid"
)

// SyntheticRequester hands out streams that are not backed by any device.
// It serves headless deployments and tests.
type SyntheticRequester struct {
	// Fail, when set, is returned by every Capture call.
	Fail error

	requests atomic.Int64
	mu       sync.Mutex
	last     *SyntheticStream
}

func NewSyntheticRequester() *SyntheticRequester {
	return &SyntheticRequester{}
}

func (r *SyntheticRequester) Capture(ctx context.Context, constraints domain.Constraints) (domain.Stream, error) {
	r.requests.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Fail != nil {
		return nil, r.Fail
	}
	if err := constraints.Validate(); err != nil {
		return nil, err
	}

	s := &SyntheticStream{
		id:    domain.StreamID(uuid.NewString()),
		video: constraints.Video,
		audio: constraints.Audio,
	}
	r.mu.Lock()
	r.last = s
	r.mu.Unlock()
	return s, nil
}

func (r *SyntheticRequester) ListDevices() ([]domain.Device, error) {
	return []domain.Device{
		{ID: "synthetic-video", Label: "Synthetic camera", Kind: "videoinput"},
		{ID: "synthetic-audio", Label: "Synthetic microphone", Kind: "audioinput"},
	}, nil
}

// Requests returns how many captures were requested so far.
func (r *SyntheticRequester) Requests() int64 {
	return r.requests.Load()
}

// Last returns the most recently captured stream, or nil.
func (r *SyntheticRequester) Last() *SyntheticStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type SyntheticStream struct {
	id    domain.StreamID
	video bool
	audio bool

	mu      sync.Mutex
	stopped bool
	handler func(error)
}

func (s *SyntheticStream) ID() domain.StreamID { return s.id }
func (s *SyntheticStream) HasVideo() bool      { return s.video }
func (s *SyntheticStream) HasAudio() bool      { return s.audio }

func (s *SyntheticStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *SyntheticStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *SyntheticStream) OnEnded(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// End simulates the platform ending the stream, e.g. a revoked permission.
func (s *SyntheticStream) End(cause error) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("stream %s already stopped", s.id)
	}
	s.stopped = true
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(cause)
	}
	return nil
}
