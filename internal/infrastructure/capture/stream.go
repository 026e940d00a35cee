package capture

import (
	"errors"
	"sync"

	"localmedia/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
)

// mediaStream adapts a mediadevices.MediaStream to domain.Stream. The first
// track that ends on its own ends the whole stream.
type mediaStream struct {
	id    domain.StreamID
	inner mediadevices.MediaStream
	video bool
	audio bool

	mu      sync.Mutex
	stopped bool
	ended   bool
	handler func(error)
}

func newMediaStream(inner mediadevices.MediaStream) *mediaStream {
	s := &mediaStream{
		id:    domain.StreamID(uuid.NewString()),
		inner: inner,
		video: len(inner.GetVideoTracks()) > 0,
		audio: len(inner.GetAudioTracks()) > 0,
	}
	for _, track := range inner.GetTracks() {
		track.OnEnded(s.end)
	}
	return s
}

func (s *mediaStream) ID() domain.StreamID { return s.id }
func (s *mediaStream) HasVideo() bool      { return s.video }
func (s *mediaStream) HasAudio() bool      { return s.audio }

func (s *mediaStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	var errs []error
	for _, track := range s.inner.GetTracks() {
		if err := track.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *mediaStream) OnEnded(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *mediaStream) end(cause error) {
	s.mu.Lock()
	if s.stopped || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(cause)
	}
}
