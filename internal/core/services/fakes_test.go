package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"localmedia/internal/core/domain"

	"github.com/stretchr/testify/mock"
)

type MockCaptureRequester struct {
	mock.Mock
}

func (m *MockCaptureRequester) Capture(ctx context.Context, constraints domain.Constraints) (domain.Stream, error) {
	args := m.Called(ctx, constraints)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.Stream), args.Error(1)
}

type fakeStream struct {
	id domain.StreamID

	mu      sync.Mutex
	stopped int
	ended   func(error)
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{id: domain.StreamID(id)}
}

func (s *fakeStream) ID() domain.StreamID { return s.id }
func (s *fakeStream) HasVideo() bool      { return true }
func (s *fakeStream) HasAudio() bool      { return false }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) OnEnded(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = handler
}

func (s *fakeStream) end(cause error) {
	s.mu.Lock()
	h := s.ended
	s.mu.Unlock()
	if h != nil {
		h(cause)
	}
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeElement struct {
	id          domain.SurfaceID
	kind        domain.ElementKind
	noSrcObject bool
	srcErr      error
	playErr     error

	mu        sync.Mutex
	opts      domain.BindOptions
	srcObject domain.Stream
	src       string
	loads     int
	plays     int
}

func newFakeElement(id string) *fakeElement {
	return &fakeElement{id: domain.SurfaceID(id), kind: domain.ElementVideo}
}

func (e *fakeElement) SurfaceID() domain.SurfaceID { return e.id }
func (e *fakeElement) Kind() domain.ElementKind    { return e.kind }

func (e *fakeElement) Configure(opts domain.BindOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

func (e *fakeElement) SetSrcObject(stream domain.Stream) error {
	if e.noSrcObject {
		return domain.ErrAttachUnsupported
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.srcObject = stream
	return nil
}

func (e *fakeElement) SrcObject() domain.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.srcObject
}

func (e *fakeElement) SetSrc(ref string) error {
	if e.srcErr != nil && ref != "" {
		return e.srcErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = ref
	return nil
}

func (e *fakeElement) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

func (e *fakeElement) CurrentSrc() string {
	return e.Src()
}

func (e *fakeElement) Load() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
}

func (e *fakeElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays++
	return e.playErr
}

func (e *fakeElement) options() domain.BindOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// showing reports whether the element currently displays anything.
func (e *fakeElement) showing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.srcObject != nil || e.src != ""
}

type fakeContainer struct {
	id        domain.SurfaceID
	appendErr error

	mu       sync.Mutex
	children []domain.MediaElement
}

func (c *fakeContainer) SurfaceID() domain.SurfaceID { return c.id }

func (c *fakeContainer) AppendChild(el domain.MediaElement) error {
	if c.appendErr != nil {
		return c.appendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = append(c.children, el)
	return nil
}

func (c *fakeContainer) childCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.children)
}

type plainSurface struct{ id domain.SurfaceID }

func (p plainSurface) SurfaceID() domain.SurfaceID { return p.id }

type fakeElementFactory struct {
	mu      sync.Mutex
	created []*fakeElement
}

func (f *fakeElementFactory) CreateElement(kind domain.ElementKind, opts domain.BindOptions) (domain.MediaElement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el := newFakeElement(fmt.Sprintf("created-%d", len(f.created)+1))
	el.kind = kind
	el.opts = opts
	f.created = append(f.created, el)
	return el, nil
}

type fakeURLs struct {
	mu      sync.Mutex
	next    int
	live    map[string]domain.Stream
	revoked []string
	fail    bool
}

func newFakeURLs() *fakeURLs {
	return &fakeURLs{live: make(map[string]domain.Stream)}
}

func (u *fakeURLs) CreateObjectURL(stream domain.Stream) (string, error) {
	if u.fail {
		return "", errors.New("object urls unavailable")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.next++
	ref := fmt.Sprintf("blob:test/%d", u.next)
	u.live[ref] = stream
	return ref, nil
}

func (u *fakeURLs) RevokeObjectURL(ref string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.live, ref)
	u.revoked = append(u.revoked, ref)
}

func (u *fakeURLs) revokedRefs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.revoked...)
}

type fakeResolver map[string][]domain.Surface

func (r fakeResolver) Resolve(_ context.Context, selector string) ([]domain.Surface, error) {
	return r[selector], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.LifecycleEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *domain.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
