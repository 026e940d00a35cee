package surfaces

import (
	"sync"

	"localmedia/internal/core/domain"
)

// Element is an in-process media element. It mirrors the state a real
// player would expose so the control API can report what each surface shows.
type Element struct {
	id      domain.SurfaceID
	kind    domain.ElementKind
	classes []string

	legacy               bool
	blockUnmutedAutoplay bool

	mu         sync.Mutex
	opts       domain.BindOptions
	srcObject  domain.Stream
	src        string
	currentSrc string
	paused     bool
	loads      int
}

type ElementOption func(*Element)

// WithClasses sets the class names the element matches in selectors.
func WithClasses(classes ...string) ElementOption {
	return func(e *Element) { e.classes = append(e.classes, classes...) }
}

// Legacy marks an element without direct stream attachment; it can only
// play from a src reference.
func Legacy() ElementOption {
	return func(e *Element) { e.legacy = true }
}

// BlockUnmutedAutoplay makes Play fail unless the element is muted.
func BlockUnmutedAutoplay() ElementOption {
	return func(e *Element) { e.blockUnmutedAutoplay = true }
}

func NewElement(id domain.SurfaceID, kind domain.ElementKind, opts ...ElementOption) *Element {
	e := &Element{
		id:     id,
		kind:   kind,
		paused: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Element) SurfaceID() domain.SurfaceID { return e.id }
func (e *Element) Kind() domain.ElementKind    { return e.kind }
func (e *Element) Classes() []string           { return e.classes }

func (e *Element) Configure(opts domain.BindOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

func (e *Element) SetSrcObject(stream domain.Stream) error {
	if e.legacy {
		return domain.ErrAttachUnsupported
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.srcObject = stream
	e.resolveLocked()
	return nil
}

func (e *Element) SrcObject() domain.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.srcObject
}

func (e *Element) SetSrc(ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = ref
	e.resolveLocked()
	return nil
}

func (e *Element) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

func (e *Element) CurrentSrc() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSrc
}

func (e *Element) Load() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	e.paused = true
	e.resolveLocked()
}

func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.srcObject == nil && e.currentSrc == "" {
		return nil
	}
	if e.blockUnmutedAutoplay && !e.opts.Muted {
		return domain.ErrAutoplayBlocked
	}
	e.paused = false
	return nil
}

// resolveLocked recomputes the current source. A source object takes
// precedence over src.
func (e *Element) resolveLocked() {
	switch {
	case e.srcObject != nil:
		e.currentSrc = ""
	default:
		e.currentSrc = e.src
	}
	if e.srcObject == nil && e.src == "" {
		e.paused = true
	}
}

// State is a point-in-time view of a surface.
type State struct {
	ID       domain.SurfaceID   `json:"id"`
	Kind     string             `json:"kind"`
	Classes  []string           `json:"classes,omitempty"`
	Legacy   bool               `json:"legacy,omitempty"`
	Muted    bool               `json:"muted"`
	StreamID domain.StreamID    `json:"stream_id,omitempty"`
	Src      string             `json:"src,omitempty"`
	Playing  bool               `json:"playing"`
	Children []domain.SurfaceID `json:"children,omitempty"`
}

func (e *Element) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		ID:      e.id,
		Kind:    string(e.kind),
		Classes: e.classes,
		Legacy:  e.legacy,
		Muted:   e.opts.Muted,
		Src:     e.currentSrc,
		Playing: !e.paused,
	}
	if e.srcObject != nil {
		st.StreamID = e.srcObject.ID()
	}
	return st
}

// Showing reports whether the element currently references any source.
func (e *Element) Showing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.srcObject != nil || e.currentSrc != ""
}
