package services

import (
	"context"
	"fmt"
	"reflect"

	"localmedia/internal/core/domain"
	"localmedia/internal/core/ports"
)

// Capabilities are the platform hooks a StreamController runs on. Only Capture
// is mandatory; without Resolver selector targets fail, without Elements
// containers cannot be bound and without ObjectURLs there is no fallback for
// elements lacking direct attachment.
type Capabilities struct {
	Capture    ports.CaptureRequester
	Resolver   ports.SurfaceResolver
	Elements   ports.ElementFactory
	ObjectURLs ports.ObjectURLFactory
	// IsStream reports whether a value is a stream handle. Defaults to a
	// domain.Stream type assertion.
	IsStream func(v any) bool
}

func (c Capabilities) isStream(v any) bool {
	if c.IsStream != nil {
		return c.IsStream(v)
	}
	_, ok := v.(domain.Stream)
	return ok
}

// Options configure a controller at construction.
type Options struct {
	Name        string
	AutoStart   bool
	Muted       bool
	Constraints domain.Constraints
	// Stream adopts an already captured stream; the controller starts in the
	// capturing state.
	Stream domain.Stream

	// Listeners subscribed before AutoStart requests the first capture, so
	// they cannot miss its outcome.
	OnStart         func(domain.Stream)
	OnStop          func()
	OnStreamChanged func(domain.Stream)
	OnError         func(error)
}

func DefaultOptions() Options {
	return Options{
		AutoStart:   true,
		Muted:       true,
		Constraints: domain.DefaultConstraints(),
	}
}

// NormalizeOptions accepts either an Options value (or pointer) or a bare stream
// handle. A stream handle becomes Options{Stream: s, AutoStart: false, Muted: false}.
func NormalizeOptions(caps Capabilities, v any) (Options, error) {
	switch o := v.(type) {
	case nil:
		return DefaultOptions(), nil
	case Options:
		return o, nil
	case *Options:
		if o == nil {
			return DefaultOptions(), nil
		}
		return *o, nil
	}
	if caps.isStream(v) {
		s, ok := v.(domain.Stream)
		if !ok {
			return Options{}, fmt.Errorf("stream check accepted %T but it does not implement domain.Stream", v)
		}
		opts := DefaultOptions()
		opts.Stream = s
		opts.AutoStart = false
		opts.Muted = false
		return opts, nil
	}
	return Options{}, fmt.Errorf("unsupported controller options %T", v)
}

type startConfig struct {
	constraints *domain.Constraints
	callback    func(domain.Stream)
}

type StartOption func(*startConfig)

// WithConstraints overrides the configured constraints for one Start call.
func WithConstraints(c domain.Constraints) StartOption {
	return func(sc *startConfig) { sc.constraints = &c }
}

// WithCallback registers a function invoked once with the captured stream.
func WithCallback(fn func(domain.Stream)) StartOption {
	return func(sc *startConfig) { sc.callback = fn }
}

type renderConfig struct {
	bind     domain.BindOptions
	stream   domain.Stream
	callback func(domain.RenderResult)
}

type RenderOption func(*renderConfig)

func WithMuted(muted bool) RenderOption {
	return func(rc *renderConfig) { rc.bind.Muted = muted }
}

func WithPreserveAspectRatio(preserve bool) RenderOption {
	return func(rc *renderConfig) { rc.bind.PreserveAspectRatio = preserve }
}

func WithBindOptions(opts domain.BindOptions) RenderOption {
	return func(rc *renderConfig) { rc.bind = opts }
}

// WithStream binds the given stream instead of the controller's current one.
// Such a render never waits for a capture.
func WithStream(s domain.Stream) RenderOption {
	return func(rc *renderConfig) { rc.stream = s }
}

// OnRendered registers a function that receives the bind results once the render
// actually runs, immediately or when a deferred render is flushed.
func OnRendered(fn func(domain.RenderResult)) RenderOption {
	return func(rc *renderConfig) { rc.callback = fn }
}

type stopConfig struct {
	forget bool
}

type StopOption func(*stopConfig)

// WithoutRebind drops the binding records instead of replaying them on the next start.
func WithoutRebind() StopOption {
	return func(sc *stopConfig) { sc.forget = true }
}

// Target names what a render binds: a selector or concrete surfaces.
type Target struct {
	selector string
	surfaces []domain.Surface
}

func Selector(selector string) Target {
	return Target{selector: selector}
}

func Surfaces(surfaces ...domain.Surface) Target {
	return Target{surfaces: surfaces}
}

func (t Target) String() string {
	if t.selector != "" {
		return t.selector
	}
	return fmt.Sprintf("%d surface(s)", len(t.surfaces))
}

func (t Target) resolve(ctx context.Context, resolver ports.SurfaceResolver) ([]domain.Surface, error) {
	var surfaces []domain.Surface
	if t.selector != "" {
		if resolver == nil {
			return nil, domain.ErrNoResolver
		}
		resolved, err := resolver.Resolve(ctx, t.selector)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", t.selector, err)
		}
		surfaces = resolved
	} else {
		surfaces = t.surfaces
	}

	out := make([]domain.Surface, 0, len(surfaces))
	for _, s := range surfaces {
		if isNilSurface(s) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func isNilSurface(s domain.Surface) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
