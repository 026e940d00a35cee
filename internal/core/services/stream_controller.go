package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"localmedia/internal/core/domain"
	"localmedia/internal/core/ports"
	"localmedia/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StreamController owns one capture stream at a time and the set of surfaces
// bound to it. Surfaces bound before a stop are rebound automatically on the
// next successful start.
//
// Events are dispatched synchronously, outside the controller lock, so
// listeners may call back into the controller.
type StreamController struct {
	caps    Capabilities
	binder  *binder
	logger  *zap.SugaredLogger
	metrics ports.ControllerMetrics

	name        string
	muted       bool
	constraints domain.Constraints

	mu          sync.Mutex
	stream      domain.Stream
	inFlight    bool
	session     uint64
	bindings    []domain.Binding
	rebindArmed bool
	pending     []pendingRender
	nextTicket  uint64
	objectURLs  []string

	startListeners  listeners[domain.Stream]
	stopListeners   listeners[struct{}]
	streamListeners listeners[domain.Stream]
	errorListeners  listeners[error]
}

type pendingRender struct {
	ticket   uint64
	target   Target
	bind     domain.BindOptions
	callback func(domain.RenderResult)
}

type renderedCallback struct {
	fn     func(domain.RenderResult)
	result domain.RenderResult
}

// NewStreamController builds a controller. With opts.Stream set the controller
// starts out capturing that stream; with opts.AutoStart a capture is requested
// immediately.
func NewStreamController(
	caps Capabilities,
	opts Options,
	metrics ports.ControllerMetrics,
	logger *zap.SugaredLogger,
) (*StreamController, error) {
	if caps.Capture == nil {
		return nil, errors.New("capture requester is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	c := &StreamController{
		caps:        caps,
		binder:      newBinder(caps, logger),
		logger:      logger.With("controller", opts.Name),
		metrics:     metrics,
		name:        opts.Name,
		muted:       opts.Muted,
		constraints: opts.Constraints,
	}

	if opts.OnStart != nil {
		c.OnStart(opts.OnStart)
	}
	if opts.OnStop != nil {
		c.OnStop(opts.OnStop)
	}
	if opts.OnStreamChanged != nil {
		c.OnStreamChanged(opts.OnStreamChanged)
	}
	if opts.OnError != nil {
		c.OnError(opts.OnError)
	}

	if opts.Stream != nil {
		c.stream = opts.Stream
		c.session = 1
		c.watchEnded(opts.Stream, c.session)
		c.metrics.SetCapturing(true)
	}

	if opts.AutoStart {
		c.Start(context.Background())
	}
	return c, nil
}

func (c *StreamController) Name() string {
	return c.name
}

func (c *StreamController) Constraints() domain.Constraints {
	return c.constraints
}

func (c *StreamController) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return domain.StateCapturing
	}
	return domain.StateIdle
}

// Stream returns the active stream or nil when idle.
func (c *StreamController) Stream() domain.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Bindings returns a copy of the retained binding records.
func (c *StreamController) Bindings() []domain.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Binding, len(c.bindings))
	copy(out, c.bindings)
	return out
}

// Pending returns the number of renders waiting for a stream.
func (c *StreamController) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RebindArmed reports whether the next start will replay retained bindings.
func (c *StreamController) RebindArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebindArmed
}

func (c *StreamController) OnStart(fn func(domain.Stream)) Disposer {
	return c.startListeners.add(fn)
}

func (c *StreamController) OnStop(fn func()) Disposer {
	return c.stopListeners.add(func(struct{}) { fn() })
}

func (c *StreamController) OnStreamChanged(fn func(domain.Stream)) Disposer {
	return c.streamListeners.add(fn)
}

func (c *StreamController) OnError(fn func(error)) Disposer {
	return c.errorListeners.add(fn)
}

// Start requests a capture. It returns immediately; the outcome arrives as a
// start or error event. Start is a no-op while a stream is active or a capture
// request is already in flight.
func (c *StreamController) Start(ctx context.Context, opts ...StartOption) {
	var sc startConfig
	for _, opt := range opts {
		opt(&sc)
	}
	constraints := c.constraints
	if sc.constraints != nil {
		constraints = *sc.constraints
	}

	c.mu.Lock()
	if c.stream != nil || c.inFlight {
		c.mu.Unlock()
		c.logger.Debugw("start ignored, capture active or in flight")
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	go c.capture(context.WithoutCancel(ctx), constraints, sc.callback)
}

func (c *StreamController) capture(ctx context.Context, constraints domain.Constraints, callback func(domain.Stream)) {
	ctx, span := tracing.TraceController(ctx, "capture", c.name)
	defer span.End()

	began := time.Now()
	stream, err := c.request(ctx, constraints)
	if err != nil {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()

		captureErr := &domain.CaptureError{Cause: err}
		tracing.RecordError(ctx, err)
		c.metrics.RecordCapture("failed", time.Since(began))
		c.logger.Warnw("capture failed",
			"reason", domain.CaptureReason(err),
			"error", err,
		)
		c.errorListeners.emit(captureErr)
		return
	}

	c.metrics.RecordCapture("ok", time.Since(began))
	tracing.AddSpanAttributes(ctx, tracing.StreamIDKey.String(string(stream.ID())))
	c.activate(ctx, stream, callback)
}

func (c *StreamController) request(ctx context.Context, constraints domain.Constraints) (domain.Stream, error) {
	if err := constraints.Validate(); err != nil {
		return nil, err
	}
	stream, err := c.caps.Capture.Capture(ctx, constraints)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, domain.ErrNoStream
	}
	return stream, nil
}

// activate installs a freshly captured stream, replays retained bindings when a
// rebind is armed, flushes deferred renders and then notifies listeners.
func (c *StreamController) activate(ctx context.Context, stream domain.Stream, callback func(domain.Stream)) {
	c.mu.Lock()
	c.inFlight = false
	c.stream = stream
	c.session++
	session := c.session

	rebound := 0
	if c.rebindArmed {
		rebound = c.rebindLocked(stream)
	}
	flushed := c.flushLocked(ctx, stream)
	bindings := len(c.bindings)
	c.mu.Unlock()

	c.watchEnded(stream, session)
	c.metrics.SetCapturing(true)
	c.metrics.SetBindings(bindings)

	c.logger.Infow("capture started",
		"stream_id", stream.ID(),
		"rebound", rebound,
		"flushed_renders", len(flushed),
	)

	c.streamListeners.emit(stream)
	c.startListeners.emit(stream)
	for _, f := range flushed {
		f.fn(f.result)
	}
	if callback != nil {
		callback(stream)
	}
}

func (c *StreamController) watchEnded(stream domain.Stream, session uint64) {
	stream.OnEnded(func(cause error) {
		go c.handleEnded(session, cause)
	})
}

// handleEnded treats a platform-initiated end like Stop, so a later Start can
// re-acquire and rebind. Notifications for an older session are ignored.
func (c *StreamController) handleEnded(session uint64, cause error) {
	c.mu.Lock()
	if c.stream == nil || c.session != session {
		c.mu.Unlock()
		return
	}
	id := c.deactivateLocked(false)
	c.mu.Unlock()

	c.metrics.SetCapturing(false)
	c.logger.Warnw("stream ended by platform", "stream_id", id, "cause", cause)
	c.stopListeners.emit(struct{}{})
}

// Render binds target to the current stream, or to the stream given with
// WithStream. Without any stream the request is queued and runs exactly once
// when the next capture succeeds; the returned result is then marked Deferred
// and its Ticket can be passed to CancelRender.
func (c *StreamController) Render(ctx context.Context, target Target, opts ...RenderOption) domain.RenderResult {
	rc := renderConfig{bind: domain.BindOptions{Muted: c.muted, PreserveAspectRatio: true}}
	for _, opt := range opts {
		opt(&rc)
	}

	ctx, span := tracing.TraceController(ctx, "render", c.name)
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.SelectorKey.String(target.String()))

	c.mu.Lock()
	stream := rc.stream
	if stream == nil {
		stream = c.stream
	}
	if stream == nil {
		c.nextTicket++
		ticket := c.nextTicket
		c.pending = append(c.pending, pendingRender{
			ticket:   ticket,
			target:   target,
			bind:     rc.bind,
			callback: rc.callback,
		})
		c.mu.Unlock()

		c.metrics.RecordDeferredRender()
		tracing.AddSpanAttributes(ctx, tracing.DeferredKey.Bool(true))
		c.logger.Debugw("render deferred until capture starts", "target", target.String(), "ticket", ticket)
		return domain.RenderResult{Deferred: true, Ticket: ticket}
	}

	result := c.renderLocked(ctx, target, rc.bind, stream)
	bindings := len(c.bindings)
	c.mu.Unlock()

	c.metrics.SetBindings(bindings)
	tracing.AddSpanAttributes(ctx, tracing.BindingsKey.Int(bindings))
	if rc.callback != nil {
		rc.callback(result)
	}
	return result
}

// CancelRender withdraws a deferred render. It reports false when the ticket
// is unknown or the render already ran.
func (c *StreamController) CancelRender(ticket uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.ticket == ticket {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Stop detaches every bound surface, stops the stream, arms the rebind and
// returns to idle. It is a no-op when no stream is active.
func (c *StreamController) Stop(ctx context.Context, opts ...StopOption) {
	var sc stopConfig
	for _, opt := range opts {
		opt(&sc)
	}

	_, span := tracing.TraceController(ctx, "stop", c.name)
	defer span.End()

	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return
	}
	id := c.deactivateLocked(sc.forget)
	bindings := len(c.bindings)
	c.mu.Unlock()

	c.metrics.SetCapturing(false)
	c.metrics.SetBindings(bindings)
	c.logger.Infow("capture stopped", "stream_id", id, "retained_bindings", bindings)
	c.stopListeners.emit(struct{}{})
}

// DisarmRebind cancels a pending rebind and forgets the retained bindings.
// It reports whether a rebind was armed.
func (c *StreamController) DisarmRebind() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rebindArmed {
		return false
	}
	c.rebindArmed = false
	c.bindings = nil
	return true
}

func (c *StreamController) deactivateLocked(forget bool) domain.StreamID {
	stream := c.stream

	for _, b := range c.bindings {
		c.binder.detach(b.Element)
	}
	if err := stream.Stop(); err != nil {
		c.logger.Warnw("stopping stream failed", "stream_id", stream.ID(), "error", err)
	}
	if forget {
		c.bindings = nil
		c.rebindArmed = false
	} else {
		c.rebindArmed = true
	}
	c.revokeLocked()
	c.stream = nil
	return stream.ID()
}

func (c *StreamController) revokeLocked() {
	if c.caps.ObjectURLs != nil {
		for _, ref := range c.objectURLs {
			c.caps.ObjectURLs.RevokeObjectURL(ref)
		}
	}
	c.objectURLs = nil
}

func (c *StreamController) rebindLocked(stream domain.Stream) int {
	replay := c.bindings
	c.bindings = nil
	c.rebindArmed = false

	rebound := 0
	for _, b := range replay {
		res := c.binder.attach(stream, b.Element)
		res.Surface = b.Surface
		if c.recordLocked(&res, b.ID, b.Surface, b.Options) {
			rebound++
			continue
		}
		// keep the record so the next start replays it again
		c.bindings = append(c.bindings, b)
		c.logger.Warnw("rebind failed, binding retained",
			"binding_id", b.ID,
			"surface", b.Surface.SurfaceID(),
			"error", res.Err,
		)
	}
	return rebound
}

func (c *StreamController) flushLocked(ctx context.Context, stream domain.Stream) []renderedCallback {
	pending := c.pending
	c.pending = nil

	var out []renderedCallback
	for _, p := range pending {
		result := c.renderLocked(ctx, p.target, p.bind, stream)
		if p.callback != nil {
			out = append(out, renderedCallback{fn: p.callback, result: result})
		}
	}
	return out
}

func (c *StreamController) renderLocked(ctx context.Context, target Target, opts domain.BindOptions, stream domain.Stream) domain.RenderResult {
	var result domain.RenderResult

	surfaces, err := target.resolve(ctx, c.caps.Resolver)
	if err != nil {
		c.metrics.RecordBind(domain.BindFailed)
		result.Results = append(result.Results, domain.BindResult{Outcome: domain.BindFailed, Err: err})
		return result
	}

	for _, surface := range surfaces {
		result.Results = append(result.Results, c.bindLocked(stream, opts, surface))
	}
	return result
}

// bindLocked binds one surface. A surface that already has a binding keeps its
// element and binding id; only the options and the attachment are refreshed.
func (c *StreamController) bindLocked(stream domain.Stream, opts domain.BindOptions, surface domain.Surface) domain.BindResult {
	id := domain.BindingID(uuid.NewString())
	owner := surface
	var el domain.MediaElement

	if i := c.indexLocked(surface.SurfaceID()); i >= 0 {
		existing := c.bindings[i]
		c.bindings = append(c.bindings[:i:i], c.bindings[i+1:]...)
		id = existing.ID
		owner = existing.Surface
		el = existing.Element
		el.Configure(opts)
	} else {
		prepared, err := c.binder.prepare(surface, opts)
		if err != nil {
			c.metrics.RecordBind(domain.BindFailed)
			c.logger.Debugw("bind failed", "surface", surface.SurfaceID(), "error", err)
			return domain.BindResult{Surface: surface, Outcome: domain.BindFailed, Err: err}
		}
		el = prepared
	}

	res := c.binder.attach(stream, el)
	res.Surface = surface
	c.recordLocked(&res, id, owner, opts)
	return res
}

func (c *StreamController) recordLocked(res *domain.BindResult, id domain.BindingID, surface domain.Surface, opts domain.BindOptions) bool {
	c.metrics.RecordBind(res.Outcome)
	if res.Outcome == domain.BindFailed {
		return false
	}
	if res.Reference != "" {
		c.objectURLs = append(c.objectURLs, res.Reference)
	}
	res.BindingID = id
	c.bindings = append(c.bindings, domain.Binding{
		ID:      id,
		Surface: surface,
		Element: res.Element,
		Options: opts,
		BoundAt: time.Now(),
	})
	return true
}

// indexLocked finds the binding for a surface, matching either the bound
// surface or the element created for it inside a container.
func (c *StreamController) indexLocked(id domain.SurfaceID) int {
	for i, b := range c.bindings {
		if b.Surface.SurfaceID() == id {
			return i
		}
		if b.Element != nil && b.Element.SurfaceID() == id {
			return i
		}
	}
	return -1
}

type noopMetrics struct{}

func (noopMetrics) RecordCapture(string, time.Duration) {}
func (noopMetrics) SetCapturing(bool)                   {}
func (noopMetrics) SetBindings(int)                     {}
func (noopMetrics) RecordBind(domain.BindOutcome)       {}
func (noopMetrics) RecordDeferredRender()               {}
