package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"localmedia/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 2 * time.Second

type harness struct {
	capture  *MockCaptureRequester
	urls     *fakeURLs
	elements *fakeElementFactory
	resolver fakeResolver
	ctrl     *StreamController
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		capture:  &MockCaptureRequester{},
		urls:     newFakeURLs(),
		elements: &fakeElementFactory{},
		resolver: fakeResolver{},
	}
	caps := Capabilities{
		Capture:    h.capture,
		Resolver:   h.resolver,
		Elements:   h.elements,
		ObjectURLs: h.urls,
	}
	ctrl, err := NewStreamController(caps, opts, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func idleOptions() Options {
	opts := DefaultOptions()
	opts.Name = "test"
	opts.AutoStart = false
	return opts
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

// startAndWait calls Start and blocks until the start event fired.
func startAndWait(t *testing.T, ctrl *StreamController, opts ...StartOption) domain.Stream {
	t.Helper()
	started := make(chan domain.Stream, 1)
	dispose := ctrl.OnStart(func(s domain.Stream) { started <- s })
	defer dispose()
	ctrl.Start(context.Background(), opts...)
	return receive(t, started)
}

func TestStreamController_NewRequiresCapture(t *testing.T) {
	_, err := NewStreamController(Capabilities{}, idleOptions(), nil, nil)
	assert.Error(t, err)
}

func TestStreamController_NoStreamUntilStart(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	h.capture.On("Capture", mock.Anything, domain.Constraints{Video: true}).Return(s1, nil)

	assert.Nil(t, h.ctrl.Stream())
	assert.Equal(t, domain.StateIdle, h.ctrl.State())
	h.capture.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)

	got := startAndWait(t, h.ctrl)

	assert.Equal(t, s1, got)
	assert.Equal(t, s1, h.ctrl.Stream())
	assert.Equal(t, domain.StateCapturing, h.ctrl.State())
}

func TestStreamController_AutoStart(t *testing.T) {
	capture := &MockCaptureRequester{}
	capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)

	// nop logger: the capture goroutine may still be logging when the test returns
	ctrl, err := NewStreamController(Capabilities{Capture: capture}, DefaultOptions(), nil, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return ctrl.Stream() != nil }, waitTimeout, 5*time.Millisecond)
	capture.AssertNumberOfCalls(t, "Capture", 1)
}

func TestStreamController_StartIsIdempotent(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	gate := make(chan struct{})
	h.capture.On("Capture", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-gate }).
		Return(s1, nil)

	started := make(chan domain.Stream, 4)
	h.ctrl.OnStart(func(s domain.Stream) { started <- s })

	h.ctrl.Start(context.Background())
	h.ctrl.Start(context.Background())
	close(gate)
	receive(t, started)

	h.ctrl.Start(context.Background())

	h.capture.AssertNumberOfCalls(t, "Capture", 1)
	assert.Empty(t, started)
}

func TestStreamController_StartCallbackAndConstraintOverride(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	override := domain.Constraints{Video: true, Audio: true}
	h.capture.On("Capture", mock.Anything, override).Return(s1, nil)

	done := make(chan domain.Stream, 1)
	h.ctrl.Start(context.Background(),
		WithConstraints(override),
		WithCallback(func(s domain.Stream) { done <- s }),
	)

	assert.Equal(t, s1, receive(t, done))
	h.capture.AssertExpectations(t)
}

func TestStreamController_EventOrder(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	h.ctrl.OnStreamChanged(func(domain.Stream) { record("stream") })
	h.ctrl.OnStart(func(domain.Stream) { record("start") })

	done := make(chan struct{})
	h.ctrl.Render(context.Background(), Surfaces(newFakeElement("a")),
		OnRendered(func(domain.RenderResult) { record("rendered") }))
	h.ctrl.Start(context.Background(), WithCallback(func(domain.Stream) {
		record("callback")
		close(done)
	}))
	receive(t, done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stream", "start", "rendered", "callback"}, order)
}

func TestStreamController_DeferredRenderDeliveredOnce(t *testing.T) {
	h := newHarness(t, idleOptions())
	a := newFakeElement("a")
	h.resolver["#a"] = []domain.Surface{a}

	s1 := newFakeStream("s1")
	s2 := newFakeStream("s2")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s2, nil).Once()

	var deliveries atomic.Int32
	rendered := make(chan domain.RenderResult, 4)
	result := h.ctrl.Render(context.Background(), Selector("#a"),
		WithMuted(false),
		OnRendered(func(r domain.RenderResult) {
			deliveries.Add(1)
			rendered <- r
		}),
	)

	assert.True(t, result.Deferred)
	assert.NotZero(t, result.Ticket)
	assert.Empty(t, result.Results)
	assert.False(t, a.showing())
	assert.Equal(t, 1, h.ctrl.Pending())

	attachedAtStart := make(chan bool, 1)
	h.ctrl.OnStart(func(s domain.Stream) { attachedAtStart <- a.SrcObject() == s })

	startAndWait(t, h.ctrl)
	flushed := receive(t, rendered)

	assert.True(t, receive(t, attachedAtStart))
	require.Len(t, flushed.Results, 1)
	assert.Equal(t, domain.BindAttached, flushed.Results[0].Outcome)
	assert.Equal(t, domain.Stream(s1), a.SrcObject())
	assert.False(t, a.options().Muted)
	assert.True(t, a.options().PreserveAspectRatio)
	assert.Zero(t, h.ctrl.Pending())

	h.ctrl.Stop(context.Background())
	startAndWait(t, h.ctrl)

	assert.Equal(t, int32(1), deliveries.Load())
	assert.Equal(t, domain.Stream(s2), a.SrcObject())
}

func TestStreamController_ScenarioRenderBeforeStart(t *testing.T) {
	opts := idleOptions()
	opts.Constraints = domain.Constraints{Video: true}
	h := newHarness(t, opts)
	a := newFakeElement("a")
	h.resolver["#a"] = []domain.Surface{a}
	s1 := newFakeStream("s1")
	h.capture.On("Capture", mock.Anything, domain.Constraints{Video: true}).Return(s1, nil)

	h.ctrl.Render(context.Background(), Selector("#a"))
	assert.Nil(t, a.SrcObject())

	got := startAndWait(t, h.ctrl)

	assert.Equal(t, domain.Stream(s1), got)
	assert.Equal(t, domain.Stream(s1), a.SrcObject())
	assert.Equal(t, 1, a.plays)
}

func TestStreamController_StopStartRebinds(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	s2 := newFakeStream("s2")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s2, nil).Once()

	a := newFakeElement("a")
	b := newFakeElement("b")

	startAndWait(t, h.ctrl)
	result := h.ctrl.Render(context.Background(), Surfaces(a, b))
	require.Len(t, result.Results, 2)
	before := h.ctrl.Bindings()
	require.Len(t, before, 2)

	stopped := make(chan struct{}, 1)
	h.ctrl.OnStop(func() { stopped <- struct{}{} })
	h.ctrl.Stop(context.Background())
	receive(t, stopped)

	assert.False(t, a.showing())
	assert.False(t, b.showing())
	assert.Equal(t, 1, s1.stopCount())
	assert.Nil(t, h.ctrl.Stream())
	assert.True(t, h.ctrl.RebindArmed())
	assert.Len(t, h.ctrl.Bindings(), 2)

	startAndWait(t, h.ctrl)

	assert.Equal(t, domain.Stream(s2), a.SrcObject())
	assert.Equal(t, domain.Stream(s2), b.SrcObject())
	assert.False(t, h.ctrl.RebindArmed())

	after := h.ctrl.Bindings()
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
}

func TestStreamController_StopWithoutStreamIsNoop(t *testing.T) {
	h := newHarness(t, idleOptions())

	var events atomic.Int32
	h.ctrl.OnStop(func() { events.Add(1) })
	h.ctrl.OnStart(func(domain.Stream) { events.Add(1) })
	h.ctrl.OnError(func(error) { events.Add(1) })
	h.ctrl.Render(context.Background(), Surfaces(newFakeElement("a")))

	h.ctrl.Stop(context.Background())

	assert.Zero(t, events.Load())
	assert.Empty(t, h.ctrl.Bindings())
	assert.Equal(t, 1, h.ctrl.Pending())
	assert.False(t, h.ctrl.RebindArmed())
}

func TestStreamController_CaptureFailure(t *testing.T) {
	h := newHarness(t, idleOptions())
	platformErr := errors.New("NotAllowedError")
	h.capture.On("Capture", mock.Anything, mock.Anything).
		Return(nil, errors.Join(domain.ErrPermissionDenied, platformErr)).Once()
	s1 := newFakeStream("s1")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil).Once()

	var errCount, startCount atomic.Int32
	failures := make(chan error, 2)
	h.ctrl.OnError(func(err error) {
		errCount.Add(1)
		failures <- err
	})
	h.ctrl.OnStart(func(domain.Stream) { startCount.Add(1) })

	h.ctrl.Start(context.Background())
	err := receive(t, failures)

	assert.Equal(t, "unable to capture requested media", err.Error())
	assert.ErrorIs(t, err, domain.ErrCaptureFailed)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.ErrorIs(t, err, platformErr)
	assert.Equal(t, domain.ErrPermissionDenied, domain.CaptureReason(err))
	var captureErr *domain.CaptureError
	assert.ErrorAs(t, err, &captureErr)

	assert.Nil(t, h.ctrl.Stream())
	assert.Equal(t, int32(1), errCount.Load())
	assert.Zero(t, startCount.Load())

	// a failed capture does not block the next attempt
	startAndWait(t, h.ctrl)
	assert.Equal(t, int32(1), errCount.Load())
}

func TestStreamController_NilStreamIsFailure(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(nil, nil)

	failures := make(chan error, 1)
	h.ctrl.OnError(func(err error) { failures <- err })
	h.ctrl.Start(context.Background())

	err := receive(t, failures)
	assert.ErrorIs(t, err, domain.ErrNoStream)
	assert.Nil(t, h.ctrl.Stream())
}

func TestStreamController_InvalidConstraintsNeverReachPlatform(t *testing.T) {
	h := newHarness(t, idleOptions())

	failures := make(chan error, 1)
	h.ctrl.OnError(func(err error) { failures <- err })
	h.ctrl.Start(context.Background(), WithConstraints(domain.Constraints{}))

	err := receive(t, failures)
	assert.Equal(t, domain.ErrConstraintsUnsatisfied, domain.CaptureReason(err))
	h.capture.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
}

func TestStreamController_CancelRender(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil)

	a := newFakeElement("a")
	b := newFakeElement("b")
	cancelled := h.ctrl.Render(context.Background(), Surfaces(a))
	kept := h.ctrl.Render(context.Background(), Surfaces(b))

	assert.True(t, h.ctrl.CancelRender(cancelled.Ticket))
	assert.False(t, h.ctrl.CancelRender(cancelled.Ticket))
	assert.Equal(t, 1, h.ctrl.Pending())

	startAndWait(t, h.ctrl)

	assert.Nil(t, a.SrcObject())
	assert.Equal(t, domain.Stream(s1), b.SrcObject())
	assert.False(t, h.ctrl.CancelRender(kept.Ticket))
}

func TestStreamController_DisarmRebind(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s2"), nil).Once()
	a := newFakeElement("a")

	assert.False(t, h.ctrl.DisarmRebind())

	startAndWait(t, h.ctrl)
	h.ctrl.Render(context.Background(), Surfaces(a))
	h.ctrl.Stop(context.Background())

	assert.True(t, h.ctrl.DisarmRebind())
	assert.Empty(t, h.ctrl.Bindings())

	startAndWait(t, h.ctrl)
	assert.False(t, a.showing())
}

func TestStreamController_StopWithoutRebind(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s2"), nil).Once()
	a := newFakeElement("a")

	startAndWait(t, h.ctrl)
	h.ctrl.Render(context.Background(), Surfaces(a))
	h.ctrl.Stop(context.Background(), WithoutRebind())

	assert.Empty(t, h.ctrl.Bindings())
	assert.False(t, h.ctrl.RebindArmed())

	startAndWait(t, h.ctrl)
	assert.False(t, a.showing())
}

func TestStreamController_OutOfBandEnd(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	s2 := newFakeStream("s2")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s2, nil).Once()
	a := newFakeElement("a")

	startAndWait(t, h.ctrl)
	h.ctrl.Render(context.Background(), Surfaces(a))

	var stops atomic.Int32
	stopped := make(chan struct{}, 2)
	h.ctrl.OnStop(func() {
		stops.Add(1)
		stopped <- struct{}{}
	})

	s1.end(errors.New("device unplugged"))
	receive(t, stopped)

	assert.Nil(t, h.ctrl.Stream())
	assert.False(t, a.showing())
	assert.True(t, h.ctrl.RebindArmed())

	startAndWait(t, h.ctrl)
	assert.Equal(t, domain.Stream(s2), a.SrcObject())

	// a late notification from the previous session is ignored
	s1.end(nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.Stream(s2), h.ctrl.Stream())
	assert.Equal(t, int32(1), stops.Load())
}

func TestStreamController_RenderAccumulates(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)
	a := newFakeElement("a")
	b := newFakeElement("b")

	startAndWait(t, h.ctrl)
	h.ctrl.Render(context.Background(), Surfaces(a))
	h.ctrl.Render(context.Background(), Surfaces(b))
	h.ctrl.Render(context.Background(), Surfaces(a), WithMuted(false))

	bindings := h.ctrl.Bindings()
	require.Len(t, bindings, 2)
	assert.Equal(t, domain.SurfaceID("b"), bindings[0].Surface.SurfaceID())
	assert.Equal(t, domain.SurfaceID("a"), bindings[1].Surface.SurfaceID())
	assert.False(t, bindings[1].Options.Muted)
	assert.False(t, a.options().Muted)
}

func TestStreamController_ContainerGetsCreatedElement(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil)
	box := &fakeContainer{id: "box"}

	startAndWait(t, h.ctrl)
	result := h.ctrl.Render(context.Background(), Surfaces(box))
	h.ctrl.Render(context.Background(), Surfaces(box))

	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.BindAttached, result.Results[0].Outcome)
	assert.Equal(t, domain.Surface(box), result.Results[0].Surface)
	assert.Equal(t, 1, box.childCount())

	require.Len(t, h.elements.created, 1)
	created := h.elements.created[0]
	assert.Equal(t, domain.Stream(s1), created.SrcObject())
	assert.True(t, created.options().Muted)

	bindings := h.ctrl.Bindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, domain.MediaElement(created), bindings[0].Element)
}

func TestStreamController_ObjectURLFallback(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)
	legacy := newFakeElement("legacy")
	legacy.noSrcObject = true

	startAndWait(t, h.ctrl)
	result := h.ctrl.Render(context.Background(), Surfaces(legacy))

	require.Len(t, result.Results, 1)
	res := result.Results[0]
	assert.Equal(t, domain.BindDegraded, res.Outcome)
	assert.Equal(t, "blob:test/1", res.Reference)
	assert.ErrorIs(t, res.Err, domain.ErrAttachUnsupported)
	assert.Equal(t, "blob:test/1", legacy.Src())
	assert.NotEmpty(t, res.BindingID)

	h.ctrl.Stop(context.Background())

	assert.Equal(t, []string{"blob:test/1"}, h.urls.revokedRefs())
	assert.Empty(t, legacy.Src())
}

func TestStreamController_AttachFailureIsSilent(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)
	h.urls.fail = true
	legacy := newFakeElement("legacy")
	legacy.noSrcObject = true
	good := newFakeElement("good")

	var errCount atomic.Int32
	h.ctrl.OnError(func(error) { errCount.Add(1) })

	startAndWait(t, h.ctrl)
	result := h.ctrl.Render(context.Background(), Surfaces(legacy, good))

	require.Len(t, result.Results, 2)
	assert.Equal(t, domain.BindFailed, result.Results[0].Outcome)
	assert.ErrorIs(t, result.Results[0].Err, domain.ErrAttachFailed)
	assert.Equal(t, domain.BindAttached, result.Results[1].Outcome)
	assert.Equal(t, 1, result.Count(domain.BindFailed))
	assert.ErrorIs(t, result.Err(), domain.ErrAttachFailed)

	require.Len(t, h.ctrl.Bindings(), 1)
	assert.Zero(t, errCount.Load())
}

func TestStreamController_PlaybackFailureKeepsBinding(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)
	a := newFakeElement("a")
	a.playErr = domain.ErrAutoplayBlocked

	startAndWait(t, h.ctrl)
	result := h.ctrl.Render(context.Background(), Surfaces(a))

	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.BindAttached, result.Results[0].Outcome)
	assert.ErrorIs(t, result.Results[0].PlaybackErr, domain.ErrAutoplayBlocked)
	assert.NoError(t, result.Err())
	assert.Len(t, h.ctrl.Bindings(), 1)
}

func TestStreamController_TargetsAreFiltered(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)
	var missing *fakeElement
	a := newFakeElement("a")

	startAndWait(t, h.ctrl)

	result := h.ctrl.Render(context.Background(), Surfaces(nil, missing, a, plainSurface{id: "span"}))
	require.Len(t, result.Results, 2)
	assert.Equal(t, domain.BindAttached, result.Results[0].Outcome)
	assert.Equal(t, domain.BindFailed, result.Results[1].Outcome)
	assert.ErrorIs(t, result.Results[1].Err, domain.ErrInvalidTarget)

	empty := h.ctrl.Render(context.Background(), Selector("#nothing"))
	assert.False(t, empty.Deferred)
	assert.Empty(t, empty.Results)
}

func TestStreamController_SelectorWithoutResolver(t *testing.T) {
	capture := &MockCaptureRequester{}
	capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)
	ctrl, err := NewStreamController(Capabilities{Capture: capture}, idleOptions(), nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	startAndWait(t, ctrl)
	result := ctrl.Render(context.Background(), Selector("#a"))

	require.Len(t, result.Results, 1)
	assert.ErrorIs(t, result.Results[0].Err, domain.ErrNoResolver)
}

func TestStreamController_StreamOverrideNeverDefers(t *testing.T) {
	h := newHarness(t, idleOptions())
	other := newFakeStream("other")
	a := newFakeElement("a")

	result := h.ctrl.Render(context.Background(), Surfaces(a), WithStream(other))

	assert.False(t, result.Deferred)
	assert.Equal(t, domain.Stream(other), a.SrcObject())
	assert.Zero(t, h.ctrl.Pending())
	h.capture.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
}

func TestStreamController_AdoptsExistingStream(t *testing.T) {
	capture := &MockCaptureRequester{}
	existing := newFakeStream("existing")
	caps := Capabilities{Capture: capture}

	opts, err := NormalizeOptions(caps, existing)
	require.NoError(t, err)
	ctrl, err := NewStreamController(caps, opts, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	assert.Equal(t, domain.StateCapturing, ctrl.State())
	a := newFakeElement("a")
	ctrl.Render(context.Background(), Surfaces(a))
	assert.Equal(t, domain.Stream(existing), a.SrcObject())
	assert.False(t, a.options().Muted)

	ctrl.Start(context.Background())
	capture.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)

	stopped := make(chan struct{}, 1)
	ctrl.OnStop(func() { stopped <- struct{}{} })
	existing.end(nil)
	receive(t, stopped)
	assert.Equal(t, domain.StateIdle, ctrl.State())
}

func TestStreamController_DisposedListenerIsSilent(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)

	var calls atomic.Int32
	dispose := h.ctrl.OnStreamChanged(func(domain.Stream) { calls.Add(1) })
	dispose()
	dispose()

	startAndWait(t, h.ctrl)
	assert.Zero(t, calls.Load())
}

func TestStreamController_ListenerMayReenter(t *testing.T) {
	h := newHarness(t, idleOptions())
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(newFakeStream("s1"), nil)
	a := newFakeElement("a")

	h.ctrl.OnStart(func(domain.Stream) {
		h.ctrl.Render(context.Background(), Surfaces(a))
	})
	startAndWait(t, h.ctrl)

	assert.Eventually(t, a.showing, waitTimeout, 5*time.Millisecond)
}

func TestStreamController_OptionListenersSeeAutoStart(t *testing.T) {
	capture := &MockCaptureRequester{}
	s1 := newFakeStream("s1")
	capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil)

	started := make(chan domain.Stream, 1)
	changed := make(chan domain.Stream, 1)
	opts := DefaultOptions()
	opts.OnStart = func(s domain.Stream) { started <- s }
	opts.OnStreamChanged = func(s domain.Stream) { changed <- s }

	_, err := NewStreamController(Capabilities{Capture: capture}, opts, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.Stream(s1), receive(t, started))
	assert.Equal(t, domain.Stream(s1), receive(t, changed))
}

func TestStreamController_OptionErrorListenerSeesAutoStartFailure(t *testing.T) {
	capture := &MockCaptureRequester{}
	capture.On("Capture", mock.Anything, mock.Anything).Return(nil, domain.ErrNoDevice)

	failed := make(chan error, 1)
	opts := DefaultOptions()
	opts.OnError = func(err error) { failed <- err }

	ctrl, err := NewStreamController(Capabilities{Capture: capture}, opts, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, receive(t, failed), domain.ErrNoDevice)
	assert.Nil(t, ctrl.Stream())
}

func TestStreamController_SubscribeAfterConstructionWhileCaptureInFlight(t *testing.T) {
	capture := &MockCaptureRequester{}
	s1 := newFakeStream("s1")
	gate := make(chan struct{})
	capture.On("Capture", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-gate }).
		Return(s1, nil)

	ctrl, err := NewStreamController(Capabilities{Capture: capture}, DefaultOptions(), nil, nil)
	require.NoError(t, err)

	started := make(chan domain.Stream, 1)
	ctrl.OnStart(func(s domain.Stream) { started <- s })
	close(gate)

	assert.Equal(t, domain.Stream(s1), receive(t, started))
}

func TestStreamController_FailedRebindIsRetained(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	s2 := newFakeStream("s2")
	s3 := newFakeStream("s3")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s2, nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s3, nil).Once()
	a := newFakeElement("a")

	startAndWait(t, h.ctrl)
	h.ctrl.Render(context.Background(), Surfaces(a))
	before := h.ctrl.Bindings()
	require.Len(t, before, 1)
	h.ctrl.Stop(context.Background())

	// neither direct attachment nor the object url fallback works this session
	a.noSrcObject = true
	h.urls.fail = true
	startAndWait(t, h.ctrl)

	assert.False(t, a.showing())
	require.Len(t, h.ctrl.Bindings(), 1)
	h.ctrl.Stop(context.Background())
	assert.True(t, h.ctrl.RebindArmed())

	a.noSrcObject = false
	h.urls.fail = false
	startAndWait(t, h.ctrl)

	assert.Equal(t, domain.Stream(s3), a.SrcObject())
	after := h.ctrl.Bindings()
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
}

func TestStreamController_CreatedElementIsNotBoundTwice(t *testing.T) {
	h := newHarness(t, idleOptions())
	s1 := newFakeStream("s1")
	s2 := newFakeStream("s2")
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s1, nil).Once()
	h.capture.On("Capture", mock.Anything, mock.Anything).Return(s2, nil).Once()
	box := &fakeContainer{id: "box"}

	startAndWait(t, h.ctrl)
	h.ctrl.Render(context.Background(), Surfaces(box))
	require.Len(t, h.elements.created, 1)
	created := h.elements.created[0]

	// a broad selector later matches the element created inside the container
	result := h.ctrl.Render(context.Background(), Surfaces(created), WithMuted(false))
	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.BindAttached, result.Results[0].Outcome)

	bindings := h.ctrl.Bindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, domain.Surface(box), bindings[0].Surface)
	assert.Equal(t, domain.MediaElement(created), bindings[0].Element)
	assert.False(t, created.options().Muted)

	h.ctrl.Stop(context.Background())
	startAndWait(t, h.ctrl)

	assert.Len(t, h.ctrl.Bindings(), 1)
	assert.Equal(t, domain.Stream(s2), created.SrcObject())
	assert.Equal(t, 1, box.childCount())
}
