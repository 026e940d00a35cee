package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"localmedia/internal/core/domain"
	"localmedia/internal/core/ports"
	"localmedia/internal/core/services"
	"localmedia/internal/infrastructure/surfaces"
	"localmedia/pkg/errors"
	"localmedia/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SurfaceDirectory resolves selectors and lists the surfaces it knows about.
type SurfaceDirectory interface {
	ports.SurfaceResolver
	Snapshot() []surfaces.State
}

// EventStream upgrades a request to a lifecycle event feed.
type EventStream interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// captureRules map capture and presentation failures onto API errors.
var captureRules = []errors.Rule{
	{Target: domain.ErrPermissionDenied, Code: errors.ErrCodePermissionDenied, HTTPStatus: http.StatusForbidden},
	{Target: domain.ErrNoDevice, Code: errors.ErrCodeNoDevice, HTTPStatus: http.StatusServiceUnavailable},
	{Target: domain.ErrConstraintsUnsatisfied, Code: errors.ErrCodeConstraints, HTTPStatus: http.StatusUnprocessableEntity},
	{Target: domain.ErrDeviceBusy, Code: errors.ErrCodeDeviceBusy, HTTPStatus: http.StatusConflict},
	{Target: domain.ErrNoStream, Code: errors.ErrCodeNoStream, HTTPStatus: http.StatusBadGateway},
	{Target: domain.ErrInvalidSelector, Code: errors.ErrCodeInvalidInput, HTTPStatus: http.StatusBadRequest},
	{Target: domain.ErrNoResolver, Code: errors.ErrCodeServiceUnavailable, HTTPStatus: http.StatusServiceUnavailable},
	{Target: domain.ErrSurfaceNotFound, Code: errors.ErrCodeSurfaceNotFound, HTTPStatus: http.StatusNotFound},
	{Target: domain.ErrInvalidTarget, Code: errors.ErrCodeInvalidSurface, HTTPStatus: http.StatusUnprocessableEntity},
	{Target: domain.ErrCaptureFailed, Code: errors.ErrCodeCaptureFailed, HTTPStatus: http.StatusBadGateway},
}

type CaptureHandler struct {
	ctrl        *services.StreamController
	surfaces    SurfaceDirectory
	devices     ports.DeviceLister
	events      EventStream
	waitTimeout time.Duration
}

func NewCaptureHandler(
	ctrl *services.StreamController,
	surfaces SurfaceDirectory,
	devices ports.DeviceLister,
	events EventStream,
	waitTimeout time.Duration,
) *CaptureHandler {
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	return &CaptureHandler{
		ctrl:        ctrl,
		surfaces:    surfaces,
		devices:     devices,
		events:      events,
		waitTimeout: waitTimeout,
	}
}

// SetupRoutes registers the control API on group, which carries any auth middleware.
func (h *CaptureHandler) SetupRoutes(group *gin.RouterGroup) {
	group.GET("/capture", h.GetCapture)
	group.POST("/capture/start", h.StartCapture)
	group.POST("/capture/stop", h.StopCapture)
	group.POST("/render", h.Render)
	group.DELETE("/render/:ticket", h.CancelRender)
	group.GET("/surfaces", h.ListSurfaces)
	group.GET("/devices", h.ListDevices)
	if h.events != nil {
		group.GET("/events", h.Events)
	}
}

type BindingView struct {
	ID      domain.BindingID   `json:"id"`
	Surface domain.SurfaceID   `json:"surface"`
	Element domain.SurfaceID   `json:"element"`
	Options domain.BindOptions `json:"options"`
	BoundAt time.Time          `json:"bound_at"`
}

type CaptureStatus struct {
	Controller  string             `json:"controller"`
	State       domain.State       `json:"state"`
	StreamID    domain.StreamID    `json:"stream_id,omitempty"`
	HasVideo    bool               `json:"has_video"`
	HasAudio    bool               `json:"has_audio"`
	Constraints domain.Constraints `json:"constraints"`
	Bindings    []BindingView      `json:"bindings"`
	Pending     int                `json:"pending_renders"`
	RebindArmed bool               `json:"rebind_armed"`
}

func (h *CaptureHandler) status() CaptureStatus {
	st := CaptureStatus{
		Controller:  h.ctrl.Name(),
		State:       h.ctrl.State(),
		Constraints: h.ctrl.Constraints(),
		Bindings:    []BindingView{},
		Pending:     h.ctrl.Pending(),
		RebindArmed: h.ctrl.RebindArmed(),
	}
	if s := h.ctrl.Stream(); s != nil {
		st.StreamID = s.ID()
		st.HasVideo = s.HasVideo()
		st.HasAudio = s.HasAudio()
	}
	for _, b := range h.ctrl.Bindings() {
		view := BindingView{
			ID:      b.ID,
			Surface: b.Surface.SurfaceID(),
			Options: b.Options,
			BoundAt: b.BoundAt,
		}
		if b.Element != nil {
			view.Element = b.Element.SurfaceID()
		}
		st.Bindings = append(st.Bindings, view)
	}
	return st
}

func (h *CaptureHandler) GetCapture(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

type StartRequest struct {
	Constraints *domain.Constraints `json:"constraints"`
}

// StartCapture requests a capture. With ?wait=true the response is held until
// the capture resolves (200 or a translated error); otherwise it returns 202.
func (h *CaptureHandler) StartCapture(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}
	var opts []services.StartOption
	if req.Constraints != nil {
		if err := req.Constraints.Validate(); err != nil {
			c.Error(errors.Translate(err, captureRules...))
			return
		}
		opts = append(opts, services.WithConstraints(*req.Constraints))
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		h.ctrl.Start(c.Request.Context(), opts...)
		c.JSON(http.StatusAccepted, h.status())
		return
	}

	if err := h.startAndWait(c.Request.Context(), opts); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.status())
}

func (h *CaptureHandler) startAndWait(ctx context.Context, opts []services.StartOption) error {
	done := make(chan error, 1)
	report := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	disposeStart := h.ctrl.OnStart(func(domain.Stream) { report(nil) })
	defer disposeStart()
	disposeErr := h.ctrl.OnError(report)
	defer disposeErr()

	if h.ctrl.State() == domain.StateCapturing {
		return nil
	}
	h.ctrl.Start(ctx, opts...)

	timer := time.NewTimer(h.waitTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return errors.Translate(err, captureRules...)
		}
		return nil
	case <-timer.C:
		return errors.NewTimeoutError("capture did not resolve in time")
	case <-ctx.Done():
		return errors.NewTimeoutError("request cancelled while waiting for capture")
	}
}

type StopRequest struct {
	// Forget drops binding records instead of replaying them on the next start.
	Forget bool `json:"forget"`
}

func (h *CaptureHandler) StopCapture(c *gin.Context) {
	var req StopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}
	var opts []services.StopOption
	if req.Forget {
		opts = append(opts, services.WithoutRebind())
	}
	h.ctrl.Stop(c.Request.Context(), opts...)
	c.JSON(http.StatusOK, h.status())
}

type RenderRequest struct {
	Selector            string `json:"selector" binding:"required,max=512"`
	Muted               *bool  `json:"muted"`
	PreserveAspectRatio *bool  `json:"preserve_aspect_ratio"`
}

type BindResultView struct {
	Surface       domain.SurfaceID   `json:"surface,omitempty"`
	Element       domain.SurfaceID   `json:"element,omitempty"`
	BindingID     domain.BindingID   `json:"binding_id,omitempty"`
	Outcome       domain.BindOutcome `json:"outcome"`
	Reference     string             `json:"reference,omitempty"`
	Error         string             `json:"error,omitempty"`
	PlaybackError string             `json:"playback_error,omitempty"`
}

type RenderResponse struct {
	Deferred bool             `json:"deferred"`
	Ticket   uint64           `json:"ticket,omitempty"`
	Results  []BindResultView `json:"results"`
}

// Render binds the current stream to the surfaces matching the selector. When
// no stream exists yet the render is queued and 202 carries its ticket.
func (h *CaptureHandler) Render(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("selector is required"))
		return
	}
	if err := validation.ValidateSelector(req.Selector); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	// resolve once up front so a bad selector is rejected instead of queued
	if _, err := h.surfaces.Resolve(c.Request.Context(), req.Selector); err != nil {
		c.Error(errors.Translate(err, captureRules...).WithContext("selector", req.Selector))
		return
	}

	var opts []services.RenderOption
	if req.Muted != nil {
		opts = append(opts, services.WithMuted(*req.Muted))
	}
	if req.PreserveAspectRatio != nil {
		opts = append(opts, services.WithPreserveAspectRatio(*req.PreserveAspectRatio))
	}

	result := h.ctrl.Render(c.Request.Context(), services.Selector(req.Selector), opts...)
	resp := RenderResponse{Deferred: result.Deferred, Ticket: result.Ticket, Results: []BindResultView{}}
	for _, r := range result.Results {
		resp.Results = append(resp.Results, bindResultView(r))
	}

	status := http.StatusOK
	if result.Deferred {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

func bindResultView(r domain.BindResult) BindResultView {
	v := BindResultView{BindingID: r.BindingID, Outcome: r.Outcome, Reference: r.Reference}
	if r.Surface != nil {
		v.Surface = r.Surface.SurfaceID()
	}
	if r.Element != nil {
		v.Element = r.Element.SurfaceID()
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	if r.PlaybackErr != nil {
		v.PlaybackError = r.PlaybackErr.Error()
	}
	return v
}

func (h *CaptureHandler) CancelRender(c *gin.Context) {
	ticket, err := strconv.ParseUint(c.Param("ticket"), 10, 64)
	if err != nil {
		c.Error(errors.NewInvalidInputError("ticket must be a positive integer"))
		return
	}
	if !h.ctrl.CancelRender(ticket) {
		c.Error(errors.NewNotFoundError("pending render"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CaptureHandler) ListSurfaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"surfaces": h.surfaces.Snapshot()})
}

func (h *CaptureHandler) ListDevices(c *gin.Context) {
	if h.devices == nil {
		c.Error(errors.NewServiceUnavailableError("capture backend cannot enumerate devices"))
		return
	}
	devices, err := h.devices.ListDevices()
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "device enumeration failed", http.StatusServiceUnavailable))
		return
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *CaptureHandler) Events(c *gin.Context) {
	h.events.HandleWebSocket(c.Writer, c.Request)
}
