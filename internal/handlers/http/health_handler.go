package http

import (
	"context"
	"net/http"
	"time"

	"localmedia/internal/core/domain"
	"localmedia/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateReporter exposes the controller state for liveness output.
type StateReporter interface {
	Name() string
	State() domain.State
}

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	ctrl      StateReporter
	gatherer  prometheus.Gatherer
	startedAt time.Time
}

// NewHealthHandler serves /health, /ready and, with a non-nil gatherer, /metrics.
func NewHealthHandler(checker *monitoring.HealthChecker, ctrl StateReporter, gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		ctrl:      ctrl,
		gatherer:  gatherer,
		startedAt: time.Now(),
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now(),
		"uptime":     time.Since(h.startedAt).String(),
		"controller": h.ctrl.Name(),
		"state":      h.ctrl.State(),
	})
}

// Ready probes every dependency. A degraded report (optional dependency down)
// still answers 200.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := h.checker.Check(ctx)
	code := http.StatusOK
	if !report.Ready() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
