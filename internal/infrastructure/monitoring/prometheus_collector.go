package monitoring

import (
	"time"

	"localmedia/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	factory promauto.Factory

	// Counters
	captureRequests *prometheus.CounterVec
	bindAttempts    *prometheus.CounterVec
	deferredRenders *prometheus.CounterVec

	// Histograms
	captureDuration *prometheus.HistogramVec

	// Controller state
	capturing *prometheus.GaugeVec
	bindings  *prometheus.GaugeVec
}

// NewPrometheusCollector registers the controller metrics with reg. Passing a
// fresh registry per collector keeps repeated construction from panicking.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		factory: factory,

		captureRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmedia_capture_requests_total",
			Help: "Capture requests by result",
		}, []string{"controller", "result"}),

		bindAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmedia_bind_attempts_total",
			Help: "Surface bind attempts by outcome",
		}, []string{"controller", "outcome"}),

		deferredRenders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmedia_deferred_renders_total",
			Help: "Renders queued because no stream was available",
		}, []string{"controller"}),

		captureDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "localmedia_capture_duration_seconds",
			Help:    "Time from capture request to stream or failure",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"controller"}),

		capturing: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "localmedia_capturing",
			Help: "1 while the controller holds an active stream",
		}, []string{"controller"}),

		bindings: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "localmedia_bindings",
			Help: "Binding records retained by the controller",
		}, []string{"controller"}),
	}
}

// ObserveObjectURLs exports the number of live object URLs as reported by fn.
func (p *PrometheusCollector) ObserveObjectURLs(fn func() int) {
	p.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "localmedia_object_urls_live",
		Help: "Object URLs created and not yet revoked",
	}, func() float64 { return float64(fn()) })
}

// Controller returns the metrics sink for one named controller.
func (p *PrometheusCollector) Controller(name string) *ControllerMetrics {
	return &ControllerMetrics{collector: p, name: name}
}

// ControllerMetrics implements ports.ControllerMetrics for a single controller.
type ControllerMetrics struct {
	collector *PrometheusCollector
	name      string
}

func (m *ControllerMetrics) RecordCapture(result string, duration time.Duration) {
	m.collector.captureRequests.WithLabelValues(m.name, result).Inc()
	m.collector.captureDuration.WithLabelValues(m.name).Observe(duration.Seconds())
}

func (m *ControllerMetrics) SetCapturing(capturing bool) {
	v := 0.0
	if capturing {
		v = 1
	}
	m.collector.capturing.WithLabelValues(m.name).Set(v)
}

func (m *ControllerMetrics) SetBindings(count int) {
	m.collector.bindings.WithLabelValues(m.name).Set(float64(count))
}

func (m *ControllerMetrics) RecordBind(outcome domain.BindOutcome) {
	m.collector.bindAttempts.WithLabelValues(m.name, string(outcome)).Inc()
}

func (m *ControllerMetrics) RecordDeferredRender() {
	m.collector.deferredRenders.WithLabelValues(m.name).Inc()
}
