package monitoring

import (
	"context"
	"sync"
	"time"
)

// Probe returns nil while the dependency it watches is usable.
type Probe func(ctx context.Context) error

type CheckStatus string

const (
	StatusHealthy   CheckStatus = "healthy"
	StatusDegraded  CheckStatus = "degraded"
	StatusUnhealthy CheckStatus = "unhealthy"
)

const defaultProbeTimeout = 5 * time.Second

type dependency struct {
	name     string
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	optional bool
}

// CheckResult is the outcome of one probe run.
type CheckResult struct {
	Healthy    bool      `json:"healthy"`
	Error      string    `json:"error,omitempty"`
	Optional   bool      `json:"optional,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Report aggregates the latest results. A failing required dependency makes
// it unhealthy; failing optional ones only degrade it.
type Report struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Ready reports whether the process can serve capture requests.
func (r Report) Ready() bool {
	return r.Status != StatusUnhealthy
}

// HealthChecker probes the dependencies a controller relies on (capture
// devices, Redis) on demand for /ready and, optionally, in the background.
type HealthChecker struct {
	mu   sync.RWMutex
	deps []dependency
	last map[string]CheckResult
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{last: make(map[string]CheckResult)}
}

// Register adds a required dependency.
func (h *HealthChecker) Register(name string, probe Probe, interval, timeout time.Duration) {
	h.add(dependency{name: name, probe: probe, interval: interval, timeout: timeout})
}

// RegisterOptional adds a dependency whose failure degrades but does not fail readiness.
func (h *HealthChecker) RegisterOptional(name string, probe Probe, interval, timeout time.Duration) {
	h.add(dependency{name: name, probe: probe, interval: interval, timeout: timeout, optional: true})
}

func (h *HealthChecker) add(d dependency) {
	if d.timeout <= 0 {
		d.timeout = defaultProbeTimeout
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, d)
}

func (h *HealthChecker) dependencies() []dependency {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]dependency(nil), h.deps...)
}

// Check runs every probe concurrently and returns the aggregated report.
func (h *HealthChecker) Check(ctx context.Context) Report {
	deps := h.dependencies()

	var wg sync.WaitGroup
	for _, d := range deps {
		wg.Add(1)
		go func(d dependency) {
			defer wg.Done()
			h.probe(ctx, d)
		}(d)
	}
	wg.Wait()

	return h.Last()
}

// Last builds a report from the most recent result of every probe without
// running any. Probes that never ran count as failed.
func (h *HealthChecker) Last() Report {
	deps := h.dependencies()

	h.mu.RLock()
	defer h.mu.RUnlock()
	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(deps)),
	}
	for _, d := range deps {
		res, ok := h.last[d.name]
		if !ok {
			res = CheckResult{Error: "not checked yet", Optional: d.optional}
		}
		report.Checks[d.name] = res
		if res.Healthy {
			continue
		}
		if d.optional {
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		} else {
			report.Status = StatusUnhealthy
		}
	}
	return report
}

func (h *HealthChecker) probe(ctx context.Context, d dependency) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	began := time.Now()
	err := d.probe(probeCtx)
	res := CheckResult{
		Healthy:    err == nil,
		Optional:   d.optional,
		CheckedAt:  began,
		DurationMS: time.Since(began).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
	}

	h.mu.Lock()
	h.last[d.name] = res
	h.mu.Unlock()
	return res
}

// StartBackgroundChecks re-probes every dependency with an interval until ctx
// is done, keeping Last current between /ready calls.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	for _, d := range h.dependencies() {
		if d.interval > 0 {
			go h.watch(ctx, d)
		}
	}
}

func (h *HealthChecker) watch(ctx context.Context, d dependency) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx, d)
		}
	}
}
