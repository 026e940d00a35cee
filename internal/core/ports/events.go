package ports

import (
	"context"
	"time"

	"localmedia/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
}

type ControllerMetrics interface {
	RecordCapture(result string, duration time.Duration)
	SetCapturing(capturing bool)
	SetBindings(count int)
	RecordBind(outcome domain.BindOutcome)
	RecordDeferredRender()
}
