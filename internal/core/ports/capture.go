package ports

import (
	"context"

	"localmedia/internal/core/domain"
)

// CaptureRequester issues a platform capture request.
type CaptureRequester interface {
	Capture(ctx context.Context, constraints domain.Constraints) (domain.Stream, error)
}

// CaptureFunc adapts a plain function to CaptureRequester.
type CaptureFunc func(ctx context.Context, constraints domain.Constraints) (domain.Stream, error)

func (f CaptureFunc) Capture(ctx context.Context, constraints domain.Constraints) (domain.Stream, error) {
	return f(ctx, constraints)
}

// DeviceLister is implemented by requesters that can enumerate capture devices.
type DeviceLister interface {
	ListDevices() ([]domain.Device, error)
}
