package domain

import "errors"

var (
	ErrCaptureFailed          = errors.New("unable to capture requested media")
	ErrPermissionDenied       = errors.New("permission to capture denied")
	ErrNoDevice               = errors.New("no capture device available")
	ErrConstraintsUnsatisfied = errors.New("constraints cannot be satisfied")
	ErrNoStream               = errors.New("capture resolved without a stream")
	ErrDeviceBusy             = errors.New("capture device leased by another controller")

	ErrAttachUnsupported = errors.New("direct stream attachment unsupported")
	ErrAttachFailed      = errors.New("unable to attach stream to surface")
	ErrInvalidTarget     = errors.New("surface is neither a media element nor a container")
	ErrNoResolver        = errors.New("no surface resolver configured")
	ErrSurfaceNotFound   = errors.New("surface not found")
	ErrInvalidSelector   = errors.New("unsupported selector")
	ErrAutoplayBlocked   = errors.New("playback blocked")
)

// CaptureError is the single error reported for any capture failure. Its message
// is deliberately generic; the platform cause stays reachable through errors.Is
// and errors.As.
type CaptureError struct {
	Cause error
}

func (e *CaptureError) Error() string {
	return ErrCaptureFailed.Error()
}

func (e *CaptureError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCaptureFailed}
	}
	return []error{ErrCaptureFailed, e.Cause}
}

// CaptureReason classifies a capture failure. It returns ErrCaptureFailed when
// the cause matches no known reason.
func CaptureReason(err error) error {
	for _, reason := range []error{ErrPermissionDenied, ErrNoDevice, ErrConstraintsUnsatisfied, ErrNoStream, ErrDeviceBusy} {
		if errors.Is(err, reason) {
			return reason
		}
	}
	return ErrCaptureFailed
}
