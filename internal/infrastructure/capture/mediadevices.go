package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"localmedia/internal/core/domain"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// MediaDevicesRequester captures from local devices through pion/mediadevices.
// Drivers register themselves by blank import, so the binary decides which
// device kinds are available.
type MediaDevicesRequester struct {
	logger    *zap.SugaredLogger
	enumerate func() []mediadevices.MediaDeviceInfo
	open      func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

func NewMediaDevicesRequester(logger *zap.SugaredLogger) *MediaDevicesRequester {
	return &MediaDevicesRequester{
		logger:    logger,
		enumerate: mediadevices.EnumerateDevices,
		open:      mediadevices.GetUserMedia,
	}
}

func (r *MediaDevicesRequester) ListDevices() ([]domain.Device, error) {
	devices := r.enumerate()
	result := make([]domain.Device, 0, len(devices))
	for _, device := range devices {
		result = append(result, domain.Device{
			ID:    device.DeviceID,
			Label: device.Label,
			Kind:  deviceKind(device.Kind),
		})
	}
	return result, nil
}

func (r *MediaDevicesRequester) Capture(ctx context.Context, constraints domain.Constraints) (domain.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.checkDevices(constraints); err != nil {
		return nil, err
	}

	ms, err := r.open(toMediaStreamConstraints(constraints))
	if err != nil {
		r.logger.Debugw("getUserMedia failed", "error", err)
		return nil, classify(err)
	}

	stream := newMediaStream(ms)
	if constraints.Video && !stream.HasVideo() {
		_ = stream.Stop()
		return nil, fmt.Errorf("%w: no video track produced", domain.ErrConstraintsUnsatisfied)
	}

	r.logger.Debugw("media stream opened",
		"stream_id", stream.ID(),
		"video", stream.HasVideo(),
		"audio", stream.HasAudio(),
	)
	return stream, nil
}

func (r *MediaDevicesRequester) checkDevices(constraints domain.Constraints) error {
	var video, audio bool
	for _, device := range r.enumerate() {
		switch device.Kind {
		case mediadevices.VideoInput:
			video = true
		case mediadevices.AudioInput:
			audio = true
		}
	}
	if constraints.Video && !video {
		return fmt.Errorf("%w: video input", domain.ErrNoDevice)
	}
	if constraints.Audio && !audio {
		return fmt.Errorf("%w: audio input", domain.ErrNoDevice)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrConstraintsUnsatisfied, err)
}

func toMediaStreamConstraints(c domain.Constraints) mediadevices.MediaStreamConstraints {
	var out mediadevices.MediaStreamConstraints
	if c.Video {
		out.Video = trackOption(c.VideoTrack, true)
	}
	if c.Audio {
		out.Audio = trackOption(c.AudioTrack, false)
	}
	return out
}

func trackOption(t domain.TrackConstraints, video bool) mediadevices.MediaOption {
	return func(mc *mediadevices.MediaTrackConstraints) {
		if t.DeviceID != "" {
			mc.DeviceID = prop.String(t.DeviceID)
		}
		if !video {
			return
		}
		if t.Width > 0 {
			mc.Width = prop.Int(t.Width)
		}
		if t.Height > 0 {
			mc.Height = prop.Int(t.Height)
		}
		if t.FrameRate > 0 {
			mc.FrameRate = prop.Float(t.FrameRate)
		}
	}
}

func deviceKind(kind mediadevices.MediaDeviceType) string {
	switch kind {
	case mediadevices.VideoInput:
		return "videoinput"
	case mediadevices.AudioInput:
		return "audioinput"
	case mediadevices.AudioOutput:
		return "audiooutput"
	default:
		return "unknown"
	}
}
