package domain

import "fmt"

// TrackConstraints narrows the device or format used for one kind of media.
// Zero values leave the choice to the platform.
type TrackConstraints struct {
	DeviceID  string  `yaml:"device_id" json:"device_id,omitempty"`
	Width     int     `yaml:"width" json:"width,omitempty"`
	Height    int     `yaml:"height" json:"height,omitempty"`
	FrameRate float64 `yaml:"frame_rate" json:"frame_rate,omitempty"`
}

// Constraints describes what media to capture.
type Constraints struct {
	Video      bool             `yaml:"video" json:"video"`
	Audio      bool             `yaml:"audio" json:"audio"`
	VideoTrack TrackConstraints `yaml:"video_track" json:"video_track"`
	AudioTrack TrackConstraints `yaml:"audio_track" json:"audio_track"`
}

// DefaultConstraints requests video only.
func DefaultConstraints() Constraints {
	return Constraints{Video: true}
}

func (c Constraints) Validate() error {
	if !c.Video && !c.Audio {
		return fmt.Errorf("%w: neither video nor audio requested", ErrConstraintsUnsatisfied)
	}
	for kind, t := range map[string]TrackConstraints{"video": c.VideoTrack, "audio": c.AudioTrack} {
		if t.Width < 0 || t.Height < 0 {
			return fmt.Errorf("%w: %s dimensions must be >= 0", ErrConstraintsUnsatisfied, kind)
		}
		if t.FrameRate < 0 {
			return fmt.Errorf("%w: %s frame rate must be >= 0", ErrConstraintsUnsatisfied, kind)
		}
	}
	return nil
}
