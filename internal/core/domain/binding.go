package domain

import (
	"errors"
	"time"
)

type BindingID string

type BindOptions struct {
	Muted               bool `json:"muted"`
	PreserveAspectRatio bool `json:"preserve_aspect_ratio"`
}

func DefaultBindOptions() BindOptions {
	return BindOptions{Muted: true, PreserveAspectRatio: true}
}

// Binding records that a surface is (or was most recently) attached to the
// controller's stream. Element is the media element that actually carries the
// stream; it equals Surface unless Surface is a container.
type Binding struct {
	ID      BindingID
	Surface Surface
	Element MediaElement
	Options BindOptions
	BoundAt time.Time
}

type BindOutcome string

const (
	BindAttached BindOutcome = "attached"
	BindDegraded BindOutcome = "degraded"
	BindFailed   BindOutcome = "failed"
)

// BindResult describes a single bind attempt.
type BindResult struct {
	Surface   Surface
	Element   MediaElement
	BindingID BindingID
	Outcome   BindOutcome
	// Reference is the object URL used when the direct mechanism was unavailable.
	Reference string
	// Err explains a degraded or failed outcome.
	Err error
	// PlaybackErr is set when the element is bound but refused to start playing.
	PlaybackErr error
}

// RenderResult aggregates the bind attempts of one render call. A deferred render
// has no results yet; Ticket identifies it in the pending queue.
type RenderResult struct {
	Deferred bool
	Ticket   uint64
	Results  []BindResult
}

func (r RenderResult) Count(outcome BindOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed attempt, or returns nil.
func (r RenderResult) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Outcome == BindFailed && res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
