package services

import (
	"errors"
	"fmt"

	"localmedia/internal/core/domain"
	"localmedia/internal/core/ports"

	"go.uber.org/zap"
)

// binder performs the visual side of a binding: preparing a media element for
// a surface, attaching a stream to it and detaching it again.
type binder struct {
	elements ports.ElementFactory
	urls     ports.ObjectURLFactory
	logger   *zap.SugaredLogger
}

func newBinder(caps Capabilities, logger *zap.SugaredLogger) *binder {
	return &binder{
		elements: caps.Elements,
		urls:     caps.ObjectURLs,
		logger:   logger,
	}
}

// prepare returns the media element that will carry the stream for surface.
// Containers get a freshly created video element appended as a child.
func (b *binder) prepare(surface domain.Surface, opts domain.BindOptions) (domain.MediaElement, error) {
	if el, ok := surface.(domain.MediaElement); ok {
		el.Configure(opts)
		return el, nil
	}

	container, ok := surface.(domain.Container)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTarget, surface.SurfaceID())
	}
	if b.elements == nil {
		return nil, fmt.Errorf("%w: no element factory for container %s", domain.ErrAttachFailed, surface.SurfaceID())
	}

	el, err := b.elements.CreateElement(domain.ElementVideo, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: create element in %s: %v", domain.ErrAttachFailed, surface.SurfaceID(), err)
	}
	if err := container.AppendChild(el); err != nil {
		return nil, fmt.Errorf("%w: append to %s: %v", domain.ErrAttachFailed, surface.SurfaceID(), err)
	}
	return el, nil
}

// attach connects stream to el, falling back to an object URL when the element
// has no direct mechanism. Playback is attempted but never fails the attach.
func (b *binder) attach(stream domain.Stream, el domain.MediaElement) domain.BindResult {
	res := domain.BindResult{Surface: el, Element: el, Outcome: domain.BindAttached}

	if err := el.SetSrcObject(stream); err != nil {
		ref, ferr := b.fallback(stream, el)
		if ferr != nil {
			res.Outcome = domain.BindFailed
			res.Err = fmt.Errorf("%w: %s: %w", domain.ErrAttachFailed, el.SurfaceID(), errors.Join(err, ferr))
			b.logger.Debugw("bind failed", "element", el.SurfaceID(), "error", res.Err)
			return res
		}
		res.Outcome = domain.BindDegraded
		res.Reference = ref
		res.Err = err
		b.logger.Debugw("bound through object url", "element", el.SurfaceID(), "reference", ref, "reason", err)
	}

	if err := el.Play(); err != nil {
		res.PlaybackErr = err
		b.logger.Debugw("playback did not start", "element", el.SurfaceID(), "error", err)
	}
	return res
}

func (b *binder) fallback(stream domain.Stream, el domain.MediaElement) (string, error) {
	if b.urls == nil {
		return "", errors.New("no object url factory")
	}
	ref, err := b.urls.CreateObjectURL(stream)
	if err != nil {
		return "", err
	}
	if err := el.SetSrc(ref); err != nil {
		b.urls.RevokeObjectURL(ref)
		return "", err
	}
	return ref, nil
}

// detach clears every source reference el may hold. The element stays where it is.
func (b *binder) detach(el domain.MediaElement) {
	if err := el.SetSrcObject(nil); err != nil && !errors.Is(err, domain.ErrAttachUnsupported) {
		b.logger.Debugw("clearing source object failed", "element", el.SurfaceID(), "error", err)
	}
	if err := el.SetSrc(""); err != nil {
		b.logger.Debugw("clearing src failed", "element", el.SurfaceID(), "error", err)
	}
	el.Load()
}
