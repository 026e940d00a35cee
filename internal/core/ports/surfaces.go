package ports

import (
	"context"

	"localmedia/internal/core/domain"
)

type SurfaceResolver interface {
	// Resolve returns the surfaces matching selector, possibly none.
	Resolve(ctx context.Context, selector string) ([]domain.Surface, error)
}

type ElementFactory interface {
	CreateElement(kind domain.ElementKind, opts domain.BindOptions) (domain.MediaElement, error)
}

// ObjectURLFactory turns a stream into a displayable reference for elements
// that cannot take a stream directly.
type ObjectURLFactory interface {
	CreateObjectURL(stream domain.Stream) (string, error)
	RevokeObjectURL(ref string)
}
