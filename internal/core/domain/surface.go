package domain

type SurfaceID string

type ElementKind string

const (
	ElementVideo ElementKind = "video"
	ElementAudio ElementKind = "audio"
)

// Surface is a presentation target. Selectors are resolved to surfaces before
// anything is bound.
type Surface interface {
	SurfaceID() SurfaceID
}

// MediaElement is a surface that can display or play a stream itself.
type MediaElement interface {
	Surface
	Kind() ElementKind
	Configure(opts BindOptions)

	// SetSrcObject attaches a stream directly. Elements without a direct
	// mechanism return ErrAttachUnsupported. A nil stream clears the source object.
	SetSrcObject(stream Stream) error
	SrcObject() Stream

	// SetSrc points the element at a displayable reference such as an object URL.
	SetSrc(ref string) error
	Src() string
	CurrentSrc() string

	// Load re-resolves the current source from src and the source object.
	Load()
	Play() error
}

// Container is a surface that cannot play media but can host a created element.
type Container interface {
	Surface
	AppendChild(el MediaElement) error
}
