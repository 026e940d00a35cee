package surfaces

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"localmedia/internal/core/domain"
)

// Container hosts created media elements. It cannot play media itself.
type Container struct {
	id      domain.SurfaceID
	classes []string

	mu       sync.Mutex
	children []*Element
}

func (c *Container) SurfaceID() domain.SurfaceID { return c.id }

func (c *Container) AppendChild(el domain.MediaElement) error {
	child, ok := el.(*Element)
	if !ok {
		return fmt.Errorf("container %s accepts only document elements, got %T", c.id, el)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = append(c.children, child)
	return nil
}

func (c *Container) Children() []*Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Element(nil), c.children...)
}

func (c *Container) snapshot() State {
	st := State{ID: c.id, Kind: "container", Classes: c.classes}
	for _, child := range c.Children() {
		st.Children = append(st.Children, child.id)
	}
	return st
}

// Document is the set of presentation surfaces known to the process. It
// resolves selectors and creates media elements for containers.
//
// Supported selectors: "#id", ".class", a tag ("video", "audio",
// "container"), "*", and comma separated lists of those.
type Document struct {
	mu      sync.RWMutex
	order   []domain.SurfaceID
	nodes   map[domain.SurfaceID]domain.Surface
	created int
}

func NewDocument() *Document {
	return &Document{nodes: make(map[domain.SurfaceID]domain.Surface)}
}

func (d *Document) AddElement(id domain.SurfaceID, kind domain.ElementKind, opts ...ElementOption) (*Element, error) {
	el := NewElement(id, kind, opts...)
	if err := d.add(el); err != nil {
		return nil, err
	}
	return el, nil
}

func (d *Document) AddContainer(id domain.SurfaceID, classes ...string) (*Container, error) {
	c := &Container{id: id, classes: classes}
	if err := d.add(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Document) add(s domain.Surface) error {
	id := s.SurfaceID()
	if id == "" {
		return fmt.Errorf("surface id must not be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.nodes[id]; exists {
		return fmt.Errorf("surface %q already exists", id)
	}
	d.nodes[id] = s
	d.order = append(d.order, id)
	return nil
}

// Get returns the surface with the given id.
func (d *Document) Get(id domain.SurfaceID) (domain.Surface, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSurfaceNotFound, id)
	}
	return s, nil
}

// CreateElement creates a media element and registers it so later selectors
// can find it.
func (d *Document) CreateElement(kind domain.ElementKind, opts domain.BindOptions) (domain.MediaElement, error) {
	d.mu.Lock()
	d.created++
	id := domain.SurfaceID(fmt.Sprintf("%s-%d", kind, d.created))
	d.mu.Unlock()

	el, err := d.AddElement(id, kind)
	if err != nil {
		return nil, err
	}
	el.Configure(opts)
	return el, nil
}

func (d *Document) Resolve(ctx context.Context, selector string) ([]domain.Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matchers []func(domain.Surface) bool
	for _, part := range strings.Split(selector, ",") {
		m, err := compile(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []domain.Surface
	for _, id := range d.order {
		s := d.nodes[id]
		for _, m := range matchers {
			if m(s) {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func compile(sel string) (func(domain.Surface) bool, error) {
	switch {
	case sel == "":
		return nil, fmt.Errorf("%w: empty", domain.ErrInvalidSelector)
	case sel == "*":
		return func(domain.Surface) bool { return true }, nil
	case strings.HasPrefix(sel, "#"):
		id := domain.SurfaceID(sel[1:])
		return func(s domain.Surface) bool { return s.SurfaceID() == id }, nil
	case strings.HasPrefix(sel, "."):
		class := sel[1:]
		return func(s domain.Surface) bool { return hasClass(s, class) }, nil
	case strings.ContainsAny(sel, " >+~[]:"):
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSelector, sel)
	default:
		tag := strings.ToLower(sel)
		return func(s domain.Surface) bool { return tagOf(s) == tag }, nil
	}
}

func hasClass(s domain.Surface, class string) bool {
	var classes []string
	switch v := s.(type) {
	case *Element:
		classes = v.classes
	case *Container:
		classes = v.classes
	}
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}

func tagOf(s domain.Surface) string {
	switch v := s.(type) {
	case *Element:
		return string(v.kind)
	case *Container:
		return "container"
	}
	return ""
}

// Snapshot lists the state of every surface in document order.
func (d *Document) Snapshot() []State {
	d.mu.RLock()
	nodes := make([]domain.Surface, 0, len(d.order))
	for _, id := range d.order {
		nodes = append(nodes, d.nodes[id])
	}
	d.mu.RUnlock()

	out := make([]State, 0, len(nodes))
	for _, s := range nodes {
		switch v := s.(type) {
		case *Element:
			out = append(out, v.Snapshot())
		case *Container:
			out = append(out, v.snapshot())
		}
	}
	return out
}

// Spec declares one surface, typically from configuration.
type Spec struct {
	ID                   string
	Kind                 string
	Classes              []string
	Legacy               bool
	BlockUnmutedAutoplay bool
}

// Declare adds every spec to the document.
func (d *Document) Declare(specs ...Spec) error {
	for _, spec := range specs {
		id := domain.SurfaceID(spec.ID)
		var err error
		switch spec.Kind {
		case "container":
			_, err = d.AddContainer(id, spec.Classes...)
		case string(domain.ElementVideo), string(domain.ElementAudio):
			opts := []ElementOption{WithClasses(spec.Classes...)}
			if spec.Legacy {
				opts = append(opts, Legacy())
			}
			if spec.BlockUnmutedAutoplay {
				opts = append(opts, BlockUnmutedAutoplay())
			}
			_, err = d.AddElement(id, domain.ElementKind(spec.Kind), opts...)
		default:
			err = fmt.Errorf("surface %q: unknown kind %q", spec.ID, spec.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
