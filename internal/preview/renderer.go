package preview

import "errors"

// Placeholders shown instead of a preview when a request fails.
const (
	ServerErrorPlaceholder = `<div class="alert alert-danger">Error loading preview.</div>`
	UnreachablePlaceholder = `<div class="alert alert-danger">Could not connect to server for preview.</div>`
)

// Surface is the region that displays rendered markup.
type Surface interface {
	SetHTML(html string)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(html string)

func (f SurfaceFunc) SetHTML(html string) { f(html) }

// Markup returns what a surface should display for r.
func Markup(r Result) string {
	if r.OK() {
		return r.HTML
	}
	if errors.Is(r.Err, ErrPreviewServer) {
		return ServerErrorPlaceholder
	}
	return UnreachablePlaceholder
}

// IsPlaceholder reports whether html is one of the failure placeholders.
func IsPlaceholder(html string) bool {
	return html == ServerErrorPlaceholder || html == UnreachablePlaceholder
}

// Renderer writes results to a surface. Applying the same result twice
// leaves the surface unchanged.
type Renderer struct {
	surface Surface
}

func NewRenderer(surface Surface) *Renderer {
	return &Renderer{surface: surface}
}

// Apply replaces the surface content with the markup for r.
func (r *Renderer) Apply(result Result) {
	r.surface.SetHTML(Markup(result))
}
