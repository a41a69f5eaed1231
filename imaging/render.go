package imaging

import (
	"github.com/pkg/errors"
)

// FrameSource loads the first pixel frame of a file along with the window
// stored in the file, if any.
type FrameSource interface {
	LoadFrame(path string) (*Frame, *Window, error)
}

// Renderer produces PNG bytes for files read through a FrameSource.
type Renderer struct {
	src    FrameSource
	maxDim int
}

// NewRenderer returns a Renderer. maxDim bounds the output size; zero leaves
// frames at native resolution.
func NewRenderer(src FrameSource, maxDim int) *Renderer {
	return &Renderer{src: src, maxDim: maxDim}
}

// Render windows the file's first frame and encodes it as PNG. A missing
// center or width is taken from the file; when neither source supplies both,
// the frame is min/max normalized.
func (r *Renderer) Render(path string, center, width *float64) ([]byte, error) {
	frame, stored, err := r.src.LoadFrame(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load frame %s", path)
	}
	img := frame.Gray(ResolveWindow(stored, center, width))
	return EncodePNG(Fit(img, r.maxDim))
}

// Thumbnail renders the file with its default window scaled to width.
func (r *Renderer) Thumbnail(path string, width uint) ([]byte, error) {
	frame, stored, err := r.src.LoadFrame(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load frame %s", path)
	}
	return EncodePNG(Thumbnail(frame.Gray(stored), width))
}

// ResolveWindow merges requested window values over the stored ones.
func ResolveWindow(stored *Window, center, width *float64) *Window {
	var c, w *float64
	if stored != nil {
		sc, sw := stored.Center, stored.Width
		c, w = &sc, &sw
	}
	if center != nil {
		c = center
	}
	if width != nil {
		w = width
	}
	if c == nil || w == nil {
		return nil
	}
	return &Window{Center: *c, Width: *w}
}
