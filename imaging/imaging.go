// Package imaging turns decoded DICOM pixel frames into displayable PNGs.
package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
)

// ErrNoPixelData is returned when a file carries no renderable frame.
var ErrNoPixelData = errors.New("no pixel data")

// Frame is a single grayscale frame in modality units.
type Frame struct {
	Width  int
	Height int
	Pix    []float64 // row-major, len == Width*Height
}

// Window is a display window in modality units.
type Window struct {
	Center float64
	Width  float64
}

// FrameFromImage reads the luminance of img into a Frame, applying the
// modality rescale (value*slope + intercept).
func FrameFromImage(img image.Image, slope, intercept float64) *Frame {
	if slope == 0 {
		slope = 1
	}
	b := img.Bounds()
	f := &Frame{Width: b.Dx(), Height: b.Dy(), Pix: make([]float64, b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var raw float64
			switch im := img.(type) {
			case *image.Gray16:
				raw = float64(im.Gray16At(x, y).Y)
			case *image.Gray:
				raw = float64(im.GrayAt(x, y).Y)
			default:
				raw = float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			}
			f.Pix[i] = raw*slope + intercept
			i++
		}
	}
	return f
}

// Gray maps the frame to 8-bit grayscale. With a window, values are clipped
// to [center-width/2, center+width/2] and scaled to 0..255; without one the
// frame's own min/max range is used. A flat frame renders black.
func (f *Frame) Gray(win *Window) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	if len(f.Pix) == 0 {
		return out
	}

	var lo, hi float64
	if win != nil && win.Width > 0 {
		lo = win.Center - win.Width/2
		hi = win.Center + win.Width/2
	} else {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, v := range f.Pix {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if hi == lo {
		return out
	}

	for i, v := range f.Pix {
		v = math.Max(lo, math.Min(hi, v))
		out.Pix[i] = uint8((v - lo) / (hi - lo) * 255.0)
	}
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}

// DataURL wraps PNG bytes in a data: URL suitable for an <img> src.
func DataURL(pngBytes []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

// Thumbnail scales img to the given width, preserving aspect ratio.
func Thumbnail(img image.Image, width uint) image.Image {
	if width == 0 || uint(img.Bounds().Dx()) <= width {
		return img
	}
	return resize.Resize(width, 0, img, resize.Lanczos3)
}

// Fit shrinks img so neither side exceeds maxDim. Smaller images and a
// non-positive maxDim return img unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img
	}
	scale := float64(maxDim) / float64(max(b.Dx(), b.Dy()))
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
