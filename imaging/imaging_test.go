package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrayWindowing(t *testing.T) {
	f := &Frame{Width: 4, Height: 1, Pix: []float64{-100, 0, 50, 400}}

	tests := []struct {
		name string
		win  *Window
		want []uint8
	}{
		{"window clips and scales", &Window{Center: 50, Width: 100}, []uint8{0, 0, 127, 255}},
		{"min max normalize", nil, []uint8{0, 51, 76, 255}},
		{"zero width falls back to min max", &Window{Center: 10, Width: 0}, []uint8{0, 51, 76, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Gray(tt.win).Pix)
		})
	}
}

func TestGrayFlatFrameIsBlack(t *testing.T) {
	f := &Frame{Width: 2, Height: 2, Pix: []float64{7, 7, 7, 7}}
	assert.Equal(t, []uint8{0, 0, 0, 0}, f.Gray(nil).Pix)
}

func TestFrameFromImageAppliesRescale(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 2, 1))
	img.SetGray16(0, 0, color.Gray16{Y: 1000})
	img.SetGray16(1, 0, color.Gray16{Y: 2000})

	f := FrameFromImage(img, 1, -1024)
	assert.Equal(t, []float64{-24, 976}, f.Pix)

	f = FrameFromImage(img, 0, 0)
	assert.Equal(t, []float64{1000, 2000}, f.Pix, "zero slope is treated as identity")
}

func TestResolveWindow(t *testing.T) {
	c, w := 40.0, 400.0
	stored := &Window{Center: 50, Width: 350}

	assert.Nil(t, ResolveWindow(nil, nil, nil))
	assert.Nil(t, ResolveWindow(nil, &c, nil))
	assert.Equal(t, &Window{Center: 40, Width: 400}, ResolveWindow(nil, &c, &w))
	assert.Equal(t, &Window{Center: 50, Width: 350}, ResolveWindow(stored, nil, nil))
	assert.Equal(t, &Window{Center: 40, Width: 350}, ResolveWindow(stored, &c, nil))
}

func TestFitAndThumbnail(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 200, 100))

	fit := Fit(img, 50)
	assert.Equal(t, 50, fit.Bounds().Dx())
	assert.Equal(t, 25, fit.Bounds().Dy())
	assert.Same(t, img, Fit(img, 0))

	thumb := Thumbnail(img, 64)
	assert.Equal(t, 64, thumb.Bounds().Dx())
	assert.Equal(t, 32, thumb.Bounds().Dy())
	assert.Same(t, img, Thumbnail(img, 400))
}

type stubSource struct {
	frame *Frame
	win   *Window
	err   error
}

func (s stubSource) LoadFrame(string) (*Frame, *Window, error) {
	return s.frame, s.win, s.err
}

func TestRendererRender(t *testing.T) {
	src := stubSource{
		frame: &Frame{Width: 2, Height: 1, Pix: []float64{0, 100}},
		win:   &Window{Center: 50, Width: 100},
	}
	r := NewRenderer(src, 0)

	data, err := r.Render("x.dcm", nil, nil)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	url := DataURL(data)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	_, err = NewRenderer(stubSource{err: ErrNoPixelData}, 0).Render("x.dcm", nil, nil)
	assert.True(t, errors.Is(err, ErrNoPixelData))
}
