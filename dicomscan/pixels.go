package dicomscan

import (
	_ "image/jpeg"
	"os"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/stevecastle/dicomalbum/imaging"
	"github.com/stevecastle/dicomalbum/metadata"
)

// LoadFrame implements imaging.FrameSource: it decodes the first frame of
// path in modality units and returns the window stored in the file, if both
// WindowCenter and WindowWidth are present.
func (e *Extractor) LoadFrame(path string) (*imaging.Frame, *imaging.Window, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, errors.Wrap(err, "stat")
	}
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrUnreadableFile, "%s: %v", path, err)
	}

	el, err := ds.FindElementByTag(tagPixelData)
	if err != nil || el == nil || el.Value == nil {
		return nil, nil, imaging.ErrNoPixelData
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, nil, imaging.ErrNoPixelData
	}
	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode frame")
	}

	slope, ok := firstFloat(ds, tagRescaleSlope)
	if !ok {
		slope = 1
	}
	intercept, _ := firstFloat(ds, tagRescaleIntercept)

	frame := imaging.FrameFromImage(img, slope, intercept)

	var win *imaging.Window
	center, okC := firstFloat(ds, fieldTags["WindowCenter"])
	width, okW := firstFloat(ds, fieldTags["WindowWidth"])
	if okC && okW {
		win = &imaging.Window{Center: center, Width: width}
	}
	return frame, win, nil
}

// firstFloat returns the first value of a numeric element.
func firstFloat(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return 0, false
	}
	return convertValue(el.RawValueRepresentation, el.Value.GetValue()).First().Float()
}

// DefaultWindow returns the window recorded in an extracted record.
func DefaultWindow(rec metadata.Record) *imaging.Window {
	c, okC := rec.Get("WindowCenter").First().Float()
	w, okW := rec.Get("WindowWidth").First().Float()
	if !okC || !okW {
		return nil
	}
	return &imaging.Window{Center: c, Width: w}
}
