package query

import (
	"strings"
	"time"

	"github.com/stevecastle/dicomalbum/metadata"
)

// DateLayout is the DICOM DA format.
const DateLayout = "20060102"

// DateRange returns rows whose field holds a YYYYMMDD date within
// [start, end] inclusive. Rows with unparsable dates are excluded; an unknown
// field or unparsable bound yields an empty view.
func DateRange(t *metadata.Table, field, start, end string) metadata.View {
	if !t.HasColumn(field) {
		return t.Empty()
	}
	from, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return t.Empty()
	}
	to, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return t.Empty()
	}

	var rows []int
	for i := 0; i < t.Len(); i++ {
		v := t.Row(i).Get(field)
		if v.Kind() != metadata.KindString {
			continue
		}
		d, err := time.Parse(DateLayout, strings.TrimSpace(v.Text()))
		if err != nil {
			continue
		}
		if !d.Before(from) && !d.After(to) {
			rows = append(rows, i)
		}
	}
	return metadata.NewView(t, rows)
}

// ModalityField is the column Modalities filters on.
const ModalityField = "Modality"

// Modalities returns rows whose Modality matches one of the given codes
// exactly. A table without a Modality column or an empty set yields an
// empty view.
func Modalities(t *metadata.Table, modalities []string) metadata.View {
	if !t.HasColumn(ModalityField) || len(modalities) == 0 {
		return t.Empty()
	}
	want := make(map[string]struct{}, len(modalities))
	for _, m := range modalities {
		want[m] = struct{}{}
	}

	var rows []int
	for i := 0; i < t.Len(); i++ {
		if _, ok := want[t.Row(i).Get(ModalityField).Text()]; ok {
			rows = append(rows, i)
		}
	}
	return metadata.NewView(t, rows)
}
