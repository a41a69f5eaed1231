package dicomscan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/stevecastle/dicomalbum/metadata"
)

func TestConvertValue(t *testing.T) {
	tests := []struct {
		name string
		vr   string
		raw  interface{}
		want metadata.Value
	}{
		{"person name", "PN", []string{"DOE^JOHN "}, metadata.String("DOE^JOHN")},
		{"decimal string", "DS", []string{"-12.5"}, metadata.Number(-12.5)},
		{"bad decimal string", "DS", []string{"n/a"}, metadata.String("n/a")},
		{"multi decimal", "DS", []string{"0.5", "0.5"}, metadata.List("0.5", "0.5")},
		{"code string", "CS", []string{"CT"}, metadata.String("CT")},
		{"multi code string", "CS", []string{"ORIGINAL", "PRIMARY"}, metadata.List("ORIGINAL", "PRIMARY")},
		{"integer string", "IS", []string{"12"}, metadata.String("12")},
		{"padded uid", "UI", []string{"1.2.3\x00"}, metadata.String("1.2.3")},
		{"empty", "LO", []string{}, metadata.String("")},
		{"ints", "US", []int{512}, metadata.String("512")},
		{"multi ints", "US", []int{1, 2}, metadata.List("1", "2")},
		{"floats", "FL", []float64{2}, metadata.String("2.0")},
		{"bytes", "OB", []byte("ab "), metadata.String("ab")},
		{"nil", "", nil, metadata.Null()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertValue(tt.vr, tt.raw)
			assert.Truef(t, tt.want.Equal(got), "got %s (%s), want %s (%s)", got.Text(), got.Kind(), tt.want.Text(), tt.want.Kind())
		})
	}
}

func TestColumns(t *testing.T) {
	cols := Columns()
	assert.Len(t, cols, 19)
	assert.Equal(t, metadata.FilePath, cols[len(cols)-1])
	for _, f := range Fields {
		_, ok := fieldTags[f]
		assert.Truef(t, ok, "no tag for %s", f)
	}
}

func TestAnonymize(t *testing.T) {
	rec := metadata.Record{
		"PatientName":      metadata.String("DOE^JOHN"),
		"PatientID":        metadata.String("12345"),
		"PatientBirthDate": metadata.String("19700101"),
		"PatientSex":       metadata.String("M"),
		"AccessionNumber":  metadata.String("A1"),
		"StudyDate":        metadata.Null(),
	}
	out := Anonymize(rec)
	assert.Equal(t, "ANONYMOUS", out.Get("PatientName").Text())
	assert.Equal(t, "ID000000", out.Get("PatientID").Text())
	assert.Equal(t, "19000101", out.Get("PatientBirthDate").Text())
	assert.Equal(t, "", out.Get("AccessionNumber").Text())
	assert.Equal(t, "M", out.Get("PatientSex").Text())
	_, added := out["ReferringPhysicianName"]
	assert.False(t, added, "absent fields stay absent")
	assert.Equal(t, "DOE^JOHN", rec.Get("PatientName").Text(), "input must not be mutated")

	only := Anonymize(rec, "PatientID")
	assert.Equal(t, "DOE^JOHN", only.Get("PatientName").Text())
	assert.Equal(t, "ID000000", only.Get("PatientID").Text())
}

func TestDefaultWindow(t *testing.T) {
	assert.Nil(t, DefaultWindow(metadata.Record{"WindowCenter": metadata.Number(40)}))
	w := DefaultWindow(metadata.Record{
		"WindowCenter": metadata.List("40", "300"),
		"WindowWidth":  metadata.Number(400),
	})
	require.NotNil(t, w)
	assert.Equal(t, 40.0, w.Center)
	assert.Equal(t, 400.0, w.Width)
}

func TestExtractRejectsNonDICOM(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("not a dicom file"), 0644))

	_, err := New(zerolog.Nop()).Extract(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadableFile))
}

func TestScanDirectorySkipsJunk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.dcm"), []byte("garbage"), 0644))

	tbl, err := New(zerolog.Nop()).ScanDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, Columns(), tbl.Columns())
}

func TestScanDirectoryMissingRoot(t *testing.T) {
	_, err := New(zerolog.Nop()).ScanDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestScanDirectoryCancelled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dcm"), []byte("x"), 0644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(zerolog.Nop()).ScanDirectory(ctx, dir)
	assert.Error(t, err)
}

// writeFixture synthesizes a minimal DICOM file, skipping the test when the
// encoder rejects the dataset.
func writeFixture(t *testing.T, path string) {
	t.Helper()
	el := func(tg tag.Tag, v interface{}) *dicom.Element {
		e, err := dicom.NewElement(tg, v)
		if err != nil {
			t.Skipf("cannot build element %s: %v", tg, err)
		}
		return e
	}
	ds := dicom.Dataset{Elements: []*dicom.Element{
		el(tag.Tag{Group: 0x0002, Element: 0x0002}, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		el(tag.Tag{Group: 0x0002, Element: 0x0003}, []string{"1.2.3.4"}),
		el(tag.Tag{Group: 0x0002, Element: 0x0010}, []string{"1.2.840.10008.1.2.1"}),
		el(fieldTags["Modality"], []string{"CT"}),
		el(fieldTags["PatientName"], []string{"DOE^JOHN"}),
		el(fieldTags["PatientID"], []string{"12345"}),
		el(fieldTags["SliceLocation"], []string{"-12.5"}),
		el(fieldTags["ImageType"], []string{"ORIGINAL", "PRIMARY"}),
	}}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	if err := dicom.Write(f, ds); err != nil {
		t.Skipf("cannot synthesize DICOM fixture: %v", err)
	}
}

func TestExtractAndAnonymizeFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "ct.dcm")
	writeFixture(t, p)

	x := New(zerolog.Nop())
	rec, err := x.Extract(p)
	require.NoError(t, err)
	assert.Equal(t, "CT", rec.Get("Modality").Text())
	assert.Equal(t, "DOE^JOHN", rec.Get("PatientName").Text())
	assert.True(t, metadata.Number(-12.5).Equal(rec.Get("SliceLocation")))
	assert.True(t, rec.Get("StudyDate").IsNull())
	assert.Equal(t, p, rec.Get(metadata.FilePath).Text())

	require.NoError(t, AnonymizeFile(p))
	rec, err = x.Extract(p)
	require.NoError(t, err)
	assert.Equal(t, "ANONYMOUS", rec.Get("PatientName").Text())
	assert.Equal(t, "ID000000", rec.Get("PatientID").Text())
	assert.Equal(t, "CT", rec.Get("Modality").Text())

	tbl, err := x.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())
}
