package dicomscan

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/stevecastle/dicomalbum/metadata"
)

// AnonymizeFields are the identifying attributes replaced by default.
var AnonymizeFields = []string{
	"PatientName", "PatientID", "PatientBirthDate",
	"AccessionNumber", "ReferringPhysicianName",
}

var anonymizeTags = map[string]tag.Tag{
	"PatientName":            fieldTags["PatientName"],
	"PatientID":              fieldTags["PatientID"],
	"PatientBirthDate":       fieldTags["PatientBirthDate"],
	"AccessionNumber":        {Group: 0x0008, Element: 0x0050},
	"ReferringPhysicianName": {Group: 0x0008, Element: 0x0090},
}

// Replacement returns the anonymized stand-in for field.
func Replacement(field string) string {
	switch field {
	case "PatientName":
		return "ANONYMOUS"
	case "PatientID":
		return "ID000000"
	case "PatientBirthDate":
		return "19000101"
	default:
		return ""
	}
}

// Anonymize returns a copy of rec with identifying fields replaced. Only
// fields present with a value are touched; fields defaults to
// AnonymizeFields.
func Anonymize(rec metadata.Record, fields ...string) metadata.Record {
	if len(fields) == 0 {
		fields = AnonymizeFields
	}
	out := rec.Clone()
	for _, f := range fields {
		if v, ok := out[f]; ok && !v.IsNull() {
			out[f] = metadata.String(Replacement(f))
		}
	}
	return out
}

// AnonymizeFile rewrites the DICOM file at path in place with identifying
// elements replaced. The rewrite goes through a temp file in the same
// directory so a failed write leaves the original intact.
func AnonymizeFile(path string, fields ...string) error {
	if len(fields) == 0 {
		fields = AnonymizeFields
	}
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return errors.Wrapf(ErrUnreadableFile, "%s: %v", path, err)
	}

	byTag := make(map[tag.Tag]string, len(fields))
	for _, f := range fields {
		if t, ok := anonymizeTags[f]; ok {
			byTag[t] = Replacement(f)
		}
	}
	for i, el := range ds.Elements {
		repl, ok := byTag[el.Tag]
		if !ok {
			continue
		}
		ne, err := dicom.NewElement(el.Tag, []string{repl})
		if err != nil {
			return errors.Wrapf(err, "replace %s", el.Tag)
		}
		ds.Elements[i] = ne
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".anon-*.dcm")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := dicom.Write(tmp, ds); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write anonymized dataset")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "replace original")
}
