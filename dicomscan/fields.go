package dicomscan

import (
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/stevecastle/dicomalbum/metadata"
)

// Fields lists the attributes extracted from every file, in column order.
var Fields = []string{
	"PatientID", "PatientName", "PatientBirthDate", "PatientSex",
	"StudyInstanceUID", "StudyDescription", "StudyDate", "StudyTime",
	"SeriesInstanceUID", "SeriesDescription", "Modality",
	"SOPInstanceUID", "InstanceNumber", "SliceLocation",
	"ImageType", "PixelSpacing", "WindowCenter", "WindowWidth",
}

var fieldTags = map[string]tag.Tag{
	"PatientID":         {Group: 0x0010, Element: 0x0020},
	"PatientName":       {Group: 0x0010, Element: 0x0010},
	"PatientBirthDate":  {Group: 0x0010, Element: 0x0030},
	"PatientSex":        {Group: 0x0010, Element: 0x0040},
	"StudyInstanceUID":  {Group: 0x0020, Element: 0x000D},
	"StudyDescription":  {Group: 0x0008, Element: 0x1030},
	"StudyDate":         {Group: 0x0008, Element: 0x0020},
	"StudyTime":         {Group: 0x0008, Element: 0x0030},
	"SeriesInstanceUID": {Group: 0x0020, Element: 0x000E},
	"SeriesDescription": {Group: 0x0008, Element: 0x103E},
	"Modality":          {Group: 0x0008, Element: 0x0060},
	"SOPInstanceUID":    {Group: 0x0008, Element: 0x0018},
	"InstanceNumber":    {Group: 0x0020, Element: 0x0013},
	"SliceLocation":     {Group: 0x0020, Element: 0x1041},
	"ImageType":         {Group: 0x0008, Element: 0x0008},
	"PixelSpacing":      {Group: 0x0028, Element: 0x0030},
	"WindowCenter":      {Group: 0x0028, Element: 0x1050},
	"WindowWidth":       {Group: 0x0028, Element: 0x1051},
}

var (
	tagRescaleIntercept = tag.Tag{Group: 0x0028, Element: 0x1052}
	tagRescaleSlope     = tag.Tag{Group: 0x0028, Element: 0x1053}
	tagPixelData        = tag.Tag{Group: 0x7FE0, Element: 0x0010}
)

// Columns is the table schema produced by a scan: Fields plus FilePath.
func Columns() []string {
	cols := make([]string, 0, len(Fields)+1)
	cols = append(cols, Fields...)
	return append(cols, metadata.FilePath)
}
