package album

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/store"
)

// Names of the export files written next to an album's dicom directory. They
// are snapshots for offline use; the store stays authoritative.
const (
	MetadataFile = "metadata.json"
	FilesCSV     = "files.csv"
)

func writeExports(albumDir string, a store.Album, files []store.AlbumFile) error {
	blob, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode album metadata")
	}
	if err := os.WriteFile(filepath.Join(albumDir, MetadataFile), blob, 0644); err != nil {
		return errors.Wrap(err, "write album metadata")
	}
	return writeCSV(filepath.Join(albumDir, FilesCSV), files)
}

// writeCSV writes one row per file. Columns are the union of metadata keys
// plus the two path columns; null values are written as empty cells.
func writeCSV(path string, files []store.AlbumFile) error {
	recs := make([]metadata.Record, len(files))
	for i, f := range files {
		recs[i] = f.Record()
	}
	tbl := metadata.NewTable(recs)

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create files csv")
	}
	w := csv.NewWriter(out)
	cols := tbl.Columns()
	if err := w.Write(cols); err != nil {
		out.Close()
		return errors.Wrap(err, "write csv header")
	}
	row := make([]string, len(cols))
	for i := 0; i < tbl.Len(); i++ {
		rec := tbl.Row(i)
		for j, c := range cols {
			v := rec.Get(c)
			if v.IsNull() {
				row[j] = ""
			} else {
				row[j] = v.Text()
			}
		}
		if err := w.Write(row); err != nil {
			out.Close()
			return errors.Wrap(err, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return errors.Wrap(err, "flush csv")
	}
	return errors.Wrap(out.Close(), "close files csv")
}
