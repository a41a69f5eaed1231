// Package dicomscan reads DICOM files into metadata records and pixel frames.
package dicomscan

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"

	"github.com/stevecastle/dicomalbum/metadata"
)

// ErrUnreadableFile is returned when a file cannot be parsed as DICOM.
var ErrUnreadableFile = errors.New("unreadable DICOM file")

// Extractor reads the fixed attribute set from DICOM files.
type Extractor struct {
	log     zerolog.Logger
	workers int
}

// New returns an Extractor that parses up to GOMAXPROCS files at once
// during scans.
func New(log zerolog.Logger) *Extractor {
	return &Extractor{log: log, workers: runtime.GOMAXPROCS(0)}
}

// Extract parses one file, skipping pixel data, and returns its record with
// FilePath set.
func (e *Extractor) Extract(path string) (metadata.Record, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, errors.Wrapf(ErrUnreadableFile, "%s: %v", path, err)
	}
	rec := RecordFromDataset(ds)
	rec[metadata.FilePath] = metadata.String(path)
	return rec, nil
}

// RecordFromDataset converts the extracted attributes of ds. Absent
// attributes are explicit nulls.
func RecordFromDataset(ds dicom.Dataset) metadata.Record {
	rec := make(metadata.Record, len(Fields)+1)
	for _, name := range Fields {
		el, err := ds.FindElementByTag(fieldTags[name])
		if err != nil || el == nil || el.Value == nil {
			rec[name] = metadata.Null()
			continue
		}
		rec[name] = convertValue(el.RawValueRepresentation, el.Value.GetValue())
	}
	return rec
}

// convertValue maps a parsed element to a Value: person names become
// strings, single decimal strings become numbers, multi-valued elements
// become lists and everything else is rendered as a string.
func convertValue(vr string, raw interface{}) metadata.Value {
	switch v := raw.(type) {
	case []string:
		items := make([]string, len(v))
		for i, s := range v {
			items[i] = strings.TrimRight(s, " \x00")
		}
		switch {
		case vr == "PN":
			return metadata.String(strings.Join(items, "\\"))
		case len(items) == 0:
			return metadata.String("")
		case len(items) > 1:
			return metadata.List(items...)
		case vr == "DS":
			if f, err := metadata.ParseNumber(items[0]); err == nil {
				return metadata.Number(f)
			}
		}
		return metadata.String(strings.TrimSpace(items[0]))
	case []int:
		items := make([]string, len(v))
		for i, n := range v {
			items[i] = strconv.Itoa(n)
		}
		if len(items) == 1 {
			return metadata.String(items[0])
		}
		return metadata.List(items...)
	case []float64:
		items := make([]string, len(v))
		for i, f := range v {
			items[i] = metadata.FormatNumber(f)
		}
		if len(items) == 1 {
			return metadata.String(items[0])
		}
		return metadata.List(items...)
	case []byte:
		return metadata.String(strings.TrimRight(string(v), " \x00"))
	default:
		return metadata.Null()
	}
}

// ExtractFiles parses paths concurrently and returns their records in input
// order. Unreadable files are logged and skipped.
func (e *Extractor) ExtractFiles(ctx context.Context, paths []string) ([]metadata.Record, error) {
	results := make([]metadata.Record, len(paths))
	sem := make(chan struct{}, max(1, e.workers))
	var wg sync.WaitGroup

	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p string) {
			defer wg.Done()
			defer func() { <-sem }()
			rec, err := e.Extract(p)
			if err != nil {
				e.log.Debug().Err(err).Str("path", p).Msg("skipping non-DICOM file")
				return
			}
			results[i] = rec
		}(i, p)
	}
	wg.Wait()

	out := make([]metadata.Record, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// ScanDirectory walks root recursively and builds a table from every file
// that parses as DICOM.
func (e *Extractor) ScanDirectory(ctx context.Context, root string) (*metadata.Table, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			e.log.Warn().Err(err).Str("path", path).Msg("walk error")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", root)
	}

	recs, err := e.ExtractFiles(ctx, paths)
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("root", root).Int("files", len(paths)).Int("dicom", len(recs)).Msg("directory scanned")
	return metadata.NewTableWithColumns(Columns(), recs), nil
}

// Table builds a session table from records using the scan schema.
func Table(recs []metadata.Record) *metadata.Table {
	return metadata.NewTableWithColumns(Columns(), recs)
}
