// Package ingest saves uploaded DICOM files, unpacking archives of them,
// into the uploads directory.
package ingest

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrNotAllowed = errors.New("file type not allowed")
	ErrTooLarge   = errors.New("upload exceeds size limit")
)

// DefaultMaxBytes matches the upload request limit.
const DefaultMaxBytes = 100 << 20

// archiveExpansion bounds the total bytes one archive may extract to, as a
// multiple of MaxBytes, unless MaxExtractBytes is set.
const archiveExpansion = 10

// Options configures an Ingester. Extensions are compared case-insensitively
// and without the leading dot. MaxBytes limits each uploaded file and each
// extracted archive entry; MaxExtractBytes limits one archive's total.
// Archives are staged in StagingDir, which defaults to Dir.
type Options struct {
	Dir             string
	StagingDir      string
	Extensions      []string
	Archives        bool
	MaxBytes        int64
	MaxExtractBytes int64
}

// Ingester writes uploads below Options.Dir.
type Ingester struct {
	opts    Options
	allowed map[string]bool
	log     zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Ingester {
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{"dcm"}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = archiveExpansion * opts.MaxBytes
	}
	if opts.StagingDir == "" {
		opts.StagingDir = opts.Dir
	}
	allowed := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return &Ingester{opts: opts, allowed: allowed, log: log}
}

// Allowed reports whether name has one of the accepted file extensions.
func (in *Ingester) Allowed(name string) bool {
	return in.allowed[ext(name)]
}

func (in *Ingester) isArchive(name string) bool {
	if !in.opts.Archives {
		return false
	}
	switch ext(name) {
	case "zip", "7z":
		return true
	}
	return false
}

// Accepts reports whether Save would take name.
func (in *Ingester) Accepts(name string) bool {
	return in.Allowed(name) || in.isArchive(name)
}

// Save writes one uploaded file and returns the paths of the DICOM files it
// produced: the file itself, or the allowed entries of an archive. Every call
// writes into its own batch directory below Options.Dir, so uploads sharing a
// name never overwrite each other.
func (in *Ingester) Save(name string, r io.Reader) ([]string, error) {
	safe := SecureFilename(name)
	if safe == "" || !in.Accepts(safe) {
		return nil, errors.Wrapf(ErrNotAllowed, "%q", name)
	}

	if !in.isArchive(safe) {
		batch, err := in.batchDir("")
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(batch, safe)
		if err := in.copyLimited(r, dest); err != nil {
			os.RemoveAll(batch)
			return nil, err
		}
		return []string{dest}, nil
	}

	if err := os.MkdirAll(in.opts.StagingDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create staging directory")
	}
	tmp, err := os.CreateTemp(in.opts.StagingDir, ".upload-*."+ext(safe))
	if err != nil {
		return nil, errors.Wrap(err, "create temp archive")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)
	if err := in.copyLimited(r, tmpPath); err != nil {
		return nil, err
	}

	dest, err := in.batchDir(strings.TrimSuffix(safe, filepath.Ext(safe)))
	if err != nil {
		return nil, err
	}
	lim := Limits{EntryBytes: in.opts.MaxBytes, TotalBytes: in.opts.MaxExtractBytes}
	var paths []string
	if ext(safe) == "zip" {
		paths, err = ExtractZip(tmpPath, dest, in.Allowed, lim)
	} else {
		paths, err = Extract7z(tmpPath, dest, in.Allowed, lim)
	}
	if err != nil {
		os.RemoveAll(dest)
		return nil, err
	}
	in.log.Info().Str("archive", safe).Int("files", len(paths)).Msg("archive extracted")
	return paths, nil
}

// batchDir creates a fresh directory below Options.Dir, named after stem when
// given.
func (in *Ingester) batchDir(stem string) (string, error) {
	id := uuid.NewString()[:8]
	if stem != "" {
		id = stem + "-" + id
	}
	dir := filepath.Join(in.opts.Dir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create upload batch directory")
	}
	return dir, nil
}

func (in *Ingester) copyLimited(r io.Reader, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	n, err := io.Copy(out, io.LimitReader(r, in.opts.MaxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return errors.Wrapf(err, "write %s", dest)
	}
	if n > in.opts.MaxBytes {
		os.Remove(dest)
		return errors.Wrapf(ErrTooLarge, "%s", filepath.Base(dest))
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SecureFilename reduces name to a safe base name: path components are
// dropped, whitespace becomes underscores and other unsafe characters are
// removed. Leading dots are trimmed so hidden files cannot be created.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.FromSlash(name))
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	return name
}

func ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
