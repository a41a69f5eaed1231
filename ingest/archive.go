package ingest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/pkg/errors"
)

// EntryFilter decides whether an archive entry is extracted.
type EntryFilter func(name string) bool

// Limits caps what an extraction may write. Zero fields are unlimited.
type Limits struct {
	EntryBytes int64
	TotalBytes int64
}

// budget tracks bytes written against Limits across one archive.
type budget struct {
	lim  Limits
	used int64
}

// next returns the byte cap for the next entry, or ErrTooLarge when the
// total is already spent.
func (b *budget) next() (int64, error) {
	max := b.lim.EntryBytes
	if b.lim.TotalBytes > 0 {
		remaining := b.lim.TotalBytes - b.used
		if remaining <= 0 {
			return 0, errors.Wrap(ErrTooLarge, "archive contents")
		}
		if max == 0 || remaining < max {
			max = remaining
		}
	}
	return max, nil
}

func (b *budget) write(r io.Reader, destPath string) error {
	max, err := b.next()
	if err != nil {
		return err
	}
	n, err := writeEntry(r, destPath, max)
	b.used += n
	return err
}

// ExtractZip extracts the entries of a ZIP archive accepted by keep into
// destDir and returns the written paths. An entry or running total beyond lim
// stops extraction with ErrTooLarge.
func ExtractZip(archivePath, destDir string, keep EntryFilter, lim Limits) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrap(err, "open zip archive")
	}
	defer reader.Close()

	b := &budget{lim: lim}
	var written []string
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || (keep != nil && !keep(file.Name)) {
			continue
		}
		destPath, err := entryPath(destDir, file.Name)
		if err != nil {
			return written, err
		}
		rc, err := file.Open()
		if err != nil {
			return written, errors.Wrapf(err, "open %s in archive", file.Name)
		}
		err = b.write(rc, destPath)
		rc.Close()
		if err != nil {
			return written, err
		}
		written = append(written, destPath)
	}
	return written, nil
}

// Extract7z extracts the entries of a 7z archive accepted by keep into
// destDir and returns the written paths. An entry or running total beyond lim
// stops extraction with ErrTooLarge.
func Extract7z(archivePath, destDir string, keep EntryFilter, lim Limits) ([]string, error) {
	reader, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrap(err, "open 7z archive")
	}
	defer reader.Close()

	b := &budget{lim: lim}
	var written []string
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || (keep != nil && !keep(file.Name)) {
			continue
		}
		destPath, err := entryPath(destDir, file.Name)
		if err != nil {
			return written, err
		}
		rc, err := file.Open()
		if err != nil {
			return written, errors.Wrapf(err, "open %s in archive", file.Name)
		}
		err = b.write(rc, destPath)
		rc.Close()
		if err != nil {
			return written, err
		}
		written = append(written, destPath)
	}
	return written, nil
}

// entryPath joins name under destDir, rejecting entries that would escape it.
func entryPath(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("archive entry %q escapes destination", name)
	}
	return filepath.Join(destDir, clean), nil
}

// writeEntry copies r to destPath, writing at most max bytes when max is
// positive. An oversized entry is removed and reported as ErrTooLarge.
func writeEntry(r io.Reader, destPath string, max int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, errors.Wrap(err, "create directory")
	}
	out, err := os.Create(destPath)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", destPath)
	}
	src := r
	if max > 0 {
		src = io.LimitReader(r, max+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return n, errors.Wrapf(err, "extract %s", destPath)
	}
	if max > 0 && n > max {
		os.Remove(destPath)
		return n, errors.Wrapf(ErrTooLarge, "%s", filepath.Base(destPath))
	}
	return n, nil
}
