// Package album materializes query selections into persistent albums: the
// selected files are copied into a per-album directory, their metadata is
// re-extracted from the copies and the result is registered in the store.
package album

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stevecastle/dicomalbum/metadata"
	"github.com/stevecastle/dicomalbum/metrics"
	"github.com/stevecastle/dicomalbum/store"
)

// DicomDir is the subdirectory of an album holding its copied files.
const DicomDir = "dicom"

// ErrNoMirror is returned by Presign when no object storage is configured.
var ErrNoMirror = errors.New("cloud mirroring is not configured")

// Repository is the persistence the materializer writes through.
type Repository interface {
	SaveAlbum(ctx context.Context, a store.Album, files []store.AlbumFile) error
	GetAlbum(ctx context.Context, id string) (*store.Album, error)
	ListAlbums(ctx context.Context, f store.AlbumFilter) ([]store.Album, error)
	AlbumFiles(ctx context.Context, albumID string) ([]store.AlbumFile, error)
	AlbumFile(ctx context.Context, albumID string, index int) (*store.AlbumFile, error)
	DeleteAlbum(ctx context.Context, id string) (bool, error)
	TogglePublic(ctx context.Context, id string) (found, public bool, err error)
	SetAlbumVisibility(ctx context.Context, id string, public bool) (bool, error)
	Share(ctx context.Context, id, shareURL string) (bool, error)
}

// Extractor reads metadata from a copied file.
type Extractor interface {
	Extract(path string) (metadata.Record, error)
}

// Mirror copies album files to object storage.
type Mirror interface {
	MirrorFile(ctx context.Context, albumID, localPath string) (string, error)
	DeleteAlbum(ctx context.Context, albumID string) (int, error)
	PresignAlbumFile(ctx context.Context, albumID, filename string, ttl time.Duration) (string, error)
}

// Options holds the optional collaborators of a Materializer.
type Options struct {
	// Anonymize, when set, rewrites each copied file before its metadata is
	// extracted.
	Anonymize func(path string) error
	Mirror    Mirror
	Metrics   *metrics.Metrics
}

// CreateRequest describes a new album. Files wins over Results when both
// are set.
type CreateRequest struct {
	Name        string
	Description string
	Creator     string
	OwnerID     *int64
	IsPublic    bool
	Files       []string
	Results     *metadata.View
}

func (r CreateRequest) paths() []string {
	if len(r.Files) > 0 {
		return r.Files
	}
	if r.Results != nil {
		return r.Results.FilePaths()
	}
	return nil
}

// Materializer creates, reads and deletes albums.
type Materializer struct {
	repo    Repository
	extract Extractor
	dir     string
	opts    Options
	log     zerolog.Logger
	locks   *keyLock
	now     func() time.Time
	newID   func() string
}

func New(repo Repository, extract Extractor, dir string, log zerolog.Logger, opts Options) *Materializer {
	return &Materializer{
		repo:    repo,
		extract: extract,
		dir:     dir,
		opts:    opts,
		log:     log,
		locks:   newKeyLock(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// ShareURL is the relative link of an album.
func ShareURL(id string) string {
	return "/album/" + id
}

// Dir returns the storage area of an album.
func (m *Materializer) Dir(id string) string {
	return filepath.Join(m.dir, id)
}

// Create materializes the selection into a new album and returns its id.
// Missing or unreadable files are logged and skipped. If registering the
// album fails its directory is removed.
func (m *Materializer) Create(ctx context.Context, req CreateRequest) (string, error) {
	id := m.newID()
	unlock := m.locks.Lock(id)
	defer unlock()

	log := m.log.With().Str("album", id).Logger()
	albumDir := m.Dir(id)
	dicomDir := filepath.Join(albumDir, DicomDir)
	if err := os.MkdirAll(dicomDir, 0755); err != nil {
		return "", errors.Wrap(err, "create album directory")
	}

	paths := req.paths()
	files := make([]store.AlbumFile, 0, len(paths))
	skipped := 0
	for i, src := range paths {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(albumDir)
			return "", err
		}
		f, err := m.materialize(src, filepath.Join(dicomDir, fmt.Sprintf("%d_%s", i+1, filepath.Base(src))))
		if err != nil {
			log.Warn().Err(err).Str("file", src).Msg("skipping file")
			skipped++
			continue
		}
		f.Position = len(files)
		files = append(files, f)
	}

	a := store.Album{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Creator:     req.Creator,
		OwnerID:     req.OwnerID,
		CreatedDate: m.now(),
		FileCount:   len(files),
		IsPublic:    req.IsPublic,
		ShareURL:    ShareURL(id),
	}
	if err := m.repo.SaveAlbum(ctx, a, files); err != nil {
		if rmErr := os.RemoveAll(albumDir); rmErr != nil {
			log.Error().Err(rmErr).Msg("failed to remove unregistered album directory")
		}
		return "", err
	}

	if err := writeExports(albumDir, a, files); err != nil {
		log.Warn().Err(err).Msg("failed to write album export files")
	}
	m.mirror(ctx, log, id, files)

	if mt := m.opts.Metrics; mt != nil {
		mt.AlbumsCreatedTotal.Inc()
		mt.FilesMaterialized.Add(float64(len(files)))
		mt.FilesSkipped.Add(float64(skipped))
	}
	log.Info().Str("name", a.Name).Int("files", len(files)).Int("skipped", skipped).Msg("album created")
	return id, nil
}

// materialize copies src to dest and extracts metadata from the copy. The
// copy is removed when any step fails.
func (m *Materializer) materialize(src, dest string) (store.AlbumFile, error) {
	if _, err := os.Stat(src); err != nil {
		return store.AlbumFile{}, errors.Wrap(err, "source file")
	}
	if err := copyFile(src, dest); err != nil {
		os.Remove(dest)
		return store.AlbumFile{}, err
	}
	if m.opts.Anonymize != nil {
		if err := m.opts.Anonymize(dest); err != nil {
			os.Remove(dest)
			return store.AlbumFile{}, errors.Wrap(err, "anonymize copy")
		}
	}
	rec, err := m.extract.Extract(dest)
	if err != nil {
		os.Remove(dest)
		return store.AlbumFile{}, err
	}
	return store.AlbumFile{
		FilePath:     dest,
		OriginalPath: src,
		Metadata:     rec.Without(metadata.FilePath, metadata.AlbumFilePath, metadata.OriginalFilePath),
	}, nil
}

func (m *Materializer) mirror(ctx context.Context, log zerolog.Logger, id string, files []store.AlbumFile) {
	if m.opts.Mirror == nil {
		return
	}
	for _, f := range files {
		status := "ok"
		if _, err := m.opts.Mirror.MirrorFile(ctx, id, f.FilePath); err != nil {
			status = "error"
			log.Error().Err(err).Str("file", f.FilePath).Msg("failed to mirror album file")
		}
		if mt := m.opts.Metrics; mt != nil {
			mt.MirrorUploadsTotal.WithLabelValues(status).Inc()
		}
	}
}

// Get returns the album or store.ErrNotFound.
func (m *Materializer) Get(ctx context.Context, id string) (*store.Album, error) {
	return m.repo.GetAlbum(ctx, id)
}

// Files returns the album's files in order, or store.ErrNotFound for an
// unknown album.
func (m *Materializer) Files(ctx context.Context, id string) ([]store.AlbumFile, error) {
	if _, err := m.repo.GetAlbum(ctx, id); err != nil {
		return nil, err
	}
	return m.repo.AlbumFiles(ctx, id)
}

// File returns the file at a zero-based index, or store.ErrNotFound.
func (m *Materializer) File(ctx context.Context, id string, index int) (*store.AlbumFile, error) {
	return m.repo.AlbumFile(ctx, id, index)
}

// List returns every album, newest first.
func (m *Materializer) List(ctx context.Context) ([]store.Album, error) {
	return m.repo.ListAlbums(ctx, store.AlbumFilter{})
}

// ListByOwner returns the albums owned by a user, newest first.
func (m *Materializer) ListByOwner(ctx context.Context, ownerID int64) ([]store.Album, error) {
	return m.repo.ListAlbums(ctx, store.AlbumFilter{OwnerID: &ownerID})
}

// ListPublic returns the public albums, newest first.
func (m *Materializer) ListPublic(ctx context.Context) ([]store.Album, error) {
	return m.repo.ListAlbums(ctx, store.AlbumFilter{PublicOnly: true})
}

// Delete removes the album's records, directory and mirrored objects. It
// returns false when the album does not exist.
func (m *Materializer) Delete(ctx context.Context, id string) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	found, err := m.repo.DeleteAlbum(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	log := m.log.With().Str("album", id).Logger()
	if err := os.RemoveAll(m.Dir(id)); err != nil {
		log.Error().Err(err).Msg("failed to remove album directory")
	}
	if m.opts.Mirror != nil {
		if _, err := m.opts.Mirror.DeleteAlbum(ctx, id); err != nil {
			log.Error().Err(err).Msg("failed to remove mirrored album")
		}
	}
	if mt := m.opts.Metrics; mt != nil {
		mt.AlbumsDeletedTotal.Inc()
	}
	log.Info().Msg("album deleted")
	return true, nil
}

// TogglePublic flips the album's visibility. It returns false when the album
// does not exist.
func (m *Materializer) TogglePublic(ctx context.Context, id string) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	found, public, err := m.repo.TogglePublic(ctx, id)
	if err != nil || !found {
		return false, err
	}
	m.log.Info().Str("album", id).Bool("public", public).Msg("album visibility toggled")
	return true, nil
}

// SetPublic sets the album's visibility explicitly.
func (m *Materializer) SetPublic(ctx context.Context, id string, public bool) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.repo.SetAlbumVisibility(ctx, id, public)
}

// ShareLink makes the album public and returns its share URL. found is false
// for unknown albums.
func (m *Materializer) ShareLink(ctx context.Context, id string) (string, bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	url := ShareURL(id)
	found, err := m.repo.Share(ctx, id, url)
	if err != nil || !found {
		return "", false, err
	}
	return url, true, nil
}

// Presign returns a temporary object storage URL for the file at index.
func (m *Materializer) Presign(ctx context.Context, id string, index int, ttl time.Duration) (string, error) {
	if m.opts.Mirror == nil {
		return "", ErrNoMirror
	}
	f, err := m.repo.AlbumFile(ctx, id, index)
	if err != nil {
		return "", err
	}
	return m.opts.Mirror.PresignAlbumFile(ctx, id, filepath.Base(f.FilePath), ttl)
}

// copyFile copies src to dest and keeps the source modification time.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "close %s", dest)
	}
	if info, err := os.Stat(src); err == nil {
		os.Chtimes(dest, info.ModTime(), info.ModTime())
	}
	return nil
}
