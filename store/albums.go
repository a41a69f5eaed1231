package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/stevecastle/dicomalbum/metadata"
)

// Album is a named, persisted collection of materialized files.
type Album struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Creator     string    `json:"creator"`
	OwnerID     *int64    `json:"owner_id,omitempty"`
	CreatedDate time.Time `json:"created_date"`
	FileCount   int       `json:"file_count"`
	IsPublic    bool      `json:"is_public"`
	ShareURL    string    `json:"share_url"`
}

// AlbumFile is one materialized file. Metadata holds the attributes
// re-extracted from the album copy, without path keys.
type AlbumFile struct {
	ID           int64           `json:"id"`
	AlbumID      string          `json:"album_id"`
	Position     int             `json:"position"`
	FilePath     string          `json:"file_path"`
	OriginalPath string          `json:"original_path"`
	Metadata     metadata.Record `json:"metadata"`
}

// Record returns the file's metadata with AlbumFilePath and
// OriginalFilePath restored.
func (f AlbumFile) Record() metadata.Record {
	rec := f.Metadata.Clone()
	rec[metadata.AlbumFilePath] = metadata.String(f.FilePath)
	rec[metadata.OriginalFilePath] = metadata.String(f.OriginalPath)
	return rec
}

// AlbumFilter narrows ListAlbums. The zero value lists every album.
type AlbumFilter struct {
	OwnerID    *int64
	PublicOnly bool
}

const albumColumns = `id, name, description, creator, owner_id, created_date, file_count, is_public, share_url`

// SaveAlbum inserts the album and its files in one transaction.
func (s *Store) SaveAlbum(ctx context.Context, a Album, files []AlbumFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin save album")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO albums (`+albumColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, a.Creator, nullInt(a.OwnerID), formatTime(a.CreatedDate),
		a.FileCount, a.IsPublic, a.ShareURL)
	if err != nil {
		return errors.Wrapf(err, "insert album %s", a.ID)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (
			album_id, position, file_path, original_path, patient_id, patient_name,
			study_instance_uid, series_instance_uid, sop_instance_uid,
			modality, study_date, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare file insert")
	}
	defer stmt.Close()

	for _, f := range files {
		meta := f.Metadata.Without(metadata.AlbumFilePath, metadata.OriginalFilePath, metadata.FilePath)
		blob, err := json.Marshal(meta)
		if err != nil {
			return errors.Wrapf(err, "encode metadata for %s", f.FilePath)
		}
		_, err = stmt.ExecContext(ctx,
			a.ID, f.Position, f.FilePath, f.OriginalPath,
			textOrNull(meta, "PatientID"), textOrNull(meta, "PatientName"),
			textOrNull(meta, "StudyInstanceUID"), textOrNull(meta, "SeriesInstanceUID"),
			textOrNull(meta, "SOPInstanceUID"), textOrNull(meta, "Modality"),
			textOrNull(meta, "StudyDate"), string(blob))
		if err != nil {
			return errors.Wrapf(err, "insert file %s", f.FilePath)
		}
	}

	return errors.Wrap(tx.Commit(), "commit save album")
}

// GetAlbum returns the album or ErrNotFound.
func (s *Store) GetAlbum(ctx context.Context, id string) (*Album, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+albumColumns+` FROM albums WHERE id = ?`, id)
	a, err := scanAlbum(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get album %s", id)
	}
	return a, nil
}

// ListAlbums returns albums newest first.
func (s *Store) ListAlbums(ctx context.Context, f AlbumFilter) ([]Album, error) {
	var where []string
	var args []interface{}
	if f.OwnerID != nil {
		where = append(where, "owner_id = ?")
		args = append(args, *f.OwnerID)
	}
	if f.PublicOnly {
		where = append(where, "is_public = 1")
	}
	q := `SELECT ` + albumColumns + ` FROM albums`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_date DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list albums")
	}
	defer rows.Close()

	albums := []Album{}
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan album")
		}
		albums = append(albums, *a)
	}
	return albums, errors.Wrap(rows.Err(), "iterate albums")
}

// AlbumFiles returns the album's files in position order. An unknown album
// yields an empty slice.
func (s *Store) AlbumFiles(ctx context.Context, albumID string) ([]AlbumFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, position, file_path, original_path, metadata
		FROM files WHERE album_id = ? ORDER BY position, id`, albumID)
	if err != nil {
		return nil, errors.Wrapf(err, "list files for %s", albumID)
	}
	defer rows.Close()

	files := []AlbumFile{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, errors.Wrap(rows.Err(), "iterate files")
}

// AlbumFile returns the file at a zero-based index within the album, or
// ErrNotFound when the album is unknown or the index is out of range.
func (s *Store) AlbumFile(ctx context.Context, albumID string, index int) (*AlbumFile, error) {
	if index < 0 {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, album_id, position, file_path, original_path, metadata
		FROM files WHERE album_id = ? ORDER BY position, id LIMIT 1 OFFSET ?`, albumID, index)
	f, err := scanFile(row)
	if errors.Cause(err) == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteAlbum removes the album and its file rows. It reports false when the
// album did not exist.
func (s *Store) DeleteAlbum(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin delete album")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE album_id = ?`, id); err != nil {
		return false, errors.Wrapf(err, "delete files for %s", id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM albums WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrapf(err, "delete album %s", id)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "commit delete album")
	}
	return n > 0, nil
}

// TogglePublic flips is_public and returns the new state. found is false for
// unknown albums.
func (s *Store) TogglePublic(ctx context.Context, id string) (found, public bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, errors.Wrap(err, "begin toggle")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE albums SET is_public = NOT is_public WHERE id = ?`, id)
	if err != nil {
		return false, false, errors.Wrapf(err, "toggle album %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, false, nil
	}
	if err := tx.QueryRowContext(ctx, `SELECT is_public FROM albums WHERE id = ?`, id).Scan(&public); err != nil {
		return false, false, errors.Wrapf(err, "read toggled album %s", id)
	}
	if err := tx.Commit(); err != nil {
		return false, false, errors.Wrap(err, "commit toggle")
	}
	return true, public, nil
}

// Share forces is_public on and records the share URL.
func (s *Store) Share(ctx context.Context, id, shareURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE albums SET is_public = 1, share_url = ? WHERE id = ?`, shareURL, id)
	if err != nil {
		return false, errors.Wrapf(err, "share album %s", id)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlbum(sc scanner) (*Album, error) {
	var (
		a        Album
		desc     sql.NullString
		creator  sql.NullString
		owner    sql.NullInt64
		created  string
		shareURL sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.Name, &desc, &creator, &owner, &created, &a.FileCount, &a.IsPublic, &shareURL); err != nil {
		return nil, err
	}
	a.Description = desc.String
	a.Creator = creator.String
	if owner.Valid {
		id := owner.Int64
		a.OwnerID = &id
	}
	a.CreatedDate = parseTime(created)
	a.ShareURL = shareURL.String
	return &a, nil
}

func scanFile(sc scanner) (*AlbumFile, error) {
	var (
		f        AlbumFile
		original sql.NullString
		blob     string
	)
	if err := sc.Scan(&f.ID, &f.AlbumID, &f.Position, &f.FilePath, &original, &blob); err != nil {
		return nil, errors.Wrap(err, "scan file")
	}
	f.OriginalPath = original.String
	if err := json.Unmarshal([]byte(blob), &f.Metadata); err != nil {
		return nil, errors.Wrapf(err, "decode metadata for file %d", f.ID)
	}
	return &f, nil
}

func textOrNull(r metadata.Record, key string) interface{} {
	v := r.Get(key)
	if v.IsNull() {
		return nil
	}
	return v.Text()
}

func nullInt(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// SetAlbumVisibility sets is_public explicitly. It reports false for unknown
// albums.
func (s *Store) SetAlbumVisibility(ctx context.Context, id string, public bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE albums SET is_public = ? WHERE id = ?`, public, id)
	if err != nil {
		return false, errors.Wrapf(err, "set visibility of %s", id)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
