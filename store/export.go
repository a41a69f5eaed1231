package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ConflictModes are the accepted SQLite conflict clauses for ExportAlbum.
var ConflictModes = []string{"IGNORE", "ABORT", "REPLACE", "ROLLBACK", "FAIL"}

// ExportResult reports rows copied by ExportAlbum.
type ExportResult struct {
	Albums int64
	Files  int64
}

// ExportAlbum copies one album row and its file rows into the database at
// destPath, creating the schema there when missing. onConflict selects the
// INSERT OR clause and defaults to IGNORE.
func (s *Store) ExportAlbum(ctx context.Context, albumID, destPath, onConflict string) (ExportResult, error) {
	var res ExportResult

	verb := strings.ToUpper(strings.TrimSpace(onConflict))
	if verb == "" {
		verb = "IGNORE"
	}
	if !validConflict(verb) {
		return res, errors.Errorf("invalid conflict mode %q", onConflict)
	}

	if _, err := s.GetAlbum(ctx, albumID); err != nil {
		return res, err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return res, errors.Wrap(err, "create export directory")
	}
	dest, err := sql.Open("sqlite", DSN(destPath))
	if err != nil {
		return res, errors.Wrap(err, "open export database")
	}
	err = InitializeSchema(ctx, dest)
	dest.Close()
	if err != nil {
		return res, err
	}

	// ATTACH is per connection, so pin one for the whole copy.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return res, errors.Wrap(err, "acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS dest`, destPath); err != nil {
		return res, errors.Wrap(err, "attach export database")
	}
	defer conn.ExecContext(context.Background(), `DETACH DATABASE dest`)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return res, errors.Wrap(err, "begin export")
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR %s INTO dest.albums (`+albumColumns+`)
		SELECT `+albumColumns+` FROM main.albums WHERE id = ?`, verb), albumID)
	if err != nil {
		return res, errors.Wrap(err, "copy album row")
	}
	res.Albums, _ = r.RowsAffected()

	r, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR %s INTO dest.files
		SELECT * FROM main.files WHERE album_id = ?`, verb), albumID)
	if err != nil {
		return res, errors.Wrap(err, "copy file rows")
	}
	res.Files, _ = r.RowsAffected()

	if err := tx.Commit(); err != nil {
		return res, errors.Wrap(err, "commit export")
	}
	s.log.Info().Str("album", albumID).Str("dest", destPath).
		Int64("albums", res.Albums).Int64("files", res.Files).Msg("album exported")
	return res, nil
}

func validConflict(verb string) bool {
	for _, m := range ConflictModes {
		if m == verb {
			return true
		}
	}
	return false
}
