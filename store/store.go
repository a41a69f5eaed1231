// Package store persists albums, their file records, the query history and
// users in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an album or album file does not exist.
var ErrNotFound = errors.New("not found")

// TimeLayout is the fixed-width UTC layout used for stored timestamps so
// that lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS albums (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT,
	creator      TEXT,
	owner_id     INTEGER,
	created_date TEXT NOT NULL,
	file_count   INTEGER NOT NULL DEFAULT 0,
	is_public    INTEGER NOT NULL DEFAULT 0,
	share_url    TEXT
);
CREATE INDEX IF NOT EXISTS idx_albums_created ON albums(created_date);
CREATE INDEX IF NOT EXISTS idx_albums_owner ON albums(owner_id);

CREATE TABLE IF NOT EXISTS files (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	album_id            TEXT NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
	position            INTEGER NOT NULL,
	file_path           TEXT NOT NULL,
	original_path       TEXT,
	patient_id          TEXT,
	patient_name        TEXT,
	study_instance_uid  TEXT,
	series_instance_uid TEXT,
	sop_instance_uid    TEXT,
	modality            TEXT,
	study_date          TEXT,
	metadata            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_album ON files(album_id, position);

CREATE TABLE IF NOT EXISTS query_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	query         TEXT NOT NULL,
	executed_date TEXT NOT NULL,
	result_count  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_date ON query_history(executed_date);

CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
`

// Store is a SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// DSN builds the connection string for a database file. Pragmas apply to
// every pooled connection.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "create database directory for %s", path)
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	if err := InitializeSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("database ready")
	return &Store{db: db, log: log}, nil
}

// InitializeSchema creates any missing tables and indexes.
func InitializeSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "initialize schema")
	}
	return nil
}

// DB exposes the underlying handle for collaborators that share the
// database, such as the auth service.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2
		}
	}
	return t
}
