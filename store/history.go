package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// QueryEntry is one executed query.
type QueryEntry struct {
	ID           int64     `json:"id"`
	Query        string    `json:"query"`
	ExecutedDate time.Time `json:"executed_date"`
	ResultCount  int       `json:"result_count"`
}

// RecordQuery appends an entry to the query history.
func (s *Store) RecordQuery(ctx context.Context, text string, count int, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (query, executed_date, result_count) VALUES (?, ?, ?)`,
		text, formatTime(at), count)
	if err != nil {
		return 0, errors.Wrap(err, "record query")
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// RecentQueries returns up to limit entries, most recent first. Entries
// sharing a timestamp come back in reverse insertion order.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]QueryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, executed_date, result_count
		FROM query_history
		ORDER BY executed_date DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent queries")
	}
	defer rows.Close()

	entries := []QueryEntry{}
	for rows.Next() {
		var (
			e  QueryEntry
			at string
		)
		if err := rows.Scan(&e.ID, &e.Query, &at, &e.ResultCount); err != nil {
			return nil, errors.Wrap(err, "scan query entry")
		}
		e.ExecutedDate = parseTime(at)
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate queries")
}
