// Package history keeps the append-only log of executed queries.
package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stevecastle/dicomalbum/store"
)

// DefaultLimit is used by Recent when the caller passes a non-positive limit.
const DefaultLimit = 20

// Backend is the persistence the log writes through.
type Backend interface {
	RecordQuery(ctx context.Context, text string, count int, at time.Time) (int64, error)
	RecentQueries(ctx context.Context, limit int) ([]store.QueryEntry, error)
}

// Log records queries with the time they ran.
type Log struct {
	backend Backend
	log     zerolog.Logger
	now     func() time.Time
}

func New(backend Backend, log zerolog.Logger) *Log {
	return &Log{
		backend: backend,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record appends an entry timestamped now.
func (l *Log) Record(ctx context.Context, text string, count int) (store.QueryEntry, error) {
	at := l.now()
	id, err := l.backend.RecordQuery(ctx, text, count, at)
	if err != nil {
		l.log.Error().Stack().Err(err).Str("query", text).Msg("failed to record query")
		return store.QueryEntry{}, err
	}
	l.log.Debug().Str("query", text).Int("results", count).Msg("query recorded")
	return store.QueryEntry{ID: id, Query: text, ExecutedDate: at, ResultCount: count}, nil
}

// Recent returns the newest entries first.
func (l *Log) Recent(ctx context.Context, limit int) ([]store.QueryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return l.backend.RecentQueries(ctx, limit)
}
