// Package synclog tracks pull watermarks per (resource type, filter) and the
// resumable paginated query cursor that belongs to each of them.
package synclog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offsync/internal/domain"
	"offsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoOpenQuery is returned when a query operation targets a query that is
// missing or already completed.
var ErrNoOpenQuery = errors.New("no open sync query")

// Log is the synchronization log service.
type Log struct {
	store     domain.SyncLogStore
	staleness time.Duration
	logger    *zerolog.Logger
	now       func() time.Time
}

// New creates a log over store. A non-positive staleness falls back to
// models.DefaultQueryStaleness.
func New(store domain.SyncLogStore, staleness time.Duration, logger *zerolog.Logger) *Log {
	if staleness <= 0 {
		staleness = models.DefaultQueryStaleness
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Log{
		store:     store,
		staleness: staleness,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Staleness returns the maximum age of a resumable query.
func (l *Log) Staleness() time.Duration { return l.staleness }

// Get returns the entry for (resourceType, filter), or nil when there is none.
func (l *Log) Get(ctx context.Context, resourceType, filter string) (*models.SyncLogEntry, error) {
	return l.store.GetLog(ctx, resourceType, filter)
}

// Create adds a fresh entry with no watermark.
func (l *Log) Create(ctx context.Context, resourceType, filter string) (*models.SyncLogEntry, error) {
	if resourceType == "" {
		return nil, fmt.Errorf("sync log: resource type is required")
	}
	entry := &models.SyncLogEntry{ResourceType: resourceType, Filter: filter}
	if err := l.store.CreateLog(ctx, entry); err != nil {
		return nil, err
	}
	l.logger.Debug().Str("resource_type", resourceType).Str("filter", filter).Msg("sync log created")
	return entry, nil
}

// GetOrCreate returns the existing entry or creates it lazily.
func (l *Log) GetOrCreate(ctx context.Context, resourceType, filter string) (*models.SyncLogEntry, error) {
	entry, err := l.Get(ctx, resourceType, filter)
	if err != nil || entry != nil {
		return entry, err
	}
	return l.Create(ctx, resourceType, filter)
}

// List returns every entry ordered by type and filter.
func (l *Log) List(ctx context.Context) ([]*models.SyncLogEntry, error) {
	return l.store.ListLogs(ctx)
}

// Save commits a successful sync: the watermark moves to since and any
// recorded error is cleared. An empty etag keeps the previous one.
func (l *Log) Save(ctx context.Context, entry *models.SyncLogEntry, etag string, since time.Time) (*models.SyncLogEntry, error) {
	since = since.UTC()
	entry.LastSync = &since
	if etag != "" {
		entry.LastETag = etag
	}
	entry.LastError = nil
	entry.LastErrorAt = nil
	if err := l.store.UpdateLog(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// SaveError records a failed attempt; the watermark is left untouched.
func (l *Log) SaveError(ctx context.Context, entry *models.SyncLogEntry, cause error) (*models.SyncLogEntry, error) {
	if cause == nil {
		return entry, nil
	}
	msg := cause.Error()
	at := l.now()
	entry.LastError = &msg
	entry.LastErrorAt = &at
	if err := l.store.UpdateLog(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetCurrentQuery returns the open query of entry, or nil.
func (l *Log) GetCurrentQuery(ctx context.Context, entry *models.SyncLogEntry) (*models.SyncLogQuery, error) {
	return l.store.GetOpenQuery(ctx, entry.ID)
}

// StartQuery opens a new query at offset zero. An open query on the same
// entry is completed first so that at most one stays open.
func (l *Log) StartQuery(ctx context.Context, entry *models.SyncLogEntry) (*models.SyncLogQuery, error) {
	open, err := l.GetCurrentQuery(ctx, entry)
	if err != nil {
		return nil, err
	}
	if open != nil {
		if err := l.CompleteQuery(ctx, open); err != nil {
			return nil, err
		}
	}

	q := &models.SyncLogQuery{
		LogID:     entry.ID,
		QueryID:   uuid.NewString(),
		StartTime: l.now(),
	}
	if err := l.store.CreateQuery(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// SaveQuery persists the number of records consumed so far.
func (l *Log) SaveQuery(ctx context.Context, q *models.SyncLogQuery, offset int) (*models.SyncLogQuery, error) {
	if q == nil || q.IsComplete() {
		return nil, ErrNoOpenQuery
	}
	if offset < 0 {
		return nil, fmt.Errorf("sync query %s: negative offset %d", q.QueryID, offset)
	}
	q.Offset = offset
	if err := l.store.UpdateQuery(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// CompleteQuery marks q as finished. Completed queries are never resumed.
func (l *Log) CompleteQuery(ctx context.Context, q *models.SyncLogQuery) error {
	if q == nil || q.IsComplete() {
		return ErrNoOpenQuery
	}
	at := l.now()
	q.CompletedAt = &at
	return l.store.UpdateQuery(ctx, q)
}

// IsStale reports whether q is too old to resume.
func (l *Log) IsStale(q *models.SyncLogQuery) bool {
	return q.IsStale(l.now(), l.staleness)
}

// ResumeOrStart returns the open query of entry when it is still fresh, or
// starts a new one. The boolean reports whether the query was resumed.
func (l *Log) ResumeOrStart(ctx context.Context, entry *models.SyncLogEntry) (*models.SyncLogQuery, bool, error) {
	open, err := l.GetCurrentQuery(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	if open != nil {
		if !l.IsStale(open) {
			return open, true, nil
		}
		l.logger.Info().
			Str("resource_type", entry.ResourceType).
			Str("filter", entry.Filter).
			Str("query_id", open.QueryID).
			Time("started", open.StartTime).
			Msg("discarding stale sync query")
	}

	q, err := l.StartQuery(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	return q, false, nil
}
