package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"offsync/internal/models"
)

// SyncLogStore persists pull watermarks and the cursors of open paginated queries.
type SyncLogStore struct {
	db *DB
}

func NewSyncLogStore(db *DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

const syncLogColumns = `id, resource_type, filter, last_sync, last_etag, last_error, last_error_at`

func (s *SyncLogStore) GetLog(ctx context.Context, resourceType, filter string) (*models.SyncLogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncLogColumns+` FROM sync_log WHERE resource_type = ? AND filter = ?`, resourceType, filter)
	entry, err := scanSyncLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log for %s: %w", resourceType, err)
	}
	return entry, nil
}

func (s *SyncLogStore) CreateLog(ctx context.Context, entry *models.SyncLogEntry) error {
	query := `INSERT INTO sync_log (resource_type, filter, last_sync, last_etag, last_error, last_error_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		entry.ResourceType, entry.Filter, entry.LastSync, nullString(entry.LastETag), entry.LastError, entry.LastErrorAt)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

func (s *SyncLogStore) UpdateLog(ctx context.Context, entry *models.SyncLogEntry) error {
	query := `UPDATE sync_log SET last_sync = ?, last_etag = ?, last_error = ?, last_error_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		entry.LastSync, nullString(entry.LastETag), entry.LastError, entry.LastErrorAt, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update sync log %d: %w", entry.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("sync log %d: %w", entry.ID, ErrNotFound)
	}
	return nil
}

func (s *SyncLogStore) ListLogs(ctx context.Context) ([]*models.SyncLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+syncLogColumns+` FROM sync_log ORDER BY resource_type, filter`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncLogEntry
	for rows.Next() {
		entry, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SyncLogStore) GetOpenQuery(ctx context.Context, logID int64) (*models.SyncLogQuery, error) {
	var (
		q         models.SyncLogQuery
		completed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT id, log_id, query_id, query_offset, start_time, completed_at
        FROM sync_log_query
        WHERE log_id = ? AND completed_at IS NULL
        ORDER BY id DESC LIMIT 1`, logID).
		Scan(&q.ID, &q.LogID, &q.QueryID, &q.Offset, &q.StartTime, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open query for log %d: %w", logID, err)
	}
	if completed.Valid {
		q.CompletedAt = &completed.Time
	}
	return &q, nil
}

func (s *SyncLogStore) CreateQuery(ctx context.Context, q *models.SyncLogQuery) error {
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO sync_log_query (log_id, query_id, query_offset, start_time, completed_at)
        VALUES (?, ?, ?, ?, ?)`, q.LogID, q.QueryID, q.Offset, q.StartTime, q.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync query: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	q.ID = id
	return nil
}

func (s *SyncLogStore) UpdateQuery(ctx context.Context, q *models.SyncLogQuery) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_log_query SET query_offset = ?, completed_at = ? WHERE id = ?`, q.Offset, q.CompletedAt, q.ID)
	if err != nil {
		return fmt.Errorf("failed to update sync query %d: %w", q.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("sync query %d: %w", q.ID, ErrNotFound)
	}
	return nil
}

func scanSyncLog(row rowScanner) (*models.SyncLogEntry, error) {
	var (
		entry       models.SyncLogEntry
		lastSync    sql.NullTime
		lastETag    sql.NullString
		lastError   sql.NullString
		lastErrorAt sql.NullTime
	)
	if err := row.Scan(&entry.ID, &entry.ResourceType, &entry.Filter, &lastSync, &lastETag, &lastError, &lastErrorAt); err != nil {
		return nil, err
	}
	if lastSync.Valid {
		entry.LastSync = &lastSync.Time
	}
	entry.LastETag = lastETag.String
	if lastError.Valid {
		entry.LastError = &lastError.String
	}
	if lastErrorAt.Valid {
		entry.LastErrorAt = &lastErrorAt.Time
	}
	return &entry, nil
}
