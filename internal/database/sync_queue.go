package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offsync/internal/models"
)

const queueColumns = `id, queue, correlation_key, created_at, resource_type, operation, retry_count,
              payload, codec, data_file_key, original_queue, reason`

// QueueStore keeps the entries of every named queue in one table, ordered by id.
type QueueStore struct {
	db *DB
}

func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Append(ctx context.Context, queue string, rec *models.QueueRecord) (int64, error) {
	query := `INSERT INTO queue_entries (queue, correlation_key, created_at, resource_type, operation, retry_count,
              payload, codec, data_file_key, original_queue, reason)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if rec.CreationTime.IsZero() {
		rec.CreationTime = time.Now()
	}
	var retry interface{}
	if rec.RetryCount != nil {
		retry = *rec.RetryCount
	}
	result, err := s.db.ExecContext(ctx, query,
		queue,
		rec.CorrelationKey,
		rec.CreationTime,
		rec.ResourceType,
		string(rec.Operation),
		retry,
		rec.Payload,
		nullString(rec.Codec),
		nullString(rec.DataFileKey),
		nullString(rec.OriginalQueue),
		nullString(rec.Reason),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append queue entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	rec.Queue = queue
	return id, nil
}

func (s *QueueStore) Peek(ctx context.Context, queue string) (*models.QueueRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE queue = ? ORDER BY id ASC LIMIT 1`, queue)
	rec, err := scanQueueRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue %s: %w", queue, err)
	}
	return rec, nil
}

func (s *QueueStore) PopFront(ctx context.Context, queue string) (*models.QueueRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dequeue: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE queue = ? ORDER BY id ASC LIMIT 1`, queue)
	rec, err := scanQueueRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head %s: %w", queue, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to remove queue head %s: %w", queue, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dequeue: %w", err)
	}
	return rec, nil
}

func (s *QueueStore) Get(ctx context.Context, queue string, id int64) (*models.QueueRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE queue = ? AND id = ?`, queue, id)
	rec, err := scanQueueRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry %d: %w", id, err)
	}
	return rec, nil
}

func (s *QueueStore) Delete(ctx context.Context, queue string, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE queue = ? AND id = ?`, queue, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry %d: %w", id, err)
	}
	return nil
}

func (s *QueueStore) Count(ctx context.Context, queue string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries WHERE queue = ?`, queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %s: %w", queue, err)
	}
	return n, nil
}

func (s *QueueStore) List(ctx context.Context, queue string, afterID int64, limit int) ([]*models.QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE queue = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		queue, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue %s: %w", queue, err)
	}
	defer rows.Close()

	var out []*models.QueueRecord
	for rows.Next() {
		rec, err := scanQueueRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueRecord(row rowScanner) (*models.QueueRecord, error) {
	var (
		rec                                   models.QueueRecord
		operation                             string
		retry                                 sql.NullInt64
		codec, fileKey, originalQueue, reason sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.Queue, &rec.CorrelationKey, &rec.CreationTime, &rec.ResourceType, &operation, &retry,
		&rec.Payload, &codec, &fileKey, &originalQueue, &reason,
	)
	if err != nil {
		return nil, err
	}
	rec.Operation = models.Operation(operation)
	if retry.Valid {
		rec.RetryCount = models.IntPtr(int(retry.Int64))
	}
	rec.Codec = codec.String
	rec.DataFileKey = fileKey.String
	rec.OriginalQueue = originalQueue.String
	rec.Reason = reason.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
