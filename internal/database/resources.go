package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offsync/internal/models"
)

// ResourceStore is the SQLite backed local repository of synchronized resources.
// Obsoleted resources stay on disk but are invisible to Get and Find.
type ResourceStore struct {
	db *DB
}

func NewResourceStore(db *DB) *ResourceStore {
	return &ResourceStore{db: db}
}

func (s *ResourceStore) Get(ctx context.Context, resourceType, key string) (*models.Resource, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM resources WHERE resource_type = ? AND key = ? AND obsolete = 0`, resourceType, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource %s/%s: %w", resourceType, key, err)
	}
	return decodeResource(data)
}

// Insert stores the resource, reviving an obsoleted row with the same key.
func (s *ResourceStore) Insert(ctx context.Context, res *models.Resource) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode resource: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO resources (resource_type, key, version_key, data, obsolete, updated_at)
        VALUES (?, ?, ?, ?, 0, ?)
        ON CONFLICT(resource_type, key) DO UPDATE SET
            version_key = excluded.version_key,
            data = excluded.data,
            obsolete = 0,
            updated_at = excluded.updated_at`,
		res.Type, res.Key, nullString(res.VersionKey), string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert resource %s/%s: %w", res.Type, res.Key, err)
	}
	return nil
}

func (s *ResourceStore) Update(ctx context.Context, res *models.Resource) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode resource: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
        UPDATE resources SET version_key = ?, data = ?, obsolete = 0, updated_at = ?
        WHERE resource_type = ? AND key = ?`,
		nullString(res.VersionKey), string(data), time.Now(), res.Type, res.Key)
	if err != nil {
		return fmt.Errorf("failed to update resource %s/%s: %w", res.Type, res.Key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("resource %s/%s: %w", res.Type, res.Key, ErrNotFound)
	}
	return nil
}

func (s *ResourceStore) Obsolete(ctx context.Context, resourceType, key string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE resources SET obsolete = 1, updated_at = ? WHERE resource_type = ? AND key = ?`,
		time.Now(), resourceType, key)
	if err != nil {
		return fmt.Errorf("failed to obsolete resource %s/%s: %w", resourceType, key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("resource %s/%s: %w", resourceType, key, ErrNotFound)
	}
	return nil
}

func (s *ResourceStore) Find(ctx context.Context, resourceType string, match func(*models.Resource) bool) ([]*models.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM resources WHERE resource_type = ? AND obsolete = 0 ORDER BY key`, resourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources of type %s: %w", resourceType, err)
	}
	var raw []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		raw = append(raw, data)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var out []*models.Resource
	for _, data := range raw {
		res, err := decodeResource(data)
		if err != nil {
			return nil, err
		}
		if match == nil || match(res) {
			out = append(out, res)
		}
	}
	return out, nil
}

func decodeResource(data string) (*models.Resource, error) {
	var res models.Resource
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return &res, nil
}
