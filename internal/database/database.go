package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when an update or delete targets a missing row.
var ErrNotFound = errors.New("not found")

// DB is the local SQLite store backing queues, the synchronization log and
// synchronized resources.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases coherent.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queue_entries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            queue TEXT NOT NULL,
            correlation_key TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            resource_type TEXT NOT NULL,
            operation TEXT NOT NULL,
            retry_count INTEGER,
            payload BLOB,
            codec TEXT,
            data_file_key TEXT,
            original_queue TEXT,
            reason TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS sync_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            resource_type TEXT NOT NULL,
            filter TEXT NOT NULL DEFAULT '',
            last_sync DATETIME,
            last_etag TEXT,
            last_error TEXT,
            last_error_at DATETIME,
            UNIQUE(resource_type, filter)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_log_query (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            log_id INTEGER NOT NULL REFERENCES sync_log(id) ON DELETE CASCADE,
            query_id TEXT NOT NULL,
            query_offset INTEGER NOT NULL DEFAULT 0,
            start_time DATETIME NOT NULL,
            completed_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS resources (
            resource_type TEXT NOT NULL,
            key TEXT NOT NULL,
            version_key TEXT,
            data TEXT NOT NULL,
            obsolete BOOLEAN NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (resource_type, key)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_queue_entries_queue ON queue_entries(queue, id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_correlation ON queue_entries(correlation_key)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_query_open ON sync_log_query(log_id, completed_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
