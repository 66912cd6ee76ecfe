package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"offsync/internal/config"

	"github.com/rs/zerolog"
)

const snapshotPrefix = "offsync_"

// SnapshotService periodically copies the offline store so a corrupted queue
// can be recovered without losing unsent local changes.
type SnapshotService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewSnapshotService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// Run takes a snapshot immediately and then once per configured interval until ctx is done.
func (s *SnapshotService) Run(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Snapshot service is disabled")
		return
	}

	interval := s.config.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.logger.Info().Dur("interval", interval).Str("path", s.config.StoragePath).Msg("Snapshot service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Snapshot(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Snapshot failed")
		}
		if err := s.Prune(); err != nil {
			s.logger.Error().Err(err).Msg("Snapshot cleanup failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Snapshot writes a consistent copy of the database and returns its path.
func (s *SnapshotService) Snapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.db", snapshotPrefix, time.Now().UTC().Format("20060102_150405.000000000"))
	path := filepath.Join(s.config.StoragePath, name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Database snapshot written")
	return path, nil
}

// Prune removes snapshots beyond the configured count, oldest first.
func (s *SnapshotService) Prune() error {
	if s.config.Keep <= 0 {
		return nil
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var names []string
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), snapshotPrefix) {
			continue
		}
		names = append(names, file.Name())
	}
	if len(names) <= s.config.Keep {
		return nil
	}

	// Names embed a sortable timestamp.
	sort.Strings(names)
	for _, name := range names[:len(names)-s.config.Keep] {
		s.logger.Info().Str("file", name).Msg("Deleting old snapshot")
		if err := os.Remove(filepath.Join(s.config.StoragePath, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
		}
	}
	return nil
}
