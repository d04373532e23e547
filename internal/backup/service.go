package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Service takes snapshots on demand or on a schedule.
type Service struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewService validates cfg, fills defaults and creates the backup directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("backup: invalid schedule %q: %w", cfg.Schedule, err)
		}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Service{cfg: cfg, logger: cfg.Logger, now: time.Now}, nil
}

// Run takes a snapshot every interval, or on the cron schedule when one is
// set, until ctx is cancelled. Failures are logged and do not stop the
// schedule.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.Schedule != "" {
		s.runCron(ctx)
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("backup schedule started", "interval", s.cfg.Interval, "dir", s.cfg.Dir)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduledBackup(ctx)
		}
	}
}

func (s *Service) runCron(ctx context.Context) {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.scheduledBackup(ctx) }); err != nil {
		s.logger.Error("failed to schedule backups", "schedule", s.cfg.Schedule, "error", err)
		return
	}
	c.Start()
	s.logger.Info("backup schedule started", "schedule", s.cfg.Schedule, "dir", s.cfg.Dir)

	<-ctx.Done()
	<-c.Stop().Done()
}

func (s *Service) scheduledBackup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := s.BackupNow(ctx)
	if err != nil {
		s.logger.Error("scheduled backup failed", "error", err)
		return
	}
	s.logger.Info("scheduled backup completed",
		"path", result.Path,
		"size", result.Size,
		"duration", result.Duration,
		"pruned", len(result.Pruned))
}

// BackupNow writes a snapshot, verifies it when configured and applies the
// retention policy. A retention failure is logged, not returned.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := s.now()
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	path := filepath.Join(s.cfg.Dir, fileName(start))
	if err := snapshot(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	result := &Result{Path: path, Size: info.Size()}
	if s.cfg.Verify {
		if err := verify(ctx, path); err != nil {
			return nil, fmt.Errorf("snapshot verification failed: %w", err)
		}
		result.Verified = true
	}

	s.mu.Lock()
	s.last = start
	s.mu.Unlock()

	pruned, err := Prune(s.cfg.Dir, s.cfg.Retention, start)
	if err != nil {
		s.logger.Warn("failed to apply backup retention", "error", err)
	}
	result.Pruned = pruned
	result.Duration = s.now().Sub(start)
	return result, nil
}

// List returns the snapshots, newest first.
func (s *Service) List() ([]Info, error) {
	return List(s.cfg.Dir)
}

// LastBackup returns when the last successful snapshot started, or the zero
// time.
func (s *Service) LastBackup() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Restore replaces the database with the snapshot at path. The database must
// not be open in any process. The current database is snapshotted first and
// put back if the restore fails.
func (s *Service) Restore(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	rollback := s.cfg.DBPath + ".pre-restore"
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		_ = os.Remove(rollback)
		if err := snapshot(ctx, s.cfg.DBPath, rollback); err != nil {
			return fmt.Errorf("failed to create pre-restore snapshot: %w", err)
		}
		defer func() { _ = os.Remove(rollback) }()
	}

	if err := copyFile(ctx, path, s.cfg.DBPath); err != nil {
		if _, statErr := os.Stat(rollback); statErr == nil {
			if rbErr := copyFile(ctx, rollback, s.cfg.DBPath); rbErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("restore failed, rolled back to previous state: %w", err)
		}
		return err
	}

	s.logger.Info("database restored", "from", path)
	return nil
}
