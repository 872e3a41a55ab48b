// retention.go implements the RetentionCleaner background job, which periodically
// deletes audit entries older than the configured retention window. When archiving
// is enabled, eligible entries are first exported as an NDJSON snapshot to the
// archive backend; an archive failure aborts the deletion so no entry is lost
// before it has been preserved. Each completed cleanup is itself recorded in the
// audit trail, so the trail documents its own pruning.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/audit-sentinel/audit-sentinel/internal/audit"
	"github.com/audit-sentinel/audit-sentinel/internal/config"
	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
	"github.com/audit-sentinel/audit-sentinel/internal/db/repositories"
	"github.com/audit-sentinel/audit-sentinel/internal/storage"
	"github.com/audit-sentinel/audit-sentinel/internal/telemetry"
)

// EntryPruner is the repository surface the cleaner needs.
type EntryPruner interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]*models.AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupRecorder records the reflexive cleanup entry after a successful run.
type CleanupRecorder interface {
	Record(ctx context.Context, action models.Action, rc audit.RecordContext) string
}

var _ EntryPruner = (*repositories.AuditRepository)(nil)

// RetentionCleaner periodically prunes audit entries past the retention window.
type RetentionCleaner struct {
	repo     EntryPruner
	recorder CleanupRecorder
	archive  storage.Backend
	cfg      *config.RetentionConfig
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewRetentionCleaner creates a new RetentionCleaner. archive may be nil when
// retention.archive_enabled is false.
func NewRetentionCleaner(
	repo EntryPruner,
	recorder CleanupRecorder,
	archive storage.Backend,
	cfg *config.RetentionConfig,
) *RetentionCleaner {
	hours := cfg.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &RetentionCleaner{
		repo:     repo,
		recorder: recorder,
		archive:  archive,
		cfg:      cfg,
		interval: time.Duration(hours) * time.Hour,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup loop.
// It runs an initial pass immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c.cfg.ArchiveEnabled && c.archive == nil {
		slog.Error("retention cleaner: archiving enabled but no archive backend configured, not starting")
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("retention cleaner started",
		"interval", c.interval, "retention_days", c.cfg.Days, "archive", c.cfg.ArchiveEnabled)

	// Run once immediately on startup
	c.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			c.runCleanup(ctx)
		case <-c.stopChan:
			slog.Info("retention cleaner stopped")
			return
		case <-ctx.Done():
			slog.Info("retention cleaner context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (c *RetentionCleaner) Stop() {
	close(c.stopChan)
}

func (c *RetentionCleaner) runCleanup(ctx context.Context) {
	if _, err := c.Cleanup(ctx, c.cfg.Days); err != nil {
		slog.Error("retention cleanup failed", "error", err)
	}
}

// Cleanup deletes entries older than retentionDays and returns the number
// removed. It is also invoked on demand by the operator API, which may pass a
// tighter window than the configured default. Deleting nothing is a valid
// outcome, so repeated runs with the same cutoff are harmless.
func (c *RetentionCleaner) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retention days must be at least 1, got %d", retentionDays)
	}

	cutoff := c.now().UTC().AddDate(0, 0, -retentionDays)

	if c.cfg.ArchiveEnabled {
		if err := c.archiveBefore(ctx, cutoff); err != nil {
			// Never delete what has not been archived.
			return 0, fmt.Errorf("archive before delete failed: %w", err)
		}
	}

	deleted, err := c.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}

	if deleted > 0 {
		telemetry.RetentionDeleted.Add(float64(deleted))
		slog.Info("retention cleanup complete", "deleted", deleted, "cutoff", cutoff)
	}

	if c.recorder != nil {
		c.recorder.Record(ctx, models.ActionSystemAccess, audit.RecordContext{
			Metadata: &models.Metadata{
				CleanupCutoff: &cutoff,
				DeletedCount:  &deleted,
			},
		})
	}

	return deleted, nil
}

// archiveBefore exports every entry older than cutoff as one NDJSON snapshot.
// A run with nothing to export uploads nothing.
func (c *RetentionCleaner) archiveBefore(ctx context.Context, cutoff time.Time) error {
	entries, err := c.repo.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list expired entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", entry.ID, err)
		}
	}

	path := archivePath(c.now().UTC())
	result, err := c.archive.Upload(ctx, path, &buf, int64(buf.Len()))
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", path, err)
	}

	slog.Info("archived expired audit entries",
		"path", result.Path, "entries", len(entries), "bytes", result.Size, "sha256", result.Checksum)
	return nil
}

// archivePath builds a yyyy/mm-partitioned object key so bucket listings stay
// navigable as snapshots accumulate.
func archivePath(now time.Time) string {
	return fmt.Sprintf("%04d/%02d/audit-%s.ndjson",
		now.Year(), now.Month(), now.Format("20060102T150405Z"))
}
