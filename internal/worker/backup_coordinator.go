package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Maverick0351a/latticedb/internal/snapshot"
)

// BackupCoordinator periodically archives the database root's attested
// surface and hands it to the configured uploader. With the NoopUploader
// this worker is effectively idle.
type BackupCoordinator struct {
	uploader snapshot.Uploader
	root     string
	interval time.Duration
}

// NewBackupCoordinator creates a coordinator for the given database root.
func NewBackupCoordinator(uploader snapshot.Uploader, root string, interval time.Duration) *BackupCoordinator {
	return &BackupCoordinator{uploader: uploader, root: root, interval: interval}
}

// Run starts the coordinator loop.
func (c *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.backupOnce(ctx)
		}
	}
}

func (c *BackupCoordinator) backupOnce(ctx context.Context) {
	if err := c.uploader.Upload(ctx, c.root); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("backup failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "backup_failed",
			"error", err,
		)
		return
	}
	slog.Info("backup uploaded",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "backup_complete",
	)
}
