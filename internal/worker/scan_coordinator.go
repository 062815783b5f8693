package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Maverick0351a/latticedb/internal/receipt"
)

// DirIngestor ingests new files from a watched directory. This interface
// allows testing with mock implementations.
type DirIngestor interface {
	IngestDir(ctx context.Context, dir string) ([]*receipt.Lattice, error)
}

// ScanCoordinator periodically scans a watch directory and ingests files
// whose content is not yet in the store. Content dedup lives in the ingest
// layer, so repeated scans of unchanged directories are cheap no-ops.
type ScanCoordinator struct {
	ingestor DirIngestor
	dir      string
	interval time.Duration
}

// NewScanCoordinator creates a coordinator over the given watch directory.
func NewScanCoordinator(ingestor DirIngestor, dir string, interval time.Duration) *ScanCoordinator {
	return &ScanCoordinator{ingestor: ingestor, dir: dir, interval: interval}
}

// Run starts the coordinator loop.
func (c *ScanCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "scan-coordinator",
		"action", "worker_started",
		"dir", c.dir,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Scan immediately on start.
	c.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "scan-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.scanOnce(ctx)
		}
	}
}

// scanOnce runs a single scan pass.
func (c *ScanCoordinator) scanOnce(ctx context.Context) {
	recs, err := c.ingestor.IngestDir(ctx, c.dir)
	if err != nil {
		if ctx.Err() != nil {
			return // graceful shutdown, don't log a failure
		}
		slog.Error("scan failed",
			"component", "worker",
			"worker", "scan-coordinator",
			"action", "scan_failed",
			"error", err,
		)
		return
	}
	if len(recs) > 0 {
		slog.Info("scan ingested lattices",
			"component", "worker",
			"worker", "scan-coordinator",
			"action", "scan_complete",
			"ingested", len(recs),
		)
	}
}
