package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Maverick0351a/latticedb/internal/api"
	"github.com/Maverick0351a/latticedb/internal/compose"
	"github.com/Maverick0351a/latticedb/internal/config"
	"github.com/Maverick0351a/latticedb/internal/embedding"
	"github.com/Maverick0351a/latticedb/internal/ingest"
	"github.com/Maverick0351a/latticedb/internal/router"
	"github.com/Maverick0351a/latticedb/internal/snapshot"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "latticedb",
	Short: "LatticeDB - verifiable retrieval database",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Open the store with the attested config
	db, err := store.Open(cfg.Store.Root, config.NewAttested(cfg), time.Duration(cfg.Query.ManifestTTL))
	if err != nil {
		return err
	}
	slog.Info("store opened", "root", cfg.Store.Root, "config_hash", db.ConfigHash())

	// 5. Embedding adapter
	embedder := newEmbedder(cfg)
	slog.Info("embedder initialized", "provider", cfg.Embedding.Provider, "model", cfg.Embedding.Model)

	// 6. Query components
	rtr := router.New(db, cfg.ACL.StrictClaims)
	settler := compose.New(db, rtr, cfg.ACL.StrictClaims)
	ingestor := ingest.New(db, embedder)

	// 7. HTTP router
	handler := api.NewHandler(db, rtr, settler, ingestor, embedder, cfg.Auth.APIKey, Version, cfg.Query.RouteK)
	mux := api.NewRouter(handler, cfg.Query.MaxInFlight)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Background workers
	var wg sync.WaitGroup
	if cfg.Worker.WatchDir != "" {
		scan := worker.NewScanCoordinator(ingestor, cfg.Worker.WatchDir, time.Duration(cfg.Worker.ScanInterval))
		startWorker(ctx, &wg, "scan", scan.Run)
	}
	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}
	if _, ok := uploader.(*snapshot.NoopUploader); !ok {
		backup := worker.NewBackupCoordinator(uploader, cfg.Store.Root, time.Duration(cfg.Backup.Interval))
		startWorker(ctx, &wg, "backup", backup.Run)
	}

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully; anything else triggers shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()
	rtr.Close()
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newEmbedder picks the embedding adapter from config.
func newEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.Embedding.Provider == "openai" {
		return embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.SPD.Dim)
	}
	return embedding.NewLocal(cfg.Embedding.Model, cfg.SPD.Dim)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

func main() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(receiptCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
