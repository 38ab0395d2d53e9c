// recorder subscribes to the configured topics and persists every derived
// history update to PostgreSQL.
//
// Usage: go run ./cmd/recorder --config configs/recorder.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/flowstream/internal/config"
	"github.com/rickgao/flowstream/internal/database"
	"github.com/rickgao/flowstream/internal/stream"
	"github.com/rickgao/flowstream/internal/version"
	"github.com/rickgao/flowstream/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/recorder.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadRecorder(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recorder: load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout).With("instance_id", cfg.Instance.ID)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// History writer
	historyWriter := writer.NewHistoryWriter(writer.WriterConfig{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		BufferSize:    cfg.Writer.BufferSize,
	}, pool, logger)
	if err := historyWriter.Start(ctx); err != nil {
		logger.Error("failed to start history writer", "error", err)
		os.Exit(1)
	}

	// Stream client
	connCfg, err := stream.ManagerConfig(cfg, "recorder")
	if err != nil {
		logger.Error("failed to build stream configuration", "error", err)
		os.Exit(1)
	}
	client := stream.New(connCfg, logger)
	client.OnHistoryUpdate(historyWriter.Handle)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(cfg.Metrics.Path, pool, client, historyWriter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return supervise(gctx, client, cfg.Stream, logger)
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := client.Disconnect(shutdownCtx); err != nil {
			logger.Warn("stream disconnect failed", "error", err)
		}
		historyWriter.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("recorder running",
		"topics", cfg.Stream.Topics,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("recorder stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("recorder stopped", "upserts", historyWriter.Stats().Upserts)
}
