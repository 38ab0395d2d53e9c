package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/flowstream/internal/config"
	"github.com/rickgao/flowstream/internal/connection"
	"github.com/rickgao/flowstream/internal/stream"
)

// supervise keeps the recorder topics subscribed. The client reconnects on
// its own after an abnormal close but stops after max_retries; this loop
// re-opens the connection after a failed first dial or a give-up.
func supervise(ctx context.Context, client *stream.Client, cfg config.StreamConfig, logger *slog.Logger) error {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	failures := 0
	wait := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		if client.IsConnected() {
			failures = 0
			wait = interval
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+time.Second)
		err := client.Connect(attemptCtx, cfg.Topics...)
		cancel()

		if err == nil {
			if failures > 0 {
				logger.Info("stream connected", "after_failures", failures)
			}
			failures = 0
			wait = interval
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		wait = connection.Backoff(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay, failures)
		failures++
		logger.Warn("stream connect failed",
			"error", err,
			"failures", failures,
			"retry_in", wait,
		)
	}
}
