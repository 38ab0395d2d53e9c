package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/flowstream/internal/stream"
	"github.com/rickgao/flowstream/internal/writer"
)

// newHandler serves /health and the Prometheus registry at metricsPath.
func newHandler(metricsPath string, pool *pgxpool.Pool, client *stream.Client, w *writer.HistoryWriter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check stream
		stats := client.Stats()
		health.Components["stream"] = map[string]any{
			"state":     stats.Connection.State.String(),
			"client_id": stats.Connection.Identity,
			"confirmed": stats.Connection.Confirmed,
			"pending":   stats.Connection.Pending,
		}
		if !client.IsConnected() && health.Status == "healthy" {
			health.Status = "degraded"
		}

		ws := w.Stats()
		health.Components["history_writer"] = map[string]int64{
			"received": ws.Received,
			"upserts":  ws.Upserts,
			"errors":   ws.Errors,
		}

		rw.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			rw.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(rw).Encode(health)
	})

	return mux
}
