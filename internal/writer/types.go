package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for the history writer.
type WriterConfig struct {
	// BatchSize is the number of updates to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the input queue.
	BufferSize int

	// FlushTimeout bounds a single database round trip.
	FlushTimeout time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
		FlushTimeout:  10 * time.Second,
	}
}

// BatchSender is the part of *pgxpool.Pool the writer uses.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// historyRow represents a row in the execution_history table.
type historyRow struct {
	ExecutionID  string
	Status       string
	WorkflowID   string
	WorkflowName string
	TriggeredBy  string
	StartedAt    string
	CompletedAt  string
	DurationMs   *float64
	IsComplete   bool
	UpdatedAt    int64 // Microseconds, time the update was received
}

// WriterMetrics holds counters for the history writer.
type WriterMetrics struct {
	Received  int64
	Dropped   int64 // received after Stop
	Coalesced int64 // superseded within a batch
	Upserts   int64
	Skipped   int64 // rejected by the completed-row guard
	Errors    int64
	Flushes   int64
}
