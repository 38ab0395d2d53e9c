package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/flowstream/internal/connection"
	"github.com/rickgao/flowstream/internal/envelope"
	"github.com/rickgao/flowstream/internal/metrics"
)

const upsertHistory = `
	INSERT INTO execution_history (
		execution_id, status, workflow_id, workflow_name, triggered_by,
		started_at, completed_at, duration_ms, is_complete, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (execution_id) DO UPDATE SET
		status        = EXCLUDED.status,
		workflow_id   = COALESCE(NULLIF(EXCLUDED.workflow_id, ''), execution_history.workflow_id),
		workflow_name = COALESCE(NULLIF(EXCLUDED.workflow_name, ''), execution_history.workflow_name),
		triggered_by  = COALESCE(NULLIF(EXCLUDED.triggered_by, ''), execution_history.triggered_by),
		started_at    = COALESCE(NULLIF(EXCLUDED.started_at, ''), execution_history.started_at),
		completed_at  = COALESCE(NULLIF(EXCLUDED.completed_at, ''), execution_history.completed_at),
		duration_ms   = COALESCE(EXCLUDED.duration_ms, execution_history.duration_ms),
		is_complete   = EXCLUDED.is_complete,
		updated_at    = EXCLUDED.updated_at
	WHERE (NOT execution_history.is_complete OR EXCLUDED.is_complete)
		AND EXCLUDED.updated_at >= execution_history.updated_at
`

// HistoryWriter batches history updates into execution_history.
type HistoryWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *connection.Queue[historyRow]
	db    BatchSender
	now   func() time.Time

	batch   []historyRow
	batchMu sync.Mutex

	// flushMu serializes flushes so batches commit in the order they were
	// collected; the size trigger and the ticker both flush.
	flushMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewHistoryWriter creates a new HistoryWriter.
func NewHistoryWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *HistoryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	return &HistoryWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "history_writer"),
		input:  connection.NewQueue[historyRow](cfg.BufferSize),
		now:    time.Now,
		batch:  make([]historyRow, 0, cfg.BatchSize),
	}
}

// Handle queues a history update. It never blocks, so it can be registered
// directly as a history handler.
func (w *HistoryWriter) Handle(h envelope.HistoryUpdate) {
	if h.ExecutionID == "" {
		return
	}

	ok := w.input.Push(w.transform(h))

	w.batchMu.Lock()
	if ok {
		w.metrics.Received++
	} else {
		w.metrics.Dropped++
	}
	w.batchMu.Unlock()
}

// Start begins consuming updates and writing to the database.
func (w *HistoryWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued updates and performs a final flush.
func (w *HistoryWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
	}

	w.flush()
	w.logger.Info("history writer stopped", "upserts", w.Stats().Upserts)
	return nil
}

// Stats returns current metrics.
func (w *HistoryWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves updates from the queue into the batch until the queue
// is closed and empty.
func (w *HistoryWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		row, ok := w.input.Pop()
		if !ok {
			return
		}
		w.handleRow(row)
	}
}

// flushLoop periodically flushes the batch. Cancelling the parent context
// closes the queue so consumeLoop exits too.
func (w *HistoryWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.input.Close()
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *HistoryWriter) handleRow(row historyRow) {
	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts a history update to a historyRow.
func (w *HistoryWriter) transform(h envelope.HistoryUpdate) historyRow {
	return historyRow{
		ExecutionID:  h.ExecutionID,
		Status:       h.Status,
		WorkflowID:   h.WorkflowID,
		WorkflowName: h.WorkflowName,
		TriggeredBy:  h.TriggeredBy,
		StartedAt:    h.StartedAt,
		CompletedAt:  h.CompletedAt,
		DurationMs:   h.DurationMs,
		IsComplete:   h.IsComplete,
		UpdatedAt:    w.now().UnixMicro(),
	}
}

// coalesce keeps the last row per execution id, ordered by first
// appearance.
func coalesce(rows []historyRow) []historyRow {
	index := make(map[string]int, len(rows))
	out := make([]historyRow, 0, len(rows))
	for _, r := range rows {
		if i, ok := index[r.ExecutionID]; ok {
			out[i] = r
			continue
		}
		index[r.ExecutionID] = len(out)
		out = append(out, r)
	}
	return out
}

// flush writes the current batch to the database.
func (w *HistoryWriter) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]historyRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	rows := coalesce(batch)
	start := time.Now()

	skipped, err := w.batchUpsert(rows)
	metrics.HistoryFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error("batch upsert failed", "error", err, "count", len(rows))
		metrics.HistoryWriteErrorsTotal.Inc()
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	written := len(rows) - skipped
	metrics.HistoryRowsWrittenTotal.Add(float64(written))

	w.batchMu.Lock()
	w.metrics.Coalesced += int64(len(batch) - len(rows))
	w.metrics.Upserts += int64(written)
	w.metrics.Skipped += int64(skipped)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed history",
		"count", len(rows),
		"skipped", skipped,
		"duration", time.Since(start),
	)
}

// batchUpsert upserts rows using pgx.Batch. Rows refused by the
// completed-row or updated_at guard affect nothing and are counted as
// skipped.
func (w *HistoryWriter) batchUpsert(rows []historyRow) (skipped int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertHistory,
			r.ExecutionID, r.Status, r.WorkflowID, r.WorkflowName, r.TriggeredBy,
			r.StartedAt, r.CompletedAt, r.DurationMs, r.IsComplete, r.UpdatedAt,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
	defer cancel()

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			skipped++
		}
	}

	return skipped, nil
}
