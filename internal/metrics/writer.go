package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HistoryRowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_history_rows_written_total",
		Help: "History rows upserted by the history writer",
	})

	HistoryWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_history_write_errors_total",
		Help: "Failed history writer flushes",
	})

	HistoryFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowstream_history_flush_duration_seconds",
		Help:    "Duration of history writer flushes",
		Buckets: prometheus.DefBuckets,
	})
)
