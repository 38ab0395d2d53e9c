// Package database provides the PostgreSQL connection pool used by the
// history recorder.
//
// The recorder keeps one table, execution_history, keyed by execution id.
// Each row is the latest known state of a workflow execution.
package database
