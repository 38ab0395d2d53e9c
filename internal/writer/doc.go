// Package writer persists derived history updates.
//
// HistoryWriter takes envelope.HistoryUpdate values from the router's
// global history handler, accumulates them in batches and upserts them into
// execution_history with pgx.Batch. Updates for the same execution inside
// one batch are coalesced to the latest. A completed row is only ever
// replaced by another completed row, and no row is replaced by an update
// received earlier than the stored one, so a late replay of a running
// status cannot move an execution backwards.
package writer
