// Package journal persists the governance event stream to PostgreSQL.
//
// Events arrive through Ingest (wired as a session handler), land in a
// bounded buffer, and are written in batches on size or interval. Rows are
// append-only. Event IDs are derived from frame content, so a frame the
// gateway redelivers across reconnects collapses onto the row already
// written.
package journal
