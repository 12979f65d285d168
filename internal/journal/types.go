package journal

import (
	"time"
)

// Config contains batching and buffering settings for the journal.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the capacity of the ingest buffer. Ingest drops
	// events once it is full rather than blocking the dispatcher.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    4096,
	}
}

// eventRow represents a row to be inserted into the governance_events table.
type eventRow struct {
	EventID    string // UUID, derived from frame content
	EventType  string
	Channel    string
	Ref        string // governance reference: proposal:<id>, member:<addr>, ...
	Payload    []byte // JSONB
	EventTs    int64  // Microseconds, 0 when the frame carried no timestamp
	ReceivedAt int64  // Microseconds
}

// Metrics holds counters for the journal.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Drops     int64
}
