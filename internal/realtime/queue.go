package realtime

import (
	"sync"
	"time"

	"github.com/dvote-labs/dvote-stream/internal/wire"
)

// queueEntry is one buffered outbound message.
type queueEntry struct {
	msg        wire.Message
	enqueuedAt time.Time
}

// outboundQueue buffers messages composed while the transport is down. FIFO
// order is preserved for the queue's lifetime; entries leave only through
// drain, clear, or capacity eviction of the oldest.
type outboundQueue struct {
	mu        sync.Mutex
	entries   []queueEntry
	max       int
	evictions int64
}

func newOutboundQueue(max int) *outboundQueue {
	return &outboundQueue{max: max}
}

// enqueue appends a message, evicting the oldest entry first when the queue
// is at capacity. Reports whether an eviction happened.
func (q *outboundQueue) enqueue(msg wire.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.entries) >= q.max {
		q.entries = q.entries[1:]
		q.evictions++
		evicted = true
	}
	q.entries = append(q.entries, queueEntry{msg: msg, enqueuedAt: time.Now()})
	return evicted
}

// drain removes and returns all entries in FIFO order.
func (q *outboundQueue) drain() []queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entries
	q.entries = nil
	return entries
}

// restore puts drained entries back at the front of the queue, in their
// original order and ahead of anything enqueued since. A flush that dies
// partway through hands its unsent remainder back here.
func (q *outboundQueue) restore(entries []queueEntry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]queueEntry, 0, len(entries)+len(q.entries))
	merged = append(merged, entries...)
	merged = append(merged, q.entries...)
	q.entries = merged
}

// clear discards all entries and returns how many were dropped.
func (q *outboundQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	return n
}

func (q *outboundQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *outboundQueue) evictionCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evictions
}
