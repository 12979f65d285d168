package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvote-labs/dvote-stream/internal/model"
	"github.com/dvote-labs/dvote-stream/internal/wire"
)

// eventIDSpace is the namespace for content-derived event IDs.
var eventIDSpace = uuid.MustParse("f33f0cb2-50a2-4b66-9f0b-6a2e6a0bb1c4")

// Journal consumes dispatched events and writes them to the
// governance_events table in batches.
type Journal struct {
	cfg    Config
	logger *slog.Logger

	// Input from the session dispatcher
	in chan wire.Message

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// New creates a Journal writing through the given pool.
func New(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		cfg:    cfg,
		db:     db,
		logger: logger,
		in:     make(chan wire.Message, cfg.BufferSize),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Ingest accepts a dispatched event. It is safe to register directly as a
// subscription handler: when the buffer is full the event is dropped and
// counted instead of blocking the dispatcher.
func (w *Journal) Ingest(msg wire.Message) {
	select {
	case w.in <- msg:
	default:
		w.batchMu.Lock()
		w.metrics.Drops++
		w.batchMu.Unlock()
		w.logger.Warn("journal buffer full, dropping event",
			"type", msg.Type,
			"channel", msg.Channel,
		)
	}
}

// Start begins consuming events and writing to the database.
func (w *Journal) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the journal.
func (w *Journal) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("journal stopped")
	case <-ctx.Done():
		w.logger.Warn("journal stop timed out")
	}

	// Drain anything still buffered, then flush once more. The Stop
	// context drives the final insert since the run context is gone.
drain:
	for {
		select {
		case msg := <-w.in:
			w.batchMu.Lock()
			w.batch = append(w.batch, w.transform(msg))
			w.batchMu.Unlock()
		default:
			break drain
		}
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *Journal) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the ingest buffer and accumulates batches.
func (w *Journal) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.in:
			w.handleMessage(msg)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Journal) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage transforms and adds an event to the batch.
func (w *Journal) handleMessage(msg wire.Message) {
	row := w.transform(msg)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a wire event to an eventRow. The event ID is a SHA1
// UUID over the frame content, so the same frame always maps to the same
// row.
func (w *Journal) transform(msg wire.Message) eventRow {
	content := fmt.Sprintf("%s|%s|%s|%s", msg.Type, msg.Channel, msg.Timestamp, msg.Payload)

	var eventTs int64
	if msg.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			eventTs = ts.UnixMicro()
		}
	}

	return eventRow{
		EventID:    uuid.NewSHA1(eventIDSpace, []byte(content)).String(),
		EventType:  msg.Type,
		Channel:    msg.Channel,
		Ref:        model.Ref(msg.Type, msg.Payload),
		Payload:    []byte(msg.Payload),
		EventTs:    eventTs,
		ReceivedAt: time.Now().UnixMicro(),
	}
}

// flush writes the current batch to the database.
func (w *Journal) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Journal) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO governance_events (event_id, event_type, channel, ref, payload, event_ts, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO NOTHING
		`, r.EventID, r.EventType, r.Channel, r.Ref, r.Payload, r.EventTs, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
