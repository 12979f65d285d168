package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dvote-labs/dvote-stream/internal/wire"
)

// Config contains publishing settings for the bridge.
type Config struct {
	// ChannelPrefix namespaces the Redis topics. An event on gateway
	// channel "votes" is published to "<prefix>.votes".
	ChannelPrefix string

	// BufferSize is the capacity of the ingest buffer. Ingest drops
	// events once it is full rather than blocking the dispatcher.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChannelPrefix: "dvote.events",
		BufferSize:    4096,
	}
}

// Metrics holds counters for the bridge.
type Metrics struct {
	Published int64
	Errors    int64
	Drops     int64
}

// Bridge republishes dispatched events to Redis pub/sub.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	// Input from the session dispatcher
	in chan wire.Message

	client *redis.Client

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics Metrics
}

// New creates a Bridge publishing through the given client. The caller
// owns the client and its liveness check.
func New(cfg Config, client *redis.Client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		client: client,
		logger: logger,
		in:     make(chan wire.Message, cfg.BufferSize),
	}
}

// Ingest accepts a dispatched event. It is safe to register directly as a
// subscription handler: when the buffer is full the event is dropped and
// counted instead of blocking the dispatcher.
func (b *Bridge) Ingest(msg wire.Message) {
	select {
	case b.in <- msg:
	default:
		b.mu.Lock()
		b.metrics.Drops++
		b.mu.Unlock()
		b.logger.Warn("bridge buffer full, dropping event",
			"type", msg.Type,
			"channel", msg.Channel,
		)
	}
}

// Start begins consuming events and publishing to Redis.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.consumeLoop()

	b.logger.Info("bridge started", "channel_prefix", b.cfg.ChannelPrefix)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info("stopping bridge")

	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("bridge stopped")
	case <-ctx.Done():
		b.logger.Warn("bridge stop timed out")
	}

	return nil
}

// Stats returns current metrics.
func (b *Bridge) Stats() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// consumeLoop reads from the ingest buffer and publishes each event.
func (b *Bridge) consumeLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.in:
			b.publish(msg)
		}
	}
}

// topic maps a gateway channel to its Redis topic. Unchanneled broadcast
// events land on the bare prefix.
func (b *Bridge) topic(channel string) string {
	if channel == "" {
		return b.cfg.ChannelPrefix
	}
	return b.cfg.ChannelPrefix + "." + channel
}

// publish re-encodes the frame and sends it to the channel topic.
func (b *Bridge) publish(msg wire.Message) {
	data, err := wire.Encode(msg)
	if err != nil {
		b.mu.Lock()
		b.metrics.Errors++
		b.mu.Unlock()
		b.logger.Warn("bridge encode failed", "error", err, "type", msg.Type)
		return
	}

	topic := b.topic(msg.Channel)
	if err := b.client.Publish(b.ctx, topic, data).Err(); err != nil {
		b.mu.Lock()
		b.metrics.Errors++
		b.mu.Unlock()
		b.logger.Warn("bridge publish failed", "error", err, "topic", topic)
		return
	}

	b.mu.Lock()
	b.metrics.Published++
	b.mu.Unlock()

	b.logger.Debug("republished event", "topic", topic, "type", msg.Type)
}
