package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dvote-labs/dvote-stream/internal/bridge"
	"github.com/dvote-labs/dvote-stream/internal/journal"
	"github.com/dvote-labs/dvote-stream/internal/realtime"
)

// Register binds relay statistics to the given registry. The journal and
// bridge are optional; pass nil for components that are not running.
func Register(reg prometheus.Registerer, sess *realtime.Session, jrn *journal.Journal, brg *bridge.Bridge) {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dvote_relay_session_state",
		Help: "Session state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed",
	}, func() float64 {
		return float64(sess.State())
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_session_connects_total",
		Help: "Connections successfully established, including reconnects",
	}, func() float64 {
		return float64(sess.Stats().Connects)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_session_frames_received_total",
		Help: "Frames read off the transport",
	}, func() float64 {
		return float64(sess.Stats().FramesReceived)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_session_frames_sent_total",
		Help: "Frames written to the transport",
	}, func() float64 {
		return float64(sess.Stats().FramesSent)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_session_events_dispatched_total",
		Help: "Event deliveries to subscription handlers",
	}, func() float64 {
		return float64(sess.Stats().EventsDispatched)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_session_parse_errors_total",
		Help: "Inbound frames dropped as malformed",
	}, func() float64 {
		return float64(sess.Stats().ParseErrors)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_session_heartbeat_timeouts_total",
		Help: "Connections declared stale by the heartbeat monitor",
	}, func() float64 {
		return float64(sess.Stats().HeartbeatTimeouts)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_session_handler_panics_total",
		Help: "Subscriber callbacks that panicked during dispatch",
	}, func() float64 {
		return float64(sess.Stats().HandlerPanics)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dvote_relay_queue_depth",
		Help: "Messages waiting in the outbound queue",
	}, func() float64 {
		return float64(sess.Stats().QueueDepth)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_queue_evictions_total",
		Help: "Oldest-first evictions from the outbound queue",
	}, func() float64 {
		return float64(sess.Stats().QueueEvictions)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dvote_relay_subscription_channels",
		Help: "Channels with at least one registered subscriber",
	}, func() float64 {
		return float64(sess.Stats().Channels)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dvote_relay_subscribers",
		Help: "Registered subscription handlers across all channels",
	}, func() float64 {
		return float64(sess.Stats().Subscribers)
	})

	if jrn != nil {
		registerJournal(factory, jrn)
	}
	if brg != nil {
		registerBridge(factory, brg)
	}
}

func registerJournal(factory promauto.Factory, jrn *journal.Journal) {
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_journal_inserts_total",
		Help: "Event rows written to the journal",
	}, func() float64 {
		return float64(jrn.Stats().Inserts)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_journal_conflicts_total",
		Help: "Event rows skipped because they were already journaled",
	}, func() float64 {
		return float64(jrn.Stats().Conflicts)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_journal_errors_total",
		Help: "Failed journal batch inserts",
	}, func() float64 {
		return float64(jrn.Stats().Errors)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_journal_flushes_total",
		Help: "Journal batch flushes",
	}, func() float64 {
		return float64(jrn.Stats().Flushes)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_journal_drops_total",
		Help: "Events dropped because the journal buffer was full",
	}, func() float64 {
		return float64(jrn.Stats().Drops)
	})
}

func registerBridge(factory promauto.Factory, brg *bridge.Bridge) {
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_bridge_published_total",
		Help: "Events republished to Redis",
	}, func() float64 {
		return float64(brg.Stats().Published)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_bridge_errors_total",
		Help: "Failed Redis publishes",
	}, func() float64 {
		return float64(brg.Stats().Errors)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "dvote_relay_bridge_drops_total",
		Help: "Events dropped because the bridge buffer was full",
	}, func() float64 {
		return float64(brg.Stats().Drops)
	})
}
