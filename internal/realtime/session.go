package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvote-labs/dvote-stream/internal/wire"
)

// Session owns one logical connection to the governance event gateway. It is
// constructed explicitly, handed to its consumers, and torn down by the
// caller; there is no shared global instance.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	state      ConnectionState
	lastErr    error
	baseCtx    context.Context
	baseCancel context.CancelFunc

	// epoch numbers each connect attempt. Results and errors carry the
	// epoch they belong to; anything from an older epoch is discarded, so a
	// dial that completes after Disconnect can never promote itself.
	epoch      uint64
	conn       *wsConn
	connCancel context.CancelFunc

	retryTimer *time.Timer
	attempt    int

	hbLastPingSent time.Time
	hbLastPong     time.Time

	// wireSubs tracks channels subscribed on the current connection, so a
	// channel gets exactly one subscribe frame no matter how many local
	// consumers it has.
	wireSubs map[string]struct{}

	metrics sessionMetrics

	registry *registry
	queue    *outboundQueue

	stateCh chan StateChange
}

// NewSession builds a session from cfg. Zero config fields take defaults.
// The session does nothing until Connect.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Session{
		cfg:      cfg,
		logger:   logger,
		state:    StateDisconnected,
		registry: newRegistry(),
		queue:    newOutboundQueue(cfg.QueueMaxSize),
		stateCh:  make(chan StateChange, cfg.StateBufferSize),
	}
}

// Disabled reports whether the session was configured without a realtime
// transport.
func (s *Session) Disabled() bool {
	return s.cfg.Disabled
}

// Connect starts the connection lifecycle. Valid from StateDisconnected or
// StateFailed; the dial itself happens in the background and the outcome
// shows up as a state transition. ctx bounds the whole lifecycle: cancelling
// it behaves like Disconnect. Connect does not reset the retry budget; only
// a Connected transition or Reconnect does.
func (s *Session) Connect(ctx context.Context) error {
	if s.cfg.Disabled {
		return ErrDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected && s.state != StateFailed {
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, s.state)
	}

	if s.baseCancel != nil {
		s.baseCancel()
	}
	s.baseCtx, s.baseCancel = context.WithCancel(ctx)
	s.transitionLocked(StateConnecting, nil)
	s.dialLocked()
	return nil
}

// Reconnect resets the retry budget and dials again. Valid from
// StateDisconnected, StateFailed, or StateReconnecting (where it cancels the
// pending retry and goes now). This is the only way out of StateFailed.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.cfg.Disabled {
		return ErrDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnecting, StateConnected:
		return fmt.Errorf("%w: reconnect from %s", ErrInvalidState, s.state)
	case StateReconnecting:
		s.stopRetryLocked()
	}

	s.attempt = 0
	if s.baseCancel != nil {
		s.baseCancel()
	}
	s.baseCtx, s.baseCancel = context.WithCancel(ctx)
	s.transitionLocked(StateConnecting, nil)
	s.dialLocked()
	return nil
}

// Disconnect tears the session down: cancels timers and loops, closes the
// transport, clears the outbound queue. Valid from any state, idempotent,
// never triggers reconnection. The subscription registry survives, so a
// later Connect replays it.
func (s *Session) Disconnect() {
	if s.cfg.Disabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRetryLocked()
	s.closeConnLocked()
	s.epoch++

	if n := s.queue.clear(); n > 0 {
		s.logger.Debug("outbound queue cleared", "dropped", n)
	}

	s.releaseBaseLocked()

	if s.state != StateDisconnected {
		s.transitionLocked(StateDisconnected, nil)
	}
}

// releaseBaseLocked cancels the lifecycle context so nothing derived from it
// outlives the session's active phase.
func (s *Session) releaseBaseLocked() {
	if s.baseCancel != nil {
		s.baseCancel()
		s.baseCancel = nil
	}
	s.baseCtx = nil
}

// Send transmits an application event, or queues it while the transport is
// down. It never blocks on network progress and transport trouble is never
// surfaced here; it shows up as a state transition instead. Control types
// are rejected with wire.ErrReserved, unencodable messages with
// wire.ErrMalformed.
func (s *Session) Send(msg wire.Message) error {
	if s.cfg.Disabled {
		return nil
	}
	if msg.IsControl() {
		return fmt.Errorf("%w: %s", wire.ErrReserved, msg.Type)
	}
	// A message the codec rejects is the caller's problem, not transport
	// trouble; it must not reach the connection or the queue.
	if _, err := wire.Encode(msg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected && s.conn != nil {
		if err := s.writeLocked(s.conn, msg); err != nil {
			// The transport is dying mid-send: keep the message for the
			// next flush and take the unexpected-close path.
			s.queue.enqueue(msg)
			s.handleConnErrorLocked(s.epoch, err)
		}
		return nil
	}

	if evicted := s.queue.enqueue(msg); evicted {
		s.logger.Debug("outbound queue full, dropped oldest entry")
	}
	return nil
}

// Subscribe registers a handler for a channel and returns its handle. An
// empty consumerID gets a generated one; re-subscribing the same consumerID
// on the same channel replaces the handler in place, with no extra wire
// traffic and still exactly one delivery per inbound event. The first
// consumer on a channel triggers a subscribe frame when connected.
func (s *Session) Subscribe(channel, consumerID string, h Handler) Subscription {
	if s.cfg.Disabled || h == nil {
		return Subscription{}
	}
	if consumerID == "" {
		consumerID = uuid.NewString()
	}

	s.registry.add(channel, consumerID, h)

	// The broadcast channel is implicit on the server side; only named
	// channels get a subscribe frame.
	if channel != BroadcastChannel {
		s.mu.Lock()
		if s.state == StateConnected && s.conn != nil {
			if _, subscribed := s.wireSubs[channel]; !subscribed {
				s.wireSubs[channel] = struct{}{}
				if err := s.writeLocked(s.conn, wire.NewSubscribe(channel)); err != nil {
					s.handleConnErrorLocked(s.epoch, err)
				}
			}
		}
		s.mu.Unlock()
	}

	return Subscription{Channel: channel, ConsumerID: consumerID}
}

// Unsubscribe removes a previously returned subscription and reports whether
// it was registered. When the channel's last consumer leaves, an unsubscribe
// frame is sent if connected; otherwise the channel is simply dropped and
// will not be replayed.
func (s *Session) Unsubscribe(sub Subscription) bool {
	if s.cfg.Disabled || sub.ConsumerID == "" {
		return false
	}

	removed, emptied := s.registry.remove(sub.Channel, sub.ConsumerID)
	if !removed {
		return false
	}

	if emptied && sub.Channel != BroadcastChannel {
		s.mu.Lock()
		if _, subscribed := s.wireSubs[sub.Channel]; subscribed {
			delete(s.wireSubs, sub.Channel)
			if s.state == StateConnected && s.conn != nil {
				if err := s.writeLocked(s.conn, wire.NewUnsubscribe(sub.Channel)); err != nil {
					s.handleConnErrorLocked(s.epoch, err)
				}
			}
		}
		s.mu.Unlock()
	}
	return true
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent transport or lifecycle error, nil if the
// session has not failed at anything yet.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// StateChanges returns the transition feed. The channel is buffered and
// transitions are dropped rather than ever blocking the session, so it is a
// notification stream, not a ledger.
func (s *Session) StateChanges() <-chan StateChange {
	return s.stateCh
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	st := SessionStats{
		State:             s.state,
		FramesReceived:    s.metrics.framesReceived,
		FramesSent:        s.metrics.framesSent,
		EventsDispatched:  s.metrics.eventsDispatched,
		ParseErrors:       s.metrics.parseErrors,
		Connects:          s.metrics.connects,
		HeartbeatTimeouts: s.metrics.heartbeatTimeouts,
		HandlerPanics:     s.metrics.handlerPanics,
	}
	s.mu.Unlock()

	st.QueueDepth = s.queue.depth()
	st.QueueEvictions = s.queue.evictionCount()
	st.Channels, st.Subscribers = s.registry.counts()
	return st
}

// ----------------------------------------------------------------------------
// State machine internals. Methods suffixed Locked expect s.mu held.
// ----------------------------------------------------------------------------

// transitionLocked moves the state machine and fans the change out.
func (s *Session) transitionLocked(to ConnectionState, cause error) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if cause != nil {
		s.lastErr = cause
	}

	switch to {
	case StateConnecting:
		s.logger.Debug("connecting", "url", s.cfg.URL, "attempt", s.attempt)
	case StateConnected:
		s.logger.Info("connected", "url", s.cfg.URL)
	case StateReconnecting:
		s.logger.Warn("connection lost, reconnecting", "error", cause)
	case StateFailed:
		s.logger.Error("retry budget exhausted", "error", cause, "attempts", s.attempt)
	case StateDisconnected:
		s.logger.Info("disconnected")
	}

	select {
	case s.stateCh <- StateChange{From: from, To: to, Err: cause, At: time.Now()}:
	default:
	}
}

// dialLocked launches a dial under a fresh epoch. State is already
// Connecting.
func (s *Session) dialLocked() {
	s.epoch++
	epoch := s.epoch
	ctx := s.baseCtx
	go s.dial(ctx, epoch)
}

// dial runs off the session goroutine; everything it learns is re-validated
// against the epoch before it touches session state.
func (s *Session) dial(ctx context.Context, epoch uint64) {
	conn, err := dialConn(ctx, s.cfg, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state != StateConnecting {
		// Disconnect or a newer attempt won the race; a late socket is
		// closed, never promoted.
		if conn != nil {
			conn.close()
		}
		return
	}

	if err != nil {
		s.connectFailedLocked(err)
		return
	}

	s.onConnectedLocked(conn)
}

// connectFailedLocked decides between another retry and StateFailed.
func (s *Session) connectFailedLocked(err error) {
	s.lastErr = err

	if s.baseCtx == nil || s.baseCtx.Err() != nil {
		// The lifecycle context is gone; stop quietly.
		s.releaseBaseLocked()
		s.transitionLocked(StateDisconnected, nil)
		return
	}

	if s.attempt >= s.cfg.ReconnectMaxAttempts {
		s.releaseBaseLocked()
		s.transitionLocked(StateFailed, err)
		return
	}

	s.transitionLocked(StateReconnecting, err)

	delay := reconnectDelay(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectDecayFactor, s.attempt, s.cfg.ReconnectMaxDelay)
	s.attempt++
	epoch := s.epoch
	s.retryTimer = time.AfterFunc(delay, func() { s.retryFire(epoch) })

	s.logger.Info("retry scheduled", "attempt", s.attempt, "delay", delay)
}

// retryFire re-enters Connecting when the backoff timer lands, unless the
// session moved on in the meantime.
func (s *Session) retryFire(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReconnecting || epoch != s.epoch {
		return
	}
	s.retryTimer = nil
	s.transitionLocked(StateConnecting, nil)
	s.dialLocked()
}

// onConnectedLocked installs the new connection and performs the opening
// sequence: reset the retry budget and heartbeat clocks, start the pumps,
// then authenticate, flush the outbound queue FIFO, and replay one subscribe
// per registered channel. The lock is held throughout so no concurrent Send
// can slip a frame in between.
func (s *Session) onConnectedLocked(conn *wsConn) {
	s.conn = conn
	s.wireSubs = make(map[string]struct{})
	s.attempt = 0
	s.metrics.connects++

	now := time.Now()
	s.hbLastPingSent = now
	s.hbLastPong = now

	connCtx, cancel := context.WithCancel(s.baseCtx)
	s.connCancel = cancel
	epoch := s.epoch

	s.transitionLocked(StateConnected, nil)

	go s.connLoop(connCtx, conn, epoch)
	go s.heartbeatLoop(connCtx, conn, epoch)

	if s.cfg.TokenSource != nil {
		token, err := s.cfg.TokenSource()
		if err != nil {
			s.logger.Error("identity token unavailable, continuing unauthenticated", "error", err)
		} else if err := s.writeLocked(conn, wire.NewAuthenticate(token)); err != nil {
			s.handleConnErrorLocked(epoch, err)
			return
		}
	}

	entries := s.queue.drain()
	for i, e := range entries {
		if err := s.writeLocked(conn, e.msg); err != nil {
			// The failed entry and everything behind it go back to the
			// front, so the next Connected transition flushes them in the
			// same order.
			s.queue.restore(entries[i:])
			s.handleConnErrorLocked(epoch, err)
			return
		}
	}
	if len(entries) > 0 {
		s.logger.Debug("outbound queue flushed", "count", len(entries))
	}

	for _, ch := range s.registry.channelList() {
		if ch == BroadcastChannel {
			continue
		}
		s.wireSubs[ch] = struct{}{}
		if err := s.writeLocked(conn, wire.NewSubscribe(ch)); err != nil {
			s.handleConnErrorLocked(epoch, err)
			return
		}
	}
}

// handleConnError routes a connection failure into the reconnect schedule.
func (s *Session) handleConnError(epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handleConnErrorLocked(epoch, err)
}

func (s *Session) handleConnErrorLocked(epoch uint64, err error) {
	if epoch != s.epoch || s.state != StateConnected {
		// Stale report from a connection already replaced or torn down.
		return
	}
	s.closeConnLocked()
	s.connectFailedLocked(err)
}

// closeConnLocked shuts down the current connection and its pumps.
func (s *Session) closeConnLocked() {
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
	s.wireSubs = nil
}

func (s *Session) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// writeLocked encodes and transmits one frame on the given connection.
func (s *Session) writeLocked(conn *wsConn, msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.send(data); err != nil {
		return err
	}
	s.metrics.framesSent++
	return nil
}

// sendFrame is the unlocked variant used by the pumps; a failed write is the
// connection's problem, not the caller's.
func (s *Session) sendFrame(conn *wsConn, epoch uint64, msg wire.Message) {
	data, err := wire.Encode(msg)
	if err != nil {
		return
	}
	if err := conn.send(data); err != nil {
		s.handleConnError(epoch, err)
		return
	}
	s.mu.Lock()
	s.metrics.framesSent++
	s.mu.Unlock()
}

// connLoop is the session's inbound event loop: every frame of the
// connection is decoded, control frames are consumed, and application events
// are dispatched synchronously from here.
func (s *Session) connLoop(ctx context.Context, conn *wsConn, epoch uint64) {
	for {
		select {
		case <-ctx.Done():
			s.lifecycleCancelled(epoch, conn)
			return
		case err := <-conn.errs:
			s.handleConnError(epoch, err)
			return
		case f := <-conn.frames:
			s.handleFrame(conn, epoch, f)
		}
	}
}

// lifecycleCancelled handles the caller's context dying under a healthy
// connection: the session tears down as if Disconnect had been called. Every
// session-initiated teardown has already moved the state or the connection on
// before the cancel propagates, so this only fires for an external cancel.
func (s *Session) lifecycleCancelled(epoch uint64, conn *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state != StateConnected || s.conn != conn {
		return
	}
	s.closeConnLocked()
	s.queue.clear()
	s.releaseBaseLocked()
	s.transitionLocked(StateDisconnected, nil)
}

func (s *Session) handleFrame(conn *wsConn, epoch uint64, f inboundFrame) {
	s.mu.Lock()
	s.metrics.framesReceived++
	s.mu.Unlock()

	msg, err := wire.Decode(f.data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		s.mu.Lock()
		s.metrics.parseErrors++
		s.mu.Unlock()
		return
	}

	switch msg.Kind() {
	case wire.KindPong:
		s.mu.Lock()
		s.hbLastPong = f.receivedAt
		s.mu.Unlock()

	case wire.KindPing:
		// Answer, but do not credit liveness: only pongs prove the gateway
		// is answering our probes.
		s.sendFrame(conn, epoch, wire.NewPong())

	case wire.KindSubscribe, wire.KindUnsubscribe, wire.KindAuthenticate:
		s.logger.Debug("ignoring inbound control frame", "type", msg.Type)

	default:
		s.dispatch(msg)
	}
}

// dispatch fans one validated event out to the channel's consumers in
// registration order. A panicking handler is isolated; its siblings still
// get the event.
func (s *Session) dispatch(msg wire.Message) {
	handlers := s.registry.handlers(msg.Channel)
	if len(handlers) == 0 {
		return
	}

	panics := 0
	for _, h := range handlers {
		if s.invoke(h, msg) {
			panics++
		}
	}

	s.mu.Lock()
	s.metrics.eventsDispatched++
	s.metrics.handlerPanics += int64(panics)
	s.mu.Unlock()
}

func (s *Session) invoke(h Handler, msg wire.Message) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.logger.Error("subscriber callback panicked",
				"type", msg.Type,
				"channel", msg.Channel,
				"panic", r,
			)
		}
	}()
	h(msg)
	return false
}
