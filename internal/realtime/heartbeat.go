package realtime

import (
	"context"
	"time"

	"github.com/dvote-labs/dvote-stream/internal/wire"
)

// heartbeatLoop probes liveness while the connection is up. A ping frame
// goes out every HeartbeatInterval; a separate check every
// HeartbeatCheckInterval compares pong silence against HeartbeatTimeout and
// forces the unexpected-close path on breach. This is the only way a
// half-open connection gets detected, since the transport itself reports
// nothing.
func (s *Session) heartbeatLoop(ctx context.Context, conn *wsConn, epoch uint64) {
	ping := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ping.Stop()
	check := time.NewTicker(s.cfg.HeartbeatCheckInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ping.C:
			s.mu.Lock()
			s.hbLastPingSent = time.Now()
			s.mu.Unlock()
			s.sendFrame(conn, epoch, wire.NewPing())

		case <-check.C:
			s.mu.Lock()
			stale := s.state == StateConnected && epoch == s.epoch &&
				time.Since(s.hbLastPong) > s.cfg.HeartbeatTimeout
			if stale {
				s.metrics.heartbeatTimeouts++
			}
			s.mu.Unlock()

			if stale {
				s.logger.Warn("no pong within timeout, forcing reconnect",
					"timeout", s.cfg.HeartbeatTimeout,
				)
				s.handleConnError(epoch, ErrStaleConnection)
				return
			}
		}
	}
}
