package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// inboundFrame is one raw frame with its local receive time.
type inboundFrame struct {
	data       []byte
	receivedAt time.Time
}

// wsConn is one physical WebSocket connection. The session builds a fresh
// one for every connect attempt and discards it on close; nothing here is
// reusable across reconnects.
type wsConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	frames chan inboundFrame
	errs   chan error
	done   chan struct{}

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
}

// dialConn opens the WebSocket and starts its read pump.
func dialConn(ctx context.Context, cfg Config, logger *slog.Logger) (*wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	w := &wsConn{
		conn:         conn,
		logger:       logger,
		frames:       make(chan inboundFrame, cfg.ReadBufferSize),
		errs:         make(chan error, 1),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
	}

	go w.readLoop()

	logger.Debug("websocket connected", "url", cfg.URL)
	return w, nil
}

// send writes one text frame. Writes are serialized; the deadline bounds a
// stalled peer.
func (w *wsConn) send(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// close tears the connection down. Safe to call more than once and from any
// goroutine.
func (w *wsConn) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		w.conn.Close()
	})
}

// readLoop pumps raw frames to the session until the connection dies. Frames
// are never dropped: when the channel is full the pump waits, and TCP
// backpressure does the rest.
func (w *wsConn) readLoop() {
	for {
		_, data, err := w.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-w.done:
			case w.errs <- err:
			}
			return
		}

		select {
		case w.frames <- inboundFrame{data: data, receivedAt: receivedAt}:
		case <-w.done:
			return
		}
	}
}
