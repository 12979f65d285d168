package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/dvote-labs/dvote-stream/internal/wire"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

// mockWSServerMulti numbers each accepted connection so tests can treat the
// first connection and reconnections differently.
func mockWSServerMulti(t *testing.T, handler func(int, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	var mu sync.Mutex
	connCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		mu.Lock()
		connCount++
		id := connCount
		mu.Unlock()

		handler(id, conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// pumpFrames decodes every frame the server receives into out until the
// connection dies.
func pumpFrames(conn *websocket.Conn, out chan<- wire.Message) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			continue
		}
		out <- msg
	}
}

func expectFrame(t *testing.T, frames <-chan wire.Message, wantType string, timeout time.Duration) wire.Message {
	t.Helper()
	select {
	case msg := <-frames:
		if msg.Type != wantType {
			t.Fatalf("frame type = %q, want %q", msg.Type, wantType)
		}
		return msg
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for %q frame", wantType)
		return wire.Message{}
	}
}

func waitForState(t *testing.T, s *Session, want ConnectionState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

func subscribeChannel(t *testing.T, msg wire.Message) string {
	t.Helper()
	var p wire.SubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decode subscribe payload: %v", err)
	}
	return p.Channel
}

func TestSession_ConnectDeliversSubscribedEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.Kind() == wire.KindSubscribe {
				event := `{"type":"proposalCreated","channel":"proposals","payload":{"id":7}}`
				conn.WriteMessage(websocket.TextMessage, []byte(event))
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	received := make(chan wire.Message, 4)
	sess.Subscribe("proposals", "ui-1", func(msg wire.Message) {
		received <- msg
	})

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var got wire.Message
	select {
	case got = <-received:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event delivery")
	}

	if got.Type != "proposalCreated" {
		t.Errorf("event type = %q, want proposalCreated", got.Type)
	}
	if got.Channel != "proposals" {
		t.Errorf("event channel = %q, want proposals", got.Channel)
	}
	var payload struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ID != 7 {
		t.Errorf("payload id = %d, want 7", payload.ID)
	}

	// Exactly one delivery.
	select {
	case extra := <-received:
		t.Errorf("unexpected second delivery: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}

	stats := sess.Stats()
	if stats.EventsDispatched != 1 {
		t.Errorf("EventsDispatched = %d, want 1", stats.EventsDispatched)
	}
	if stats.Connects != 1 {
		t.Errorf("Connects = %d, want 1", stats.Connects)
	}
	if stats.FramesSent == 0 {
		t.Error("FramesSent = 0, want at least the subscribe frame")
	}
}

func TestSession_SendTransmitsWhileConnected(t *testing.T) {
	frames := make(chan wire.Message, 16)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		pumpFrames(conn, frames)
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)

	msg, err := wire.NewEvent("castVote", "", map[string]any{"proposalId": 3, "support": true})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := sess.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got := expectFrame(t, frames, "castVote", time.Second)
	var payload struct {
		ProposalID int  `json:"proposalId"`
		Support    bool `json:"support"`
	}
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ProposalID != 3 || !payload.Support {
		t.Errorf("payload = %+v, want proposalId 3 support true", payload)
	}
}

func TestSession_QueuedSendsFlushBeforeReplay(t *testing.T) {
	frames := make(chan wire.Message, 16)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		pumpFrames(conn, frames)
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	sess.Subscribe("proposals", "ui-1", func(wire.Message) {})

	msg, err := wire.NewEvent("castVote", "", map[string]int{"proposalId": 3})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := sess.Send(msg); err != nil {
		t.Fatalf("Send while disconnected failed: %v", err)
	}
	if depth := sess.Stats().QueueDepth; depth != 1 {
		t.Fatalf("QueueDepth = %d, want 1", depth)
	}

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// The queued message is the first frame on the wire, before the
	// subscription replay.
	expectFrame(t, frames, "castVote", time.Second)
	sub := expectFrame(t, frames, wire.TypeSubscribe, time.Second)
	if ch := subscribeChannel(t, sub); ch != "proposals" {
		t.Errorf("replayed channel = %q, want proposals", ch)
	}

	if depth := sess.Stats().QueueDepth; depth != 0 {
		t.Errorf("QueueDepth after flush = %d, want 0", depth)
	}
}

func TestSession_AuthenticateSentFirst(t *testing.T) {
	frames := make(chan wire.Message, 16)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		pumpFrames(conn, frames)
	})
	defer server.Close()

	tokens := func() (string, error) { return "session-token", nil }
	sess := NewSession(Config{URL: wsURL(server), TokenSource: tokens}, nil)
	defer sess.Disconnect()

	sess.Subscribe("proposals", "ui-1", func(wire.Message) {})
	msg, err := wire.NewEvent("castVote", "", map[string]int{"proposalId": 3})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	sess.Send(msg)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	auth := expectFrame(t, frames, wire.TypeAuthenticate, time.Second)
	var authPayload wire.AuthPayload
	if err := json.Unmarshal(auth.Payload, &authPayload); err != nil {
		t.Fatalf("decode auth payload: %v", err)
	}
	if authPayload.Token != "session-token" {
		t.Errorf("auth token = %q, want session-token", authPayload.Token)
	}

	expectFrame(t, frames, "castVote", time.Second)
	expectFrame(t, frames, wire.TypeSubscribe, time.Second)
}

func TestSession_ReplaysSubscriptionsAfterDrop(t *testing.T) {
	conn2Frames := make(chan wire.Message, 16)
	server := mockWSServerMulti(t, func(id int, conn *websocket.Conn) {
		if id == 1 {
			// Consume frames until the unsubscribe arrives, then drop the
			// connection without a close handshake.
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				msg, err := wire.Decode(data)
				if err != nil {
					continue
				}
				if msg.Kind() == wire.KindUnsubscribe {
					return
				}
			}
		}
		pumpFrames(conn, conn2Frames)
	})
	defer server.Close()

	cfg := Config{
		URL:                wsURL(server),
		ReconnectBaseDelay: 30 * time.Millisecond,
	}
	sess := NewSession(cfg, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)

	subProposals := sess.Subscribe("proposals", "ui-1", func(wire.Message) {})
	subVotes := sess.Subscribe("votes", "ui-1", func(wire.Message) {})
	if subProposals.ConsumerID == "" || subVotes.ConsumerID == "" {
		t.Fatal("expected live subscription handles")
	}

	// Dropping the votes channel before the disconnect means it must not be
	// replayed afterwards.
	if ok := sess.Unsubscribe(subVotes); !ok {
		t.Fatal("Unsubscribe returned false for a live subscription")
	}

	// The server kills connection 1 on the unsubscribe; wait for recovery.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Stats().Connects == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sess.Stats().Connects; got != 2 {
		t.Fatalf("Connects = %d, want 2", got)
	}

	sub := expectFrame(t, conn2Frames, wire.TypeSubscribe, time.Second)
	if ch := subscribeChannel(t, sub); ch != "proposals" {
		t.Errorf("replayed channel = %q, want proposals", ch)
	}

	// Exactly one replay, and nothing for the unsubscribed channel.
	select {
	case extra := <-conn2Frames:
		t.Errorf("unexpected extra frame after replay: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSession_DuplicateSubscribeSingleDelivery(t *testing.T) {
	var subCount int
	var mu sync.Mutex
	sendEvent := make(chan struct{}, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-sendEvent:
				event := `{"type":"proposalCreated","channel":"proposals","payload":{"id":1}}`
				conn.WriteMessage(websocket.TextMessage, []byte(event))
			case <-done:
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.Kind() == wire.KindSubscribe {
				mu.Lock()
				subCount++
				mu.Unlock()
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)

	first := make(chan wire.Message, 4)
	second := make(chan wire.Message, 4)
	sess.Subscribe("proposals", "ui-1", func(msg wire.Message) { first <- msg })
	// Same consumer again: replaces the handler, no extra wire traffic.
	sess.Subscribe("proposals", "ui-1", func(msg wire.Message) { second <- msg })

	time.Sleep(100 * time.Millisecond)
	sendEvent <- struct{}{}

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery to replacement handler")
	}

	select {
	case msg := <-first:
		t.Errorf("replaced handler still received %+v", msg)
	case msg := <-second:
		t.Errorf("unexpected second delivery: %+v", msg)
	case <-time.After(150 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if subCount != 1 {
		t.Errorf("subscribe frames = %d, want 1", subCount)
	}
}

func TestSession_RetryBudgetExhausted(t *testing.T) {
	cfg := Config{
		URL:                  "ws://127.0.0.1:1",
		ReconnectMaxAttempts: 5,
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectDecayFactor: 1.5,
	}
	sess := NewSession(cfg, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateFailed, 3*time.Second)

	retries := 0
	failed := 0
drain:
	for {
		select {
		case change := <-sess.StateChanges():
			switch change.To {
			case StateReconnecting:
				retries++
			case StateFailed:
				failed++
			}
		default:
			break drain
		}
	}
	if retries != 5 {
		t.Errorf("automatic retries = %d, want 5", retries)
	}
	if failed != 1 {
		t.Errorf("failed transitions = %d, want 1", failed)
	}

	// A parked session schedules nothing further.
	select {
	case change := <-sess.StateChanges():
		t.Errorf("unexpected transition after failure: %v -> %v", change.From, change.To)
	case <-time.After(150 * time.Millisecond):
	}
	if sess.LastError() == nil {
		t.Error("LastError = nil, want a dial error")
	}

	// Reconnect resets the budget and dials again.
	if err := sess.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	select {
	case change := <-sess.StateChanges():
		if change.To != StateConnecting {
			t.Errorf("transition after Reconnect = %v, want %v", change.To, StateConnecting)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Reconnect transition")
	}
}

func TestSession_ReconnectCancelsPendingRetry(t *testing.T) {
	server := mockWSServerMulti(t, func(id int, conn *websocket.Conn) {
		if id == 1 {
			// Drop the first connection straight away.
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := Config{
		URL:                wsURL(server),
		ReconnectBaseDelay: time.Hour,
	}
	sess := NewSession(cfg, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateReconnecting, 2*time.Second)

	// The scheduled retry is an hour out; Reconnect goes now instead.
	if err := sess.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, 2*time.Second)

	if got := sess.Stats().Connects; got != 2 {
		t.Errorf("Connects = %d, want 2", got)
	}
}

func TestSession_HeartbeatTimeoutForcesReconnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Swallow pings without ever answering.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := Config{
		URL:                    wsURL(server),
		HeartbeatInterval:      20 * time.Millisecond,
		HeartbeatCheckInterval: 10 * time.Millisecond,
		HeartbeatTimeout:       60 * time.Millisecond,
		ReconnectBaseDelay:     time.Second,
	}
	sess := NewSession(cfg, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case change := <-sess.StateChanges():
			if change.To == StateReconnecting {
				if !errors.Is(change.Err, ErrStaleConnection) {
					t.Errorf("reconnect cause = %v, want %v", change.Err, ErrStaleConnection)
				}
				if got := sess.Stats().HeartbeatTimeouts; got == 0 {
					t.Error("HeartbeatTimeouts = 0, want at least 1")
				}
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for stale connection to force a reconnect")
		}
	}
}

func TestSession_PongKeepsConnectionAlive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.Kind() == wire.KindPing {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			}
		}
	})
	defer server.Close()

	cfg := Config{
		URL:                    wsURL(server),
		HeartbeatInterval:      20 * time.Millisecond,
		HeartbeatCheckInterval: 10 * time.Millisecond,
		HeartbeatTimeout:       80 * time.Millisecond,
	}
	sess := NewSession(cfg, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)

	// Several timeout windows pass; answered pings keep the session up.
	time.Sleep(300 * time.Millisecond)

	if got := sess.State(); got != StateConnected {
		t.Errorf("state = %v, want %v", got, StateConnected)
	}
	if got := sess.Stats().HeartbeatTimeouts; got != 0 {
		t.Errorf("HeartbeatTimeouts = %d, want 0", got)
	}
}

func TestSession_AnswersServerPing(t *testing.T) {
	gotPong := make(chan struct{}, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.Kind() == wire.KindPong {
				gotPong <- struct{}{}
				return
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-gotPong:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pong reply")
	}
}

func TestSession_MalformedFramesDropped(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.Kind() == wire.KindSubscribe {
				conn.WriteMessage(websocket.TextMessage, []byte(`this is not json`))
				conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":{"id":1}}`))
				event := `{"type":"proposalCreated","channel":"proposals","payload":{"id":2}}`
				conn.WriteMessage(websocket.TextMessage, []byte(event))
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	received := make(chan wire.Message, 4)
	sess.Subscribe("proposals", "ui-1", func(msg wire.Message) { received <- msg })

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "proposalCreated" {
			t.Errorf("delivered type = %q, want proposalCreated", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the well-formed event")
	}

	if got := sess.Stats().ParseErrors; got != 2 {
		t.Errorf("ParseErrors = %d, want 2", got)
	}
	if got := sess.State(); got != StateConnected {
		t.Errorf("state = %v, want %v", got, StateConnected)
	}
}

func TestSession_HandlerPanicIsolation(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.Kind() == wire.KindSubscribe {
				event := `{"type":"proposalCreated","channel":"proposals","payload":{"id":1}}`
				conn.WriteMessage(websocket.TextMessage, []byte(event))
				conn.WriteMessage(websocket.TextMessage, []byte(event))
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	survivor := make(chan wire.Message, 4)
	sess.Subscribe("proposals", "angry", func(wire.Message) { panic("handler bug") })
	sess.Subscribe("proposals", "calm", func(msg wire.Message) { survivor <- msg })

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-survivor:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for delivery %d to surviving handler", i+1)
		}
	}

	// Give the dispatcher a beat to finish accounting for the second event.
	time.Sleep(50 * time.Millisecond)

	if got := sess.Stats().HandlerPanics; got != 2 {
		t.Errorf("HandlerPanics = %d, want 2", got)
	}
	if got := sess.State(); got != StateConnected {
		t.Errorf("state = %v, want %v", got, StateConnected)
	}
}

func TestSession_BroadcastAndChannelIsolation(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := wire.Decode(data)
			if err != nil {
				continue
			}
			if msg.Kind() == wire.KindSubscribe {
				notice := `{"type":"noticeAdded","payload":{"text":"maintenance"}}`
				conn.WriteMessage(websocket.TextMessage, []byte(notice))
				event := `{"type":"proposalCreated","channel":"proposals","payload":{"id":1}}`
				conn.WriteMessage(websocket.TextMessage, []byte(event))
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	broadcast := make(chan wire.Message, 4)
	channeled := make(chan wire.Message, 4)
	sess.Subscribe(BroadcastChannel, "global", func(msg wire.Message) { broadcast <- msg })
	sess.Subscribe("proposals", "ui-1", func(msg wire.Message) { channeled <- msg })

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case msg := <-broadcast:
		if msg.Type != "noticeAdded" {
			t.Errorf("broadcast type = %q, want noticeAdded", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast delivery")
	}

	select {
	case msg := <-channeled:
		if msg.Type != "proposalCreated" {
			t.Errorf("channeled type = %q, want proposalCreated", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel delivery")
	}

	// Neither consumer sees the other's traffic.
	select {
	case msg := <-broadcast:
		t.Errorf("broadcast consumer received channeled event %+v", msg)
	case msg := <-channeled:
		t.Errorf("channel consumer received broadcast event %+v", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSession_QueueEvictsOldestWhileDisconnected(t *testing.T) {
	frames := make(chan wire.Message, 16)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		pumpFrames(conn, frames)
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server), QueueMaxSize: 2}, nil)
	defer sess.Disconnect()

	for _, typ := range []string{"voteOne", "voteTwo", "voteThree"} {
		msg, err := wire.NewEvent(typ, "", map[string]int{"n": 1})
		if err != nil {
			t.Fatalf("NewEvent failed: %v", err)
		}
		if err := sess.Send(msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	stats := sess.Stats()
	if stats.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, want 2", stats.QueueDepth)
	}
	if stats.QueueEvictions != 1 {
		t.Errorf("QueueEvictions = %d, want 1", stats.QueueEvictions)
	}

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	expectFrame(t, frames, "voteTwo", time.Second)
	expectFrame(t, frames, "voteThree", time.Second)
}

func TestSession_FailedFlushKeepsQueuedMessages(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	// A nanosecond write deadline has always expired by the time the flush
	// writes, so the first queued entry fails without reaching the wire.
	cfg := Config{
		URL:                wsURL(server),
		WriteTimeout:       time.Nanosecond,
		ReconnectBaseDelay: time.Hour,
	}
	sess := NewSession(cfg, nil)
	defer sess.Disconnect()

	for _, typ := range []string{"voteOne", "voteTwo"} {
		msg, err := wire.NewEvent(typ, "", map[string]int{"n": 1})
		if err != nil {
			t.Fatalf("NewEvent failed: %v", err)
		}
		if err := sess.Send(msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateReconnecting, 2*time.Second)

	// Both messages are still queued for the next successful connection.
	stats := sess.Stats()
	if stats.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, want 2", stats.QueueDepth)
	}
	if stats.FramesSent != 0 {
		t.Errorf("FramesSent = %d, want 0", stats.FramesSent)
	}
}

func TestSession_DisabledSessionIsInert(t *testing.T) {
	sess := NewSession(Config{Disabled: true}, nil)

	if err := sess.Connect(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect error = %v, want %v", err, ErrDisabled)
	}
	if err := sess.Reconnect(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Reconnect error = %v, want %v", err, ErrDisabled)
	}

	msg, err := wire.NewEvent("castVote", "", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := sess.Send(msg); err != nil {
		t.Errorf("Send on disabled session = %v, want nil", err)
	}

	sub := sess.Subscribe("proposals", "ui-1", func(wire.Message) {})
	if sub.ConsumerID != "" {
		t.Errorf("Subscribe returned live handle %+v, want zero value", sub)
	}
	if ok := sess.Unsubscribe(sub); ok {
		t.Error("Unsubscribe on disabled session = true, want false")
	}

	sess.Disconnect()
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("state = %v, want %v", got, StateDisconnected)
	}

	stats := sess.Stats()
	if stats.QueueDepth != 0 || stats.Subscribers != 0 {
		t.Errorf("disabled session accumulated state: %+v", stats)
	}
}

func TestSession_NoURLBehavesAsDisabled(t *testing.T) {
	sess := NewSession(Config{}, nil)

	if !sess.Disabled() {
		t.Error("Disabled() = false, want true for a config with no URL")
	}
	if err := sess.Connect(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect error = %v, want %v", err, ErrDisabled)
	}
	if err := sess.Reconnect(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Reconnect error = %v, want %v", err, ErrDisabled)
	}
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("state = %v, want %v", got, StateDisconnected)
	}

	// Nothing was dialed and nothing is scheduled.
	select {
	case change := <-sess.StateChanges():
		t.Errorf("unexpected transition: %v -> %v", change.From, change.To)
	default:
	}
}

func TestSession_SendRejectsControlFrames(t *testing.T) {
	sess := NewSession(Config{URL: "ws://127.0.0.1:1"}, nil)

	if err := sess.Send(wire.NewPing()); !errors.Is(err, wire.ErrReserved) {
		t.Errorf("Send(ping) error = %v, want %v", err, wire.ErrReserved)
	}
	if err := sess.Send(wire.NewSubscribe("proposals")); !errors.Is(err, wire.ErrReserved) {
		t.Errorf("Send(subscribe) error = %v, want %v", err, wire.ErrReserved)
	}
}

func TestSession_SendRejectsUnencodableMessages(t *testing.T) {
	frames := make(chan wire.Message, 16)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		pumpFrames(conn, frames)
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)

	if err := sess.Send(wire.Message{}); !errors.Is(err, wire.ErrMalformed) {
		t.Errorf("Send(no type) error = %v, want %v", err, wire.ErrMalformed)
	}
	broken := wire.Message{Type: "castVote", Payload: json.RawMessage(`{"broken`)}
	if err := sess.Send(broken); !errors.Is(err, wire.ErrMalformed) {
		t.Errorf("Send(bad payload) error = %v, want %v", err, wire.ErrMalformed)
	}

	// The connection stays up and usable; a local encode failure is not
	// transport trouble.
	msg, err := wire.NewEvent("castVote", "", map[string]int{"proposalId": 3})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := sess.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	expectFrame(t, frames, "castVote", time.Second)

	if got := sess.State(); got != StateConnected {
		t.Errorf("state = %v, want %v", got, StateConnected)
	}
	stats := sess.Stats()
	if stats.Connects != 1 {
		t.Errorf("Connects = %d, want 1", stats.Connects)
	}
	if stats.QueueDepth != 0 {
		t.Errorf("QueueDepth = %d, want 0", stats.QueueDepth)
	}
}

func TestSession_InvalidLifecycleCalls(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := sess.Connect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Connect error = %v, want %v", err, ErrInvalidState)
	}

	waitForState(t, sess, StateConnected, time.Second)
	if err := sess.Connect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Connect while connected error = %v, want %v", err, ErrInvalidState)
	}
	if err := sess.Reconnect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Reconnect while connected error = %v, want %v", err, ErrInvalidState)
	}

	sess.Disconnect()
	if got := sess.State(); got != StateDisconnected {
		t.Fatalf("state after Disconnect = %v, want %v", got, StateDisconnected)
	}

	// The registry survives the teardown, so a fresh Connect works.
	if err := sess.Connect(context.Background()); err != nil {
		t.Errorf("Connect after Disconnect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)
}

func TestSession_DisconnectAbortsInflightDial(t *testing.T) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stall the handshake long enough for the client to give up.
		time.Sleep(150 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	sess.Disconnect()

	if got := sess.State(); got != StateDisconnected {
		t.Fatalf("state after Disconnect = %v, want %v", got, StateDisconnected)
	}

	// The stalled dial resolves well after the teardown; it must not
	// resurrect the session.
	time.Sleep(400 * time.Millisecond)
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("state = %v, want %v", got, StateDisconnected)
	}
drain:
	for {
		select {
		case change := <-sess.StateChanges():
			if change.To == StateConnected {
				t.Error("discarded dial promoted the session to connected")
			}
		default:
			break drain
		}
	}
}

func TestSession_ContextCancelActsAsDisconnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)
	defer sess.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)

	cancel()
	waitForState(t, sess, StateDisconnected, time.Second)

	// No reconnection follows a lifecycle cancel.
	time.Sleep(150 * time.Millisecond)
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("state = %v, want %v", got, StateDisconnected)
	}
}

func TestSession_DisconnectStopsScheduledRetry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := Config{
		URL:                "ws://127.0.0.1:1",
		ReconnectBaseDelay: time.Hour,
	}
	sess := NewSession(cfg, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateReconnecting, time.Second)

	sess.Disconnect()
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("state = %v, want %v", got, StateDisconnected)
	}
}

func TestSession_StateChangeFeed(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	sess := NewSession(Config{URL: wsURL(server)}, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, sess, StateConnected, time.Second)
	sess.Disconnect()

	want := []StateChange{
		{From: StateDisconnected, To: StateConnecting},
		{From: StateConnecting, To: StateConnected},
		{From: StateConnected, To: StateDisconnected},
	}
	for i, w := range want {
		select {
		case got := <-sess.StateChanges():
			if got.From != w.From || got.To != w.To {
				t.Errorf("transition %d = %v -> %v, want %v -> %v", i, got.From, got.To, w.From, w.To)
			}
			if got.At.IsZero() {
				t.Errorf("transition %d has zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for transition %d", i)
		}
	}
}
