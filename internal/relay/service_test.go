package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/Pugazh0602/shoadowchat/internal/protocol"
	"github.com/Pugazh0602/shoadowchat/internal/room"
)

func TestBroadcastExcludesSender(t *testing.T) {
	wsURL, _, reg := startTestRelay(t)

	connA := dialWS(t, wsURL)
	connB := dialWS(t, wsURL)
	connC := dialWS(t, wsURL)

	sendJoin(t, connA, "room-x")
	sendJoin(t, connB, "room-x")
	sendJoin(t, connC, "room-x")
	waitForMembers(t, reg, "room-x", 3)

	env := testEnvelope("opaque-ciphertext-a1")
	sendEnvelope(t, connA, "room-x", env)

	for _, conn := range []*websocket.Conn{connB, connC} {
		frame := recvFrame(t, conn)
		if frame.Type != protocol.TypeReceiveMessage {
			t.Fatalf("expected receive-message, got %s", frame.Type)
		}
		if frame.Message == nil || frame.Message.Content != env.Content {
			t.Fatalf("forwarded envelope mutated: %+v", frame.Message)
		}
		if frame.Message.ID != env.ID || frame.Message.Sender != env.Sender {
			t.Fatalf("envelope metadata mutated: %+v", frame.Message)
		}
	}

	expectNoFrame(t, connA, 150*time.Millisecond)
}

func TestLateJoinerMissesEarlierMessages(t *testing.T) {
	wsURL, _, reg := startTestRelay(t)

	connA := dialWS(t, wsURL)
	sendJoin(t, connA, "room-x")
	waitForMembers(t, reg, "room-x", 1)

	early := testEnvelope("sent-before-b-joined")
	sendEnvelope(t, connA, "room-x", early)

	connB := dialWS(t, wsURL)
	sendJoin(t, connB, "room-x")
	waitForMembers(t, reg, "room-x", 2)

	late := testEnvelope("sent-after-b-joined")
	sendEnvelope(t, connA, "room-x", late)

	// B's very first delivery must be the late message; nothing is replayed.
	frame := recvFrame(t, connB)
	if frame.Message == nil || frame.Message.Content != late.Content {
		t.Fatalf("expected only the post-join message, got %+v", frame.Message)
	}
}

func TestDisconnectIsolation(t *testing.T) {
	wsURL, svc, reg := startTestRelay(t)

	connA := dialWS(t, wsURL)
	connB := dialWS(t, wsURL)
	connC := dialWS(t, wsURL)

	sendJoin(t, connA, "room-x")
	sendJoin(t, connB, "room-x")
	sendJoin(t, connC, "room-x")
	waitForMembers(t, reg, "room-x", 3)

	if err := connB.Close(); err != nil {
		t.Fatalf("close connB: %v", err)
	}
	waitForMembers(t, reg, "room-x", 2)
	waitFor(t, func() bool { return svc.Sessions() == 2 })

	env := testEnvelope("after-b-left")
	sendEnvelope(t, connA, "room-x", env)

	frame := recvFrame(t, connC)
	if frame.Message == nil || frame.Message.Content != env.Content {
		t.Fatalf("expected delivery to remaining member, got %+v", frame.Message)
	}
}

func TestSendToEmptyRoomIsNoop(t *testing.T) {
	wsURL, _, reg := startTestRelay(t)

	conn := dialWS(t, wsURL)
	sendJoin(t, conn, "room-solo")
	waitForMembers(t, reg, "room-solo", 1)

	sendEnvelope(t, conn, "room-solo", testEnvelope("echoes-into-nothing"))

	// Not an error: no error frame, no echo, connection stays healthy.
	expectNoFrame(t, conn, 150*time.Millisecond)
}

func TestUnsupportedFrameGetsErrorAndSurvives(t *testing.T) {
	wsURL, _, reg := startTestRelay(t)

	conn := dialWS(t, wsURL)
	if err := conn.WriteJSON(protocol.Frame{Type: "bogus"}); err != nil {
		t.Fatalf("write bogus frame: %v", err)
	}

	frame := recvFrame(t, conn)
	if frame.Type != protocol.TypeError || frame.Code != protocol.CodeInvalidFrame {
		t.Fatalf("expected INVALID_FRAME error, got %+v", frame)
	}

	// The error is non-fatal; the session can still join.
	sendJoin(t, conn, "room-after-error")
	waitForMembers(t, reg, "room-after-error", 1)
}

func TestSendWithoutContentRejected(t *testing.T) {
	wsURL, _, reg := startTestRelay(t)

	conn := dialWS(t, wsURL)
	sendJoin(t, conn, "room-x")
	waitForMembers(t, reg, "room-x", 1)

	if err := conn.WriteJSON(protocol.Frame{Type: protocol.TypeSendMessage, RoomID: "room-x"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	frame := recvFrame(t, conn)
	if frame.Type != protocol.TypeError || frame.Code != protocol.CodeInvalidFrame {
		t.Fatalf("expected INVALID_FRAME error, got %+v", frame)
	}
}

func TestJoinAcceptsArbitraryRoomStrings(t *testing.T) {
	wsURL, _, reg := startTestRelay(t)

	conn := dialWS(t, wsURL)
	sendJoin(t, conn, "not a hex id at all é")
	waitForMembers(t, reg, "not a hex id at all é", 1)
}

func TestBackpressureCancelsOnlySlowSession(t *testing.T) {
	reg := room.NewInMemory()
	svc := NewService(zaptest.NewLogger(t), reg, Options{SendBuffer: 1})

	sender := insertSession(t, svc, "sender", 1)
	slow := insertSession(t, svc, "slow", 1)
	healthy := insertSession(t, svc, "healthy", 1)
	for _, sess := range []*session{sender, slow, healthy} {
		reg.Join(sess.id, "room-x")
	}

	// No writer is draining the slow session, so its buffer is already full.
	slow.sendCh <- protocol.ReceiveMessage(testEnvelope("backlog"))

	if err := svc.handleSend(sender, protocol.SendMessage("room-x", testEnvelope("fan-out"))); err != nil {
		t.Fatalf("handleSend must swallow per-recipient failures, got %v", err)
	}

	select {
	case <-slow.ctx.Done():
	default:
		t.Fatal("expected slow session cancelled on buffer overflow")
	}
	select {
	case <-sender.ctx.Done():
		t.Fatal("sender must not be cancelled by a slow recipient")
	default:
	}
	select {
	case frame := <-healthy.sendCh:
		if frame.Message == nil || frame.Message.Content != "fan-out" {
			t.Fatalf("healthy recipient got wrong frame: %+v", frame)
		}
	default:
		t.Fatal("healthy recipient missed the delivery")
	}
	select {
	case <-healthy.ctx.Done():
		t.Fatal("healthy recipient must survive another session's overflow")
	default:
	}
}

func TestDeliveryRefreshesIdleDeadline(t *testing.T) {
	svc := NewService(zaptest.NewLogger(t), room.NewInMemory(), Options{
		SessionIdleTimeout: time.Minute,
	})

	listener := insertSession(t, svc, "listener", 4)
	svc.mu.Lock()
	listener.lastSeen = time.Now().Add(-time.Hour)
	svc.mu.Unlock()

	if err := svc.pushFrame(listener, protocol.ReceiveMessage(testEnvelope("inbound"))); err != nil {
		t.Fatalf("push: %v", err)
	}

	svc.expireIdleSessions(time.Now())

	select {
	case <-listener.ctx.Done():
		t.Fatal("session receiving traffic must not be expired as idle")
	default:
	}
}

func TestIdleSessionSweep(t *testing.T) {
	svc := NewService(zaptest.NewLogger(t), room.NewInMemory(), Options{
		SessionIdleTimeout: 10 * time.Millisecond,
		SweepInterval:      5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stale := &session{
		id:       "stale",
		sendCh:   make(chan protocol.Frame, 2),
		ctx:      ctx,
		cancel:   cancel,
		lastSeen: time.Now().Add(-time.Minute),
	}
	fresh, freshCancel := context.WithCancel(context.Background())
	t.Cleanup(freshCancel)
	active := &session{
		id:       "active",
		sendCh:   make(chan protocol.Frame, 2),
		ctx:      fresh,
		cancel:   freshCancel,
		lastSeen: time.Now(),
	}

	svc.mu.Lock()
	svc.sessions[stale.id] = stale
	svc.sessions[active.id] = active
	svc.mu.Unlock()

	svc.expireIdleSessions(time.Now())

	select {
	case <-stale.ctx.Done():
	default:
		t.Fatal("expected stale session cancelled")
	}
	select {
	case <-active.ctx.Done():
		t.Fatal("active session must survive the sweep")
	default:
	}
}

func insertSession(t *testing.T, svc *Service, id string, buffer int) *session {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sess := &session{
		id:       id,
		sendCh:   make(chan protocol.Frame, buffer),
		ctx:      ctx,
		cancel:   cancel,
		lastSeen: time.Now(),
	}

	svc.mu.Lock()
	svc.sessions[id] = sess
	svc.mu.Unlock()
	return sess
}

func startTestRelay(t *testing.T) (wsURL string, svc *Service, reg *room.InMemoryRegistry) {
	t.Helper()

	reg = room.NewInMemory()
	svc = NewService(zaptest.NewLogger(t), reg, Options{})

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		svc.HandleConnection(r.Context(), conn, r.URL.Query().Get("label"))
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), svc, reg
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJoin(t *testing.T, conn *websocket.Conn, roomID string) {
	t.Helper()
	if err := conn.WriteJSON(protocol.JoinRoom(roomID)); err != nil {
		t.Fatalf("send join: %v", err)
	}
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, roomID string, env protocol.Envelope) {
	t.Helper()
	if err := conn.WriteJSON(protocol.SendMessage(roomID, env)); err != nil {
		t.Fatalf("send message: %v", err)
	}
}

func recvFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame protocol.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("recv frame: %v", err)
	}
	return frame
}

// expectNoFrame asserts silence for the given window. It consumes the
// connection's read state, so it must be the last read on that connection.
func expectNoFrame(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(window))
	var frame protocol.Frame
	if err := conn.ReadJSON(&frame); err == nil {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func waitForMembers(t *testing.T, reg room.Registry, roomID string, n int) {
	t.Helper()
	waitFor(t, func() bool { return len(reg.Members(roomID)) == n })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func testEnvelope(content string) protocol.Envelope {
	return protocol.NewEnvelope(content, "alice", 30*time.Second, time.Now())
}
