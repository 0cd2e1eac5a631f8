package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/signal"
)

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := NewRouter(config.Relay{}, New(NewRegistry()))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialParticipant(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnv(t *testing.T, conn *websocket.Conn, env signal.Envelope) {
	t.Helper()
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("send %s: %v", env.Kind, err)
	}
}

func recvEnv(t *testing.T, conn *websocket.Conn) signal.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env signal.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

// expectSilence asserts nothing arrives within the window. The read timeout
// poisons the connection, so this must be the last read on conn.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env signal.Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func join(t *testing.T, conn *websocket.Conn, roomID string) {
	t.Helper()
	sendEnv(t, conn, signal.Envelope{Kind: signal.KindJoinRoom, RoomID: roomID})
}

func TestTwoPartyJoinFlow(t *testing.T) {
	srv := newTestRelay(t)
	a := dialParticipant(t, srv)
	b := dialParticipant(t, srv)
	c := dialParticipant(t, srv)

	join(t, a, "ABC123")
	info := recvEnv(t, a)
	if info.Kind != signal.KindRoomInfo || info.NumUsers != 1 {
		t.Fatalf("A join ack = %+v", info)
	}

	join(t, b, "ABC123")
	joined := recvEnv(t, a)
	if joined.Kind != signal.KindUserJoined || joined.UserID == "" {
		t.Fatalf("A notification = %+v", joined)
	}
	info = recvEnv(t, b)
	if info.Kind != signal.KindRoomInfo || info.NumUsers != 2 {
		t.Fatalf("B join ack = %+v", info)
	}

	join(t, c, "ABC123")
	full := recvEnv(t, c)
	if full.Kind != signal.KindRoomFull {
		t.Fatalf("C join reply = %+v", full)
	}

	// The rejection is invisible to A and B.
	expectSilence(t, a)
	expectSilence(t, b)
}

func TestForwardExcludesSender(t *testing.T) {
	srv := newTestRelay(t)
	a := dialParticipant(t, srv)
	b := dialParticipant(t, srv)

	join(t, a, "room")
	recvEnv(t, a)
	join(t, b, "room")
	recvEnv(t, a) // user-joined
	recvEnv(t, b) // room-info

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
	sendEnv(t, a, signal.Envelope{Kind: signal.KindOffer, RoomID: "room", Payload: payload})

	got := recvEnv(t, b)
	if got.Kind != signal.KindOffer {
		t.Fatalf("B received %+v", got)
	}
	if got.From == "" {
		t.Fatal("forwarded envelope has no sender tag")
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload mutated in transit: %s", got.Payload)
	}

	// Never echoed back to the sender, even with a forged From.
	sendEnv(t, b, signal.Envelope{Kind: signal.KindAnswer, RoomID: "room", From: "forged"})
	ans := recvEnv(t, a)
	if ans.Kind != signal.KindAnswer || ans.From == "forged" || ans.From == "" {
		t.Fatalf("A received %+v", ans)
	}
	expectSilence(t, a)
	expectSilence(t, b)
}

func TestEnvelopeDroppedWhenAlone(t *testing.T) {
	srv := newTestRelay(t)
	a := dialParticipant(t, srv)
	b := dialParticipant(t, srv)

	join(t, a, "room")
	recvEnv(t, a)

	// No other member yet: dropped, not an error.
	sendEnv(t, a, signal.Envelope{Kind: signal.KindOffer, RoomID: "room", Payload: json.RawMessage(`"early"`)})
	// A dropped envelope produces no reply, so there is nothing to read to
	// know the relay has processed it. Wait before B joins so the drop cannot
	// race B's membership.
	time.Sleep(200 * time.Millisecond)

	join(t, b, "room")
	recvEnv(t, a) // user-joined
	recvEnv(t, b) // room-info

	// The relay does not replay the early offer; the sender resends.
	sendEnv(t, a, signal.Envelope{Kind: signal.KindOffer, RoomID: "room", Payload: json.RawMessage(`"resent"`)})
	got := recvEnv(t, b)
	if got.Kind != signal.KindOffer || string(got.Payload) != `"resent"` {
		t.Fatalf("B received %+v", got)
	}
	expectSilence(t, b)
}

func TestLeaveNotifiesRemaining(t *testing.T) {
	srv := newTestRelay(t)
	a := dialParticipant(t, srv)
	b := dialParticipant(t, srv)

	join(t, a, "room")
	recvEnv(t, a)
	join(t, b, "room")
	recvEnv(t, a)
	recvEnv(t, b)

	sendEnv(t, b, signal.Envelope{Kind: signal.KindLeaveRoom, RoomID: "room"})

	left := recvEnv(t, a)
	if left.Kind != signal.KindUserLeft || left.UserID == "" {
		t.Fatalf("A received %+v", left)
	}
	info := recvEnv(t, a)
	if info.Kind != signal.KindRoomInfo || info.NumUsers != 1 {
		t.Fatalf("A received %+v", info)
	}

	// Leaving twice is invisible.
	sendEnv(t, b, signal.Envelope{Kind: signal.KindLeaveRoom, RoomID: "room"})

	// A departed participant can no longer reach the room.
	sendEnv(t, b, signal.Envelope{Kind: signal.KindOffer, RoomID: "room", Payload: json.RawMessage(`"stale"`)})
	expectSilence(t, a)
}

func TestDisconnectActsAsLeave(t *testing.T) {
	srv := newTestRelay(t)
	a := dialParticipant(t, srv)
	b := dialParticipant(t, srv)

	join(t, a, "room")
	recvEnv(t, a)
	join(t, b, "room")
	recvEnv(t, a)
	recvEnv(t, b)

	b.Close()

	left := recvEnv(t, a)
	if left.Kind != signal.KindUserLeft {
		t.Fatalf("A received %+v", left)
	}
	info := recvEnv(t, a)
	if info.Kind != signal.KindRoomInfo || info.NumUsers != 1 {
		t.Fatalf("A received %+v", info)
	}

	// Exactly one user-left, nothing more.
	expectSilence(t, a)
}

func TestCrossRoomIsolation(t *testing.T) {
	srv := newTestRelay(t)
	a := dialParticipant(t, srv)
	b := dialParticipant(t, srv)

	join(t, a, "room-1")
	recvEnv(t, a)
	join(t, b, "room-2")
	recvEnv(t, b)

	// Envelope to our own room: no members there to hear it.
	sendEnv(t, a, signal.Envelope{Kind: signal.KindOffer, RoomID: "room-1", Payload: json.RawMessage(`"r1"`)})
	// Envelope addressed to a room we don't occupy: dropped.
	sendEnv(t, a, signal.Envelope{Kind: signal.KindOffer, RoomID: "room-2", Payload: json.RawMessage(`"r2"`)})

	expectSilence(t, b)
}

func TestRoomSwitchNotifiesOldRoom(t *testing.T) {
	srv := newTestRelay(t)
	a := dialParticipant(t, srv)
	b := dialParticipant(t, srv)

	join(t, a, "old")
	recvEnv(t, a)
	join(t, b, "old")
	recvEnv(t, a)
	recvEnv(t, b)

	// B jumps to another room; A hears the same notifications an explicit
	// leave would have produced.
	join(t, b, "new")
	if env := recvEnv(t, a); env.Kind != signal.KindUserLeft {
		t.Fatalf("A received %+v", env)
	}
	if env := recvEnv(t, a); env.Kind != signal.KindRoomInfo || env.NumUsers != 1 {
		t.Fatalf("A received %+v", env)
	}
	if env := recvEnv(t, b); env.Kind != signal.KindRoomInfo || env.NumUsers != 1 {
		t.Fatalf("B received %+v", env)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestRelay(t)
	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}
