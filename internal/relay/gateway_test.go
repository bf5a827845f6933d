package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MamunCrafts/video-chat-app/internal/registry"
	"github.com/MamunCrafts/video-chat-app/internal/store"
	"github.com/MamunCrafts/video-chat-app/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap/zaptest"
)

type testGateway struct {
	url   string
	msgs  *store.MessageStore
	conns registry.ConnectionRegistry
	rooms *registry.RoomIndex
}

func startTestGateway(t *testing.T) testGateway {
	t.Helper()
	return startTestGatewayOpts(t, GatewayOptions{})
}

func startTestGatewayOpts(t *testing.T, opts GatewayOptions) testGateway {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })
	if err := store.CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	log := zaptest.NewLogger(t)
	msgs := store.NewMessages(db)
	conns := registry.NewConnections()
	rooms := registry.NewRooms()
	mrelay := NewMessageRelay(log, msgs, conns, nil)
	gw := NewGateway(log, conns, rooms, mrelay, opts)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return testGateway{
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		msgs:  msgs,
		conns: conns,
		rooms: rooms,
	}
}

// waitForConnections blocks until the user has the wanted number of live
// connections; setup frames on different connections are not ordered
// relative to each other.
func waitForConnections(t *testing.T, conns registry.ConnectionRegistry, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conns.Connections(userID) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never reached %d connections", userID, want)
}

// waitForMembers blocks until the room reaches the wanted size; joins from
// different connections are not ordered relative to each other.
func waitForMembers(t *testing.T, rooms *registry.RoomIndex, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rooms.Members(roomID) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d members", roomID, want)
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := protocol.EncodeFrame(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame protocol.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func TestGatewayMessageFlow(t *testing.T) {
	tg := startTestGateway(t)

	alice := dialWS(t, tg.url)
	bobPhone := dialWS(t, tg.url)
	bobLaptop := dialWS(t, tg.url)

	sendEvent(t, alice, protocol.EventSetup, protocol.SetupData{UserID: "u1"})
	sendEvent(t, bobPhone, protocol.EventSetup, protocol.SetupData{UserID: "u2"})
	sendEvent(t, bobLaptop, protocol.EventSetup, protocol.SetupData{UserID: "u2"})
	waitForConnections(t, tg.conns, "u2", 2)

	// presence room: bob's join announces him to alice
	room := registry.PairKey("u1", "u2")
	sendEvent(t, alice, protocol.EventJoinRoom, protocol.JoinRoomData{RoomID: room, UserID: "u1"})
	waitForMembers(t, tg.rooms, room, 1)
	sendEvent(t, bobPhone, protocol.EventJoinRoom, protocol.JoinRoomData{RoomID: room, UserID: "u2"})

	frame := readFrame(t, alice)
	if frame.Event != protocol.EventUserConnected {
		t.Fatalf("expected user-connected, got %s", frame.Event)
	}
	var connected protocol.UserConnectedData
	if err := json.Unmarshal(frame.Data, &connected); err != nil || connected.UserID != "u2" {
		t.Fatalf("unexpected user-connected payload: %s", frame.Data)
	}

	sendEvent(t, alice, protocol.EventSendMessage, protocol.SendMessageData{
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "hi",
		RoomID:     room,
		Timestamp:  42, // advisory, must be replaced by server time
	})

	var records []protocol.MessageRecord
	for _, conn := range []*websocket.Conn{alice, bobPhone, bobLaptop} {
		frame := readFrame(t, conn)
		if frame.Event != protocol.EventReceiveMessage {
			t.Fatalf("expected receive-message, got %s", frame.Event)
		}
		var rec protocol.MessageRecord
		if err := json.Unmarshal(frame.Data, &rec); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		records = append(records, rec)
	}

	first := records[0]
	if first.ID == "" || first.SenderID != "u1" || first.ReceiverID != "u2" || first.Content != "hi" {
		t.Fatalf("unexpected record: %+v", first)
	}
	if first.Timestamp == 42 {
		t.Fatalf("client timestamp must be overwritten by the gateway")
	}
	for _, rec := range records[1:] {
		if rec.ID != first.ID || rec.Timestamp != first.Timestamp {
			t.Fatalf("fan-out records differ: %+v vs %+v", first, rec)
		}
	}
}

func TestGatewayHistoryAfterOfflineDelivery(t *testing.T) {
	tg := startTestGateway(t)

	alice := dialWS(t, tg.url)
	sendEvent(t, alice, protocol.EventSetup, protocol.SetupData{UserID: "u1"})

	// u2 has no connection: delivery is skipped, persistence still happens.
	sendEvent(t, alice, protocol.EventSendMessage, protocol.SendMessageData{SenderID: "u1", ReceiverID: "u2", Content: "while you were out"})

	// alice's own channel still receives the echo record.
	frame := readFrame(t, alice)
	if frame.Event != protocol.EventReceiveMessage {
		t.Fatalf("expected receive-message, got %s", frame.Event)
	}

	history, err := tg.msgs.Between(context.Background(), "u2", "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "while you were out" {
		t.Fatalf("expected offline message in history, got %+v", history)
	}
}

func TestGatewayRequiresSetupFirst(t *testing.T) {
	tg := startTestGateway(t)

	conn := dialWS(t, tg.url)
	sendEvent(t, conn, protocol.EventJoinRoom, protocol.JoinRoomData{RoomID: "a:b", UserID: "u1"})

	frame := readFrame(t, conn)
	if frame.Event != protocol.EventError {
		t.Fatalf("expected error frame, got %s", frame.Event)
	}
	var errData protocol.ErrorData
	if err := json.Unmarshal(frame.Data, &errData); err != nil || errData.Code != "NOT_SETUP" {
		t.Fatalf("unexpected error payload: %s", frame.Data)
	}

	// fatal: the server closes the connection afterwards.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
}

func TestGatewayUnknownEventIsNonFatal(t *testing.T) {
	tg := startTestGateway(t)

	conn := dialWS(t, tg.url)
	sendEvent(t, conn, protocol.EventSetup, protocol.SetupData{UserID: "u1"})
	sendEvent(t, conn, "no-such-event", nil)

	frame := readFrame(t, conn)
	if frame.Event != protocol.EventError {
		t.Fatalf("expected error frame, got %s", frame.Event)
	}

	// connection survives; a message still round-trips.
	sendEvent(t, conn, protocol.EventSendMessage, protocol.SendMessageData{SenderID: "u1", ReceiverID: "u2", Content: "still here"})
	frame = readFrame(t, conn)
	if frame.Event != protocol.EventReceiveMessage {
		t.Fatalf("expected receive-message after recovery, got %s", frame.Event)
	}
}

func TestGatewayCallSignalPassthrough(t *testing.T) {
	tg := startTestGateway(t)

	caller := dialWS(t, tg.url)
	callee := dialWS(t, tg.url)
	sendEvent(t, caller, protocol.EventSetup, protocol.SetupData{UserID: "u1"})
	sendEvent(t, callee, protocol.EventSetup, protocol.SetupData{UserID: "u2"})
	waitForConnections(t, tg.conns, "u1", 1)
	waitForConnections(t, tg.conns, "u2", 1)

	sendEvent(t, caller, protocol.EventCallUser, protocol.CallUserData{
		UserToCall: "u2",
		SignalData: json.RawMessage(`{"sdp":"offer"}`),
		From:       "u1",
		Name:       "Alice",
	})

	frame := readFrame(t, callee)
	if frame.Event != protocol.EventCallUser {
		t.Fatalf("expected forwarded call-user, got %s", frame.Event)
	}
	var incoming protocol.IncomingCallData
	if err := json.Unmarshal(frame.Data, &incoming); err != nil {
		t.Fatalf("decode incoming call: %v", err)
	}
	if incoming.From != "u1" || incoming.Name != "Alice" || string(incoming.Signal) != `{"sdp":"offer"}` {
		t.Fatalf("unexpected incoming call payload: %+v", incoming)
	}

	sendEvent(t, callee, protocol.EventAnswerCall, protocol.AnswerCallData{To: "u1", Signal: json.RawMessage(`{"sdp":"answer"}`)})
	frame = readFrame(t, caller)
	if frame.Event != protocol.EventCallAccepted {
		t.Fatalf("expected call-accepted, got %s", frame.Event)
	}
	if string(frame.Data) != `{"sdp":"answer"}` {
		t.Fatalf("unexpected answer signal: %s", frame.Data)
	}
}

func TestGatewayJoinRoomRejectsForeignPair(t *testing.T) {
	tg := startTestGateway(t)

	conn := dialWS(t, tg.url)
	sendEvent(t, conn, protocol.EventSetup, protocol.SetupData{UserID: "u1"})
	foreign := registry.PairKey("u2", "u3")
	sendEvent(t, conn, protocol.EventJoinRoom, protocol.JoinRoomData{RoomID: foreign, UserID: "u1"})

	frame := readFrame(t, conn)
	if frame.Event != protocol.EventError {
		t.Fatalf("expected error frame, got %s", frame.Event)
	}
	var errData protocol.ErrorData
	if err := json.Unmarshal(frame.Data, &errData); err != nil || errData.Code != "NOT_PARTICIPANT" {
		t.Fatalf("unexpected error payload: %s", frame.Data)
	}
	if tg.rooms.Members(foreign) != 0 {
		t.Fatalf("foreign room must stay empty")
	}

	// non-fatal: a room naming this user still works
	room := registry.PairKey("u1", "u2")
	sendEvent(t, conn, protocol.EventJoinRoom, protocol.JoinRoomData{RoomID: room, UserID: "u1"})
	waitForMembers(t, tg.rooms, room, 1)
}

func TestGatewayOversizedFrameClosesConnection(t *testing.T) {
	tg := startTestGatewayOpts(t, GatewayOptions{ReadLimit: 256})

	conn := dialWS(t, tg.url)
	sendEvent(t, conn, protocol.EventSetup, protocol.SetupData{UserID: "u1"})
	waitForConnections(t, tg.conns, "u1", 1)

	sendEvent(t, conn, protocol.EventSendMessage, protocol.SendMessageData{
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    strings.Repeat("x", 4096),
	})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// nothing oversized reaches the relay
	history, err := tg.msgs.Between(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("oversized message must not be persisted, got %d rows", len(history))
	}
}
