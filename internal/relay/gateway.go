package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MamunCrafts/video-chat-app/internal/registry"
	"github.com/MamunCrafts/video-chat-app/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// GatewayOptions tunes the websocket endpoint.
type GatewayOptions struct {
	Metrics      *relayMetrics
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// ReadLimit caps a single inbound frame in bytes; oversized frames
	// close the connection.
	ReadLimit int64
	// CheckOrigin overrides the upgrade origin policy; nil allows all
	// origins, matching the original same-host deployment.
	CheckOrigin func(r *http.Request) bool
}

// Gateway terminates client websockets and routes their events through the
// Connection Registry, Room Index and Message Relay.
type Gateway struct {
	log     *zap.Logger
	conns   registry.ConnectionRegistry
	rooms   *registry.RoomIndex
	relay   *MessageRelay
	metrics *relayMetrics

	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64
}

// NewGateway wires the gateway's collaborators.
func NewGateway(log *zap.Logger, conns registry.ConnectionRegistry, rooms *registry.RoomIndex, relay *MessageRelay, opts GatewayOptions) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Gateway{
		log:          log,
		conns:        conns,
		rooms:        rooms,
		relay:        relay,
		metrics:      opts.Metrics,
		upgrader:     websocket.Upgrader{CheckOrigin: checkOrigin},
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		readLimit:    opts.ReadLimit,
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	s := &session{
		id:          uuid.NewString(),
		conn:        conn,
		sendCh:      make(chan []byte, g.sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		writeDone:   make(chan struct{}),
		connectedAt: time.Now(),
	}
	g.metrics.incConnection()
	g.log.Info("client connected", zap.String("session_id", s.id))

	go g.writeLoop(s)
	g.readLoop(s)
	g.cleanupSession(s)
}

func (g *Gateway) readLoop(s *session) {
	// a peer that stops answering pings times out on the next read
	pongWait := g.pingInterval + g.writeTimeout
	s.conn.SetReadLimit(g.readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Warn("session read failed", zap.Error(err), zap.String("session_id", s.id))
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			g.rejectFrame(s, &frameError{code: "INVALID_FRAME", msg: "malformed frame", fatal: true}, "")
			return
		}

		start := time.Now()
		if err := g.routeFrame(s, frame); err != nil {
			var ferr *frameError
			if errors.As(err, &ferr) {
				g.rejectFrame(s, ferr, frame.Event)
				if ferr.fatal {
					return
				}
				continue
			}
			g.log.Warn("frame handling failed", zap.Error(err), zap.String("session_id", s.id))
			return
		}
		g.metrics.observeLatency(frame.Event, time.Since(start))
	}
}

func (g *Gateway) routeFrame(s *session, frame protocol.Frame) error {
	if s.userID == "" && frame.Event != protocol.EventSetup {
		return &frameError{code: "NOT_SETUP", msg: "setup must be the first event", fatal: true}
	}

	switch frame.Event {
	case protocol.EventSetup:
		return g.handleSetup(s, frame.Data)
	case protocol.EventJoinRoom:
		return g.handleJoinRoom(s, frame.Data)
	case protocol.EventSendMessage:
		return g.handleSendMessage(s, frame.Data)
	case protocol.EventCallUser:
		return g.handleCallUser(s, frame.Data)
	case protocol.EventAnswerCall:
		return g.handleAnswerCall(s, frame.Data)
	default:
		return &frameError{code: "UNKNOWN_EVENT", msg: "unsupported event " + frame.Event}
	}
}

func (g *Gateway) handleSetup(s *session, data json.RawMessage) error {
	var setup protocol.SetupData
	if err := json.Unmarshal(data, &setup); err != nil || setup.UserID == "" {
		return &frameError{code: "INVALID_FRAME", msg: "setup requires userId", fatal: true}
	}

	s.userID = setup.UserID
	g.conns.Register(setup.UserID, s)
	g.log.Info("client joined personal channel",
		zap.String("session_id", s.id),
		zap.String("user_id", setup.UserID))
	return nil
}

func (g *Gateway) handleJoinRoom(s *session, data json.RawMessage) error {
	var join protocol.JoinRoomData
	if err := json.Unmarshal(data, &join); err != nil || join.RoomID == "" {
		return &frameError{code: "INVALID_FRAME", msg: "join-room requires roomId"}
	}
	if join.UserID == "" {
		join.UserID = s.userID
	}
	if !registry.PairKeyMatches(join.RoomID, s.userID) {
		return &frameError{code: "NOT_PARTICIPANT", msg: "room key does not name this user"}
	}

	others := g.rooms.Join(join.RoomID, s)
	if len(others) == 0 {
		return nil
	}

	payload, err := protocol.EncodeFrame(protocol.EventUserConnected, protocol.UserConnectedData{UserID: join.UserID})
	if err != nil {
		return err
	}
	for _, member := range others {
		_ = member.Push(payload)
	}
	return nil
}

func (g *Gateway) handleSendMessage(s *session, data json.RawMessage) error {
	var send protocol.SendMessageData
	if err := json.Unmarshal(data, &send); err != nil {
		return &frameError{code: "INVALID_FRAME", msg: "malformed send-message"}
	}

	// The relay validates participants and owns the persist+fanout
	// contract; submit failures are intentionally silent to the sender.
	g.relay.Submit(s.ctx, send.SenderID, send.ReceiverID, send.Content)
	return nil
}

func (g *Gateway) handleCallUser(s *session, data json.RawMessage) error {
	var call protocol.CallUserData
	if err := json.Unmarshal(data, &call); err != nil || call.UserToCall == "" {
		return &frameError{code: "INVALID_FRAME", msg: "call-user requires userToCall"}
	}

	payload, err := protocol.EncodeFrame(protocol.EventCallUser, protocol.IncomingCallData{
		Signal: call.SignalData,
		From:   call.From,
		Name:   call.Name,
	})
	if err != nil {
		return err
	}
	g.conns.Fanout(call.UserToCall, payload)
	return nil
}

func (g *Gateway) handleAnswerCall(s *session, data json.RawMessage) error {
	var answer protocol.AnswerCallData
	if err := json.Unmarshal(data, &answer); err != nil || answer.To == "" {
		return &frameError{code: "INVALID_FRAME", msg: "answer-call requires to"}
	}

	payload, err := protocol.EncodeFrame(protocol.EventCallAccepted, json.RawMessage(answer.Signal))
	if err != nil {
		return err
	}
	g.conns.Fanout(answer.To, payload)
	return nil
}

func (g *Gateway) rejectFrame(s *session, ferr *frameError, event string) {
	g.metrics.recordError(ferr.code)
	payload, err := protocol.EncodeFrame(protocol.EventError, protocol.ErrorData{Code: ferr.code, Message: ferr.msg})
	if err != nil {
		return
	}
	_ = s.Push(payload)
	if event != "" {
		g.log.Debug("frame rejected",
			zap.String("session_id", s.id),
			zap.String("event", event),
			zap.String("code", ferr.code))
	}
}

func (g *Gateway) cleanupSession(s *session) {
	s.cancel()
	g.conns.Unregister(s)
	g.rooms.Leave(s)
	// let the write loop flush and send the close message first
	select {
	case <-s.writeDone:
	case <-time.After(g.writeTimeout):
	}
	_ = s.conn.Close()
	g.metrics.decConnection()
	g.log.Info("client disconnected",
		zap.String("session_id", s.id),
		zap.String("user_id", s.userID),
		zap.Duration("connected_for", time.Since(s.connectedAt)))
}
