package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// session is one live client connection. It owns a buffered send channel so
// a slow reader never blocks another connection's handler; a full buffer is
// treated as fatal backpressure and the connection is torn down.
type session struct {
	id          string
	conn        *websocket.Conn
	sendCh      chan []byte
	ctx         context.Context
	cancel      context.CancelFunc
	writeDone   chan struct{}
	connectedAt time.Time

	// userID is set once by the setup event and read only by this
	// connection's read loop afterwards.
	userID string
}

// Push queues a payload for delivery. Implements registry.Sink.
func (s *session) Push(payload []byte) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.sendCh <- payload:
		return nil
	default:
		s.cancel()
		return &frameError{code: "BACKPRESSURE", msg: "session send buffer full", fatal: true}
	}
}

// writeLoop drains the send channel onto the websocket and keeps the
// connection alive with pings. Exits when the session context is cancelled.
func (g *Gateway) writeLoop(s *session) {
	defer close(s.writeDone)
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			// flush queued frames (an error notice may be pending) before closing
			for {
				select {
				case payload := <-s.sendCh:
					_ = s.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
					_ = s.conn.WriteMessage(websocket.TextMessage, payload)
					continue
				default:
				}
				break
			}
			deadline := time.Now().Add(g.writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case payload, ok := <-s.sendCh:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				g.log.Warn("session write failed", zap.Error(err), zap.String("session_id", s.id))
				s.cancel()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// frameError is a client-visible routing failure. Fatal errors close the
// connection after the error frame is delivered.
type frameError struct {
	code  string
	msg   string
	fatal bool
}

func (e *frameError) Error() string { return e.code + ": " + e.msg }
