// Package client is a Go client for the relay's websocket protocol. It
// mirrors what the browser client does: register an identity, join presence
// rooms, submit messages, and carry call signaling.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MamunCrafts/video-chat-app/internal/registry"
	"github.com/MamunCrafts/video-chat-app/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Handlers receives server-pushed events. Nil handlers are skipped. Handlers
// run on the client's read loop, one at a time.
type Handlers struct {
	OnMessage       func(protocol.MessageRecord)
	OnUserConnected func(userID string)
	OnIncomingCall  func(protocol.IncomingCallData)
	OnCallAccepted  func(signal json.RawMessage)
	OnError         func(protocol.ErrorData)
	OnClose         func(error)
}

// Options tunes a Client.
type Options struct {
	Log      *zap.Logger
	Handlers Handlers
}

// Client is one live connection to the relay.
type Client struct {
	log      *zap.Logger
	conn     *websocket.Conn
	handlers Handlers

	writeMu sync.Mutex

	mu     sync.Mutex
	userID string
	closed bool
}

// Dial connects to the relay's websocket endpoint.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "client.Dial %s", url)
	}
	c := &Client{
		log:      log,
		conn:     conn,
		handlers: opts.Handlers,
	}
	go c.readLoop()
	return c, nil
}

// Setup registers this connection under the given user identity. Must be the
// first event on the connection.
func (c *Client) Setup(userID string) error {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	return c.send(protocol.EventSetup, protocol.SetupData{UserID: userID})
}

// UserID reports the identity registered via Setup.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// JoinRoom enters the presence room shared with the other user and announces
// this client to anyone already there.
func (c *Client) JoinRoom(otherUserID string) error {
	roomID := registry.PairKey(c.UserID(), otherUserID)
	return c.send(protocol.EventJoinRoom, protocol.JoinRoomData{RoomID: roomID, UserID: c.UserID()})
}

// SendMessage submits a message for the receiver. The timestamp is the local
// optimistic clock; the server assigns the persisted one.
func (c *Client) SendMessage(receiverID, content string) error {
	return c.send(protocol.EventSendMessage, protocol.SendMessageData{
		SenderID:   c.UserID(),
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// CallUser sends a relay-mediated call invitation with a signaling payload.
func (c *Client) CallUser(calleeID, displayName string, signal json.RawMessage) error {
	return c.send(protocol.EventCallUser, protocol.CallUserData{
		UserToCall: calleeID,
		SignalData: signal,
		From:       c.UserID(),
		Name:       displayName,
	})
}

// AnswerCall answers a relay-mediated call; the signal reaches the caller as
// call-accepted.
func (c *Client) AnswerCall(callerID string, signal json.RawMessage) error {
	return c.send(protocol.EventAnswerCall, protocol.AnswerCallData{To: callerID, Signal: signal})
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) send(event string, data interface{}) error {
	payload, err := protocol.EncodeFrame(event, data)
	if err != nil {
		return errors.Wrapf(err, "client.send %s", event)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrapf(err, "client.send %s", event)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if cb := c.handlers.OnClose; cb != nil {
				if closed {
					cb(nil)
				} else {
					cb(err)
				}
			}
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventReceiveMessage:
		var rec protocol.MessageRecord
		if err := json.Unmarshal(frame.Data, &rec); err != nil {
			c.log.Warn("bad message record", zap.Error(err))
			return
		}
		if cb := c.handlers.OnMessage; cb != nil {
			cb(rec)
		}
	case protocol.EventUserConnected:
		var data protocol.UserConnectedData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.log.Warn("bad user-connected payload", zap.Error(err))
			return
		}
		if cb := c.handlers.OnUserConnected; cb != nil {
			cb(data.UserID)
		}
	case protocol.EventCallUser:
		var data protocol.IncomingCallData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.log.Warn("bad incoming call payload", zap.Error(err))
			return
		}
		if cb := c.handlers.OnIncomingCall; cb != nil {
			cb(data)
		}
	case protocol.EventCallAccepted:
		if cb := c.handlers.OnCallAccepted; cb != nil {
			cb(frame.Data)
		}
	case protocol.EventError:
		var data protocol.ErrorData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.log.Warn("bad error payload", zap.Error(err))
			return
		}
		if cb := c.handlers.OnError; cb != nil {
			cb(data)
		}
	default:
		c.log.Debug("ignoring event", zap.String("event", frame.Event))
	}
}
