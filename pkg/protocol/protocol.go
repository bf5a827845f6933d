// Package protocol defines the websocket wire contract between the relay
// and its clients: the frame envelope, the event names, and the payload
// shapes carried by each event.
package protocol

import (
	"encoding/json"
	"time"
)

// Event names carried on the websocket, matching the browser client's
// protocol.
const (
	EventSetup          = "setup"
	EventJoinRoom       = "join-room"
	EventUserConnected  = "user-connected"
	EventSendMessage    = "send-message"
	EventReceiveMessage = "receive-message"
	EventCallUser       = "call-user"
	EventAnswerCall     = "answer-call"
	EventCallAccepted   = "call-accepted"
	EventError          = "error"
)

// Frame is the envelope for every event in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SetupData registers the connection under a user identity.
type SetupData struct {
	UserID string `json:"userId"`
}

// JoinRoomData joins the canonical presence room for a conversation.
type JoinRoomData struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// UserConnectedData announces a peer joining a presence room.
type UserConnectedData struct {
	UserID string `json:"userId"`
}

// SendMessageData is a client's message submission. Timestamp is the
// client's optimistic clock and is advisory only; the persisted record
// carries the server-assigned time. RoomID is accepted and ignored.
type SendMessageData struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	RoomID     string `json:"roomId,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// MessageRecord is the canonical persisted record fanned out to both
// personal channels. Timestamp duplicates CreatedAt as epoch milliseconds.
type MessageRecord struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Timestamp  int64     `json:"timestamp"`
}

// CallUserData is the reserved relay-mediated signaling request. The current
// browser client signals over the external peer transport instead, but the
// relay keeps the passthrough alive for compatibility.
type CallUserData struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
	From       string          `json:"from"`
	Name       string          `json:"name,omitempty"`
}

// IncomingCallData is the forwarded form of CallUserData.
type IncomingCallData struct {
	Signal json.RawMessage `json:"signal,omitempty"`
	From   string          `json:"from"`
	Name   string          `json:"name,omitempty"`
}

// AnswerCallData answers a relay-mediated call; the signal is forwarded to
// the caller as call-accepted.
type AnswerCallData struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// ErrorData reports a rejected frame back to the client.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeFrame marshals an event envelope for the wire.
func EncodeFrame(event string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
