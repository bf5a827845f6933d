package client

import (
	"sync"
	"time"

	"github.com/MamunCrafts/video-chat-app/pkg/protocol"
)

// Conversation is the local view of a 1:1 thread. Sends are appended
// optimistically; when the relay echoes the persisted record back on the
// sender's own channel, the optimistic copy is upgraded in place instead of
// duplicated.
type Conversation struct {
	selfID string

	mu       sync.Mutex
	messages []protocol.MessageRecord
}

// NewConversation builds an empty thread view for the given local identity.
func NewConversation(selfID string) *Conversation {
	return &Conversation{selfID: selfID}
}

// AppendLocal records an optimistic copy of a message just submitted. The
// record has no server identity yet.
func (c *Conversation) AppendLocal(receiverID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, protocol.MessageRecord{
		SenderID:   c.selfID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Timestamp:  time.Now().UnixMilli(),
	})
}

// Deliver folds a pushed record into the thread. An echo of one of our own
// pending sends upgrades the optimistic copy with the server-assigned
// identity and returns false; anything else is appended and returns true.
func (c *Conversation) Deliver(rec protocol.MessageRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.SenderID == c.selfID {
		for i := range c.messages {
			m := &c.messages[i]
			if m.ID == "" && m.SenderID == rec.SenderID && m.ReceiverID == rec.ReceiverID && m.Content == rec.Content {
				*m = rec
				return false
			}
		}
	}
	c.messages = append(c.messages, rec)
	return true
}

// Seed replaces the thread with history fetched over HTTP.
func (c *Conversation) Seed(history []protocol.MessageRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]protocol.MessageRecord(nil), history...)
}

// Messages snapshots the thread in arrival order.
func (c *Conversation) Messages() []protocol.MessageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.MessageRecord(nil), c.messages...)
}
