package relay

import (
	"github.com/MamunCrafts/video-chat-app/internal/store"
	"github.com/MamunCrafts/video-chat-app/pkg/protocol"
)

// NewMessageRecord derives the wire record from a persisted message.
func NewMessageRecord(m store.Message) protocol.MessageRecord {
	return protocol.MessageRecord{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Timestamp:  m.Timestamp(),
	}
}
