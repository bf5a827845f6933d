package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// MessageStore is the append-only persistence gateway for chat messages.
// It assigns message identity and the server timestamp at write time.
type MessageStore struct {
	db  *bun.DB
	now func() time.Time
}

// NewMessages builds a message store over the given handle.
func NewMessages(db *bun.DB) *MessageStore {
	return &MessageStore{db: db, now: time.Now}
}

// WithClock overrides the timestamp source. Test hook.
func (s *MessageStore) WithClock(now func() time.Time) *MessageStore {
	s.now = now
	return s
}

// Append persists one message and returns the canonical record with the
// assigned id and createdAt.
func (s *MessageStore) Append(ctx context.Context, senderID, receiverID, content string) (*Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, errors.New("sender and receiver are required")
	}

	msg := &Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(msg).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "messageStore.Append.Insert")
	}
	return msg, nil
}

// Between returns every message exchanged between the unordered pair (a, b),
// ascending by server timestamp.
func (s *MessageStore) Between(ctx context.Context, a, b string) ([]Message, error) {
	var msgs []Message
	err := s.db.NewSelect().
		Model(&msgs).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "messageStore.Between.Scan")
	}
	return msgs, nil
}
