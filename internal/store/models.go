package store

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a chat account. Identity is an opaque string id; the gateway
// assigns it at creation time.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string    `bun:",pk" json:"id"`
	Email        string    `bun:",notnull,unique" json:"email"`
	Name         string    `bun:",nullzero" json:"name"`
	PasswordHash string    `bun:",notnull" json:"-"`
	CreatedAt    time.Time `bun:",notnull" json:"-"`
}

// Message is one persisted chat message. The gateway assigns ID and
// CreatedAt on write; client-supplied timestamps are never stored.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID         string    `bun:",pk" json:"id"`
	SenderID   string    `bun:",notnull" json:"senderId"`
	ReceiverID string    `bun:",notnull" json:"receiverId"`
	Content    string    `bun:",notnull" json:"content"`
	CreatedAt  time.Time `bun:",notnull" json:"createdAt"`
}

// Timestamp is CreatedAt as epoch milliseconds, the derived field the client
// consumes.
func (m Message) Timestamp() int64 {
	return m.CreatedAt.UnixMilli()
}
