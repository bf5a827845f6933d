package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func testDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	if err := CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestAppendAssignsIdentityAndTimestamp(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := NewMessages(testDB(t)).WithClock(func() time.Time { return base })

	msg, err := msgs.Append(ctx, "u1", "u2", "hi")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("expected assigned id")
	}
	if !msg.CreatedAt.Equal(base) {
		t.Fatalf("expected server timestamp %s, got %s", base, msg.CreatedAt)
	}
	if msg.Timestamp() != base.UnixMilli() {
		t.Fatalf("expected derived timestamp %d, got %d", base.UnixMilli(), msg.Timestamp())
	}
}

func TestAppendRejectsMissingParticipants(t *testing.T) {
	msgs := NewMessages(testDB(t))
	if _, err := msgs.Append(context.Background(), "", "u2", "hi"); err == nil {
		t.Fatalf("expected error for empty sender")
	}
	if _, err := msgs.Append(context.Background(), "u1", "", "hi"); err == nil {
		t.Fatalf("expected error for empty receiver")
	}
}

func TestBetweenIsUnorderedPairAscending(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := NewMessages(testDB(t)).WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	if _, err := msgs.Append(ctx, "u1", "u2", "first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := msgs.Append(ctx, "u2", "u1", "second"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := msgs.Append(ctx, "u1", "u3", "other conversation"); err != nil {
		t.Fatalf("append: %v", err)
	}

	forward, err := msgs.Between(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(forward) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(forward))
	}
	if forward[0].Content != "first" || forward[1].Content != "second" {
		t.Fatalf("unexpected order: %q then %q", forward[0].Content, forward[1].Content)
	}

	reverse, err := msgs.Between(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("between reversed: %v", err)
	}
	if len(reverse) != 2 || reverse[0].ID != forward[0].ID {
		t.Fatalf("expected pair query to be unordered")
	}
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(testDB(t))

	created, err := users.Create(ctx, "a@example.com", "Alice", "hash")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected assigned id")
	}

	if _, err := users.Create(ctx, "b@example.com", "Bob", "hash"); err != nil {
		t.Fatalf("create second: %v", err)
	}

	byEmail, err := users.ByEmail(ctx, "a@example.com")
	if err != nil || byEmail.ID != created.ID {
		t.Fatalf("by email: %v", err)
	}

	if _, err := users.ByEmail(ctx, "missing@example.com"); !errorsIsNotFound(err) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	others, err := users.ListOthers(ctx, created.ID)
	if err != nil {
		t.Fatalf("list others: %v", err)
	}
	if len(others) != 1 || others[0].Email != "b@example.com" {
		t.Fatalf("expected roster excluding self, got %+v", others)
	}

	updated, err := users.UpdateName(ctx, created.ID, "Alicia")
	if err != nil || updated.Name != "Alicia" {
		t.Fatalf("update name: %v (%+v)", err, updated)
	}

	if _, err := users.UpdateName(ctx, "missing", "x"); !errorsIsNotFound(err) {
		t.Fatalf("expected ErrUserNotFound for missing user, got %v", err)
	}
}

func errorsIsNotFound(err error) bool {
	return err == ErrUserNotFound
}
