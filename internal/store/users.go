package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// ErrUserNotFound is returned when a lookup matches no account.
var ErrUserNotFound = errors.New("user not found")

// UserStore owns the accounts table.
type UserStore struct {
	db *bun.DB
}

// NewUsers builds a user store over the given handle.
func NewUsers(db *bun.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a new account and assigns its identity.
func (s *UserStore) Create(ctx context.Context, email, name, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(user).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "userStore.Create.Insert")
	}
	return user, nil
}

// ByEmail fetches an account by email address.
func (s *UserStore) ByEmail(ctx context.Context, email string) (*User, error) {
	user := new(User)
	err := s.db.NewSelect().Model(user).Where("email = ?", email).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "userStore.ByEmail.Scan")
	}
	return user, nil
}

// ByID fetches an account by identity.
func (s *UserStore) ByID(ctx context.Context, id string) (*User, error) {
	user := new(User)
	err := s.db.NewSelect().Model(user).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "userStore.ByID.Scan")
	}
	return user, nil
}

// ListOthers returns the roster excluding the given account, for the contact
// list.
func (s *UserStore) ListOthers(ctx context.Context, selfID string) ([]User, error) {
	var users []User
	err := s.db.NewSelect().
		Model(&users).
		Where("id != ?", selfID).
		Order("email ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "userStore.ListOthers.Scan")
	}
	return users, nil
}

// UpdateName changes the display name and returns the updated account.
func (s *UserStore) UpdateName(ctx context.Context, id, name string) (*User, error) {
	res, err := s.db.NewUpdate().
		Model((*User)(nil)).
		Set("name = ?", name).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "userStore.UpdateName.Update")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrUserNotFound
	}
	return s.ByID(ctx, id)
}
