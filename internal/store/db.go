package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewPostgres opens a bun handle over the Postgres DSN.
func NewPostgres(dsn string) (*bun.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// CreateSchema ensures the chat tables exist. Safe to run on every boot.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*User)(nil), (*Message)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, "store.CreateSchema")
		}
	}
	return nil
}
