package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Execer is satisfied by both *sqlx.DB and *sqlx.Tx. Writes take an Execer so
// the ledger service can run them inside its own transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Getter reads a single row. Row-locking reads take a Getter bound to the
// caller's transaction.
type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is the pool-level handle used by read-only queries.
type DB interface {
	Execer
	Getter
	Selecter
}

var (
	_ DB     = (*sqlx.DB)(nil)
	_ Execer = (*sqlx.Tx)(nil)
	_ Getter = (*sqlx.Tx)(nil)
)
