package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrUnavailable marks failures of the store itself (connection loss,
// timeouts, lock conflicts) as opposed to errors returned by the unit of work.
var ErrUnavailable = errors.New("database unavailable")

type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

var _ TxRunner = SQLXTxRunner{}

type SQLXTxRunner struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTxRunner returns a runner whose transactions are bounded by timeout.
// A zero timeout leaves the deadline to the caller's context.
func NewTxRunner(db *sqlx.DB, timeout time.Duration) SQLXTxRunner {
	return SQLXTxRunner{db: db, timeout: timeout}
}

func (r SQLXTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return WithTx(ctx, r.db, fn)
}

func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// WithTx runs fn inside one READ COMMITTED transaction. Row locks taken by fn
// (SELECT ... FOR UPDATE) serialize writers of the same row; a waiter re-reads
// the committed row once the lock is released.
//
// There is no retry. Errors returned by fn are passed through untouched unless
// they come from the database and mean it is unavailable, in which case they
// are wrapped with ErrUnavailable. Commit failures are always wrapped.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

func classify(err error) error {
	if IsUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// IsUnavailable reports whether err means the store could not serve the
// request right now and the same request may succeed later.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	switch pqErr.Code.Class() {
	case "08", "53", "57":
		return true
	}
	return false
}
