package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mileage/internal/db"
	"mileage/internal/mileage"
	"mileage/internal/store"
	"mileage/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SystemActor is recorded in the audit log when no caller is known.
const SystemActor = "system"

// ErrSourceRequired is returned by a unique-source earn without a full source.
var ErrSourceRequired = errors.New("unique source earn needs source type and id")

type LedgerService struct {
	txRunner     db.TxRunner
	accountStore AccountStore
	txStore      TransactionStore
	auditStore   AuditStore
	hub          BalanceHub
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

type AccountStore interface {
	EnsureForUser(ctx context.Context, tx store.Execer, id, userID string) (bool, error)
	GetForUpdateByUser(ctx context.Context, tx store.Getter, userID string) (mileage.Account, error)
	UpdateBalances(ctx context.Context, tx store.Execer, account mileage.Account) error
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, t mileage.Transaction) error
	HasSourceForUser(ctx context.Context, tx store.Getter, userID, sourceType string, sourceID int64) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

func NewLedgerService(txRunner db.TxRunner, accountStore AccountStore, txStore TransactionStore, auditStore AuditStore, hub BalanceHub, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		txRunner:     txRunner,
		accountStore: accountStore,
		txStore:      txStore,
		auditStore:   auditStore,
		hub:          hub,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

type EarnRequest struct {
	UserID      string
	Points      int64
	SourceType  string
	SourceID    *int64
	Description string
	ActorID     string
	// UniqueSource rejects the earn with mileage.ErrDuplicateSource when the
	// user already has a transaction for the same source.
	UniqueSource bool
}

type UseRequest struct {
	UserID      string
	Points      int64
	SourceType  string
	SourceID    *int64
	Description string
	ActorID     string
}

type ExpireRequest struct {
	UserID      string
	Points      int64
	Description string
	ActorID     string
}

type AdjustRequest struct {
	UserID      string
	Delta       int64
	Description string
	ActorID     string
}

// Earn credits points and creates the account on first use.
func (s *LedgerService) Earn(ctx context.Context, req EarnRequest) (mileage.Transaction, error) {
	if req.Points <= 0 {
		return mileage.Transaction{}, mileage.ErrInvalidAmount
	}
	if req.UniqueSource && (req.SourceType == "" || req.SourceID == nil) {
		return mileage.Transaction{}, ErrSourceRequired
	}
	source := mileage.Source{Type: req.SourceType, ID: req.SourceID}
	op := operation{
		userID:  req.UserID,
		actorID: req.ActorID,
		action:  "mileage.earn",
		create:  true,
		mutate: func(a mileage.Account) (mileage.Account, mileage.Transaction, error) {
			return a.Earn(req.Points, source, req.Description)
		},
	}
	if req.UniqueSource {
		op.guard = func(ctx context.Context, tx *sqlx.Tx) error {
			exists, err := s.txStore.HasSourceForUser(ctx, tx, req.UserID, req.SourceType, *req.SourceID)
			if err != nil {
				return err
			}
			if exists {
				return mileage.ErrDuplicateSource
			}
			return nil
		}
	}
	return s.apply(ctx, op)
}

func (s *LedgerService) Use(ctx context.Context, req UseRequest) (mileage.Transaction, error) {
	if req.Points <= 0 {
		return mileage.Transaction{}, mileage.ErrInvalidAmount
	}
	source := mileage.Source{Type: req.SourceType, ID: req.SourceID}
	return s.apply(ctx, operation{
		userID:  req.UserID,
		actorID: req.ActorID,
		action:  "mileage.use",
		mutate: func(a mileage.Account) (mileage.Account, mileage.Transaction, error) {
			return a.Use(req.Points, source, req.Description)
		},
	})
}

func (s *LedgerService) Expire(ctx context.Context, req ExpireRequest) (mileage.Transaction, error) {
	if req.Points <= 0 {
		return mileage.Transaction{}, mileage.ErrInvalidAmount
	}
	return s.apply(ctx, operation{
		userID:  req.UserID,
		actorID: req.ActorID,
		action:  "mileage.expire",
		mutate: func(a mileage.Account) (mileage.Account, mileage.Transaction, error) {
			return a.Expire(req.Points, req.Description)
		},
	})
}

func (s *LedgerService) Adjust(ctx context.Context, req AdjustRequest) (mileage.Transaction, error) {
	if req.Delta == 0 {
		return mileage.Transaction{}, mileage.ErrInvalidAmount
	}
	return s.apply(ctx, operation{
		userID:  req.UserID,
		actorID: req.ActorID,
		action:  "mileage.adjust",
		mutate: func(a mileage.Account) (mileage.Account, mileage.Transaction, error) {
			return a.Adjust(req.Delta, req.Description)
		},
	})
}

type operation struct {
	userID  string
	actorID string
	action  string
	create  bool
	guard   func(ctx context.Context, tx *sqlx.Tx) error
	mutate  func(mileage.Account) (mileage.Account, mileage.Transaction, error)
}

type auditData struct {
	UserID       string `json:"user_id"`
	Type         string `json:"transaction_type"`
	Points       int64  `json:"points"`
	Effect       int64  `json:"effect"`
	BalanceAfter int64  `json:"balance_after"`
	SourceType   string `json:"source_type,omitempty"`
	SourceID     *int64 `json:"source_id,omitempty"`
}

// apply runs one ledger operation as a single unit of work: lock the account,
// apply the rule, write balances, append the entry and the audit row. The
// balance update is pushed only after commit.
func (s *LedgerService) apply(ctx context.Context, op operation) (mileage.Transaction, error) {
	actorID := op.actorID
	if actorID == "" {
		actorID = SystemActor
	}
	var (
		account mileage.Account
		entry   mileage.Transaction
	)
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now().UTC()
		if op.create {
			if _, err := s.accountStore.EnsureForUser(ctx, tx, s.newID(), op.userID); err != nil {
				return err
			}
		}
		current, err := s.accountStore.GetForUpdateByUser(ctx, tx, op.userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return mileage.ErrAccountNotFound
			}
			return err
		}
		if op.guard != nil {
			if err := op.guard(ctx, tx); err != nil {
				return err
			}
		}
		next, t, err := op.mutate(current)
		if err != nil {
			return err
		}
		if err := next.CheckTransition(current, t); err != nil {
			return err
		}
		next.UpdatedAt = now
		t.ID = s.newID()
		t.CreatedAt = now
		if err := s.accountStore.UpdateBalances(ctx, tx, next); err != nil {
			return err
		}
		if err := s.txStore.Create(ctx, tx, t); err != nil {
			return err
		}
		data, err := json.Marshal(auditData{
			UserID:       t.UserID,
			Type:         t.Type.String(),
			Points:       t.Points,
			Effect:       t.Effect,
			BalanceAfter: t.BalanceAfter,
			SourceType:   t.SourceType,
			SourceID:     t.SourceID,
		})
		if err != nil {
			return err
		}
		if err := s.auditStore.Log(ctx, tx, store.AuditEntry{
			ActorID:    actorID,
			Action:     op.action,
			EntityType: "mileage_transaction",
			EntityID:   t.ID,
			Data:       string(data),
		}); err != nil {
			return err
		}
		account, entry = next, t
		return nil
	})
	if err != nil {
		err = translate(err)
		s.logFailure(ctx, op, err)
		return mileage.Transaction{}, err
	}

	s.hub.BroadcastBalance(account.UserID, websocket.BalanceUpdate{
		UserID:          account.UserID,
		TotalPoints:     account.TotalPoints,
		AvailablePoints: account.AvailablePoints,
		UsedPoints:      account.UsedPoints,
		TransactionID:   entry.ID,
		TransactionType: entry.Type.String(),
		Points:          entry.Points,
		At:              entry.CreatedAt,
	})
	s.logger.InfoContext(ctx, "mileage transaction recorded",
		slog.String("action", op.action),
		slog.String("user_id", entry.UserID),
		slog.String("transaction_id", entry.ID),
		slog.Int64("points", entry.Points),
		slog.Int64("balance_after", entry.BalanceAfter),
		slog.String("actor_id", actorID),
	)
	return entry, nil
}

func translate(err error) error {
	if errors.Is(err, db.ErrUnavailable) {
		return fmt.Errorf("%w: %w", mileage.ErrStorageUnavailable, err)
	}
	return err
}

func (s *LedgerService) logFailure(ctx context.Context, op operation, err error) {
	attrs := []any{
		slog.String("action", op.action),
		slog.String("user_id", op.userID),
		slog.String("error", err.Error()),
	}
	switch {
	case mileage.IsClientError(err), errors.Is(err, ErrSourceRequired):
		s.logger.InfoContext(ctx, "mileage operation rejected", attrs...)
	case mileage.IsRetryable(err), errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "mileage operation not committed", attrs...)
	default:
		s.logger.ErrorContext(ctx, "mileage operation failed", attrs...)
	}
}
