package handlers

import (
	"context"

	"mileage/internal/mileage"
	"mileage/internal/services"
	"mileage/internal/store"
)

type AccountStore interface {
	GetByUser(ctx context.Context, userID string) (mileage.Account, error)
	Snapshot(ctx context.Context) ([]mileage.Account, error)
	Reconcile(ctx context.Context) ([]store.Reconciliation, error)
}

type TransactionStore interface {
	List(ctx context.Context, filter store.TransactionFilter) ([]mileage.Transaction, error)
	Count(ctx context.Context, filter store.TransactionFilter) (int64, error)
	HasSource(ctx context.Context, sourceType string, sourceID int64) (bool, error)
	Totals(ctx context.Context, scope store.Scope) (store.Totals, error)
	SumPoints(ctx context.Context, txType mileage.TransactionType, scope store.Scope) (int64, error)
	SumBySourceType(ctx context.Context, sourceType, userID string) (int64, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	Roles(ctx context.Context, userID string) ([]string, error)
	Promote(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
	List(ctx context.Context, action string, limit, offset int) ([]map[string]any, error)
}

type LedgerService interface {
	Earn(ctx context.Context, req services.EarnRequest) (mileage.Transaction, error)
	Use(ctx context.Context, req services.UseRequest) (mileage.Transaction, error)
	Expire(ctx context.Context, req services.ExpireRequest) (mileage.Transaction, error)
	Adjust(ctx context.Context, req services.AdjustRequest) (mileage.Transaction, error)
}
