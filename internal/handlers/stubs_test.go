package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"mileage/internal/auth"
	"mileage/internal/config"
	"mileage/internal/mileage"
	"mileage/internal/services"
	"mileage/internal/store"
	"mileage/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubAccountStore struct {
	getByUserFn func(ctx context.Context, userID string) (mileage.Account, error)
	snapshotFn  func(ctx context.Context) ([]mileage.Account, error)
	reconcileFn func(ctx context.Context) ([]store.Reconciliation, error)
}

func (s stubAccountStore) GetByUser(ctx context.Context, userID string) (mileage.Account, error) {
	if s.getByUserFn == nil {
		return mileage.Account{}, nil
	}
	return s.getByUserFn(ctx, userID)
}

func (s stubAccountStore) Snapshot(ctx context.Context) ([]mileage.Account, error) {
	if s.snapshotFn == nil {
		return nil, nil
	}
	return s.snapshotFn(ctx)
}

func (s stubAccountStore) Reconcile(ctx context.Context) ([]store.Reconciliation, error) {
	if s.reconcileFn == nil {
		return nil, nil
	}
	return s.reconcileFn(ctx)
}

type stubTransactionStore struct {
	listFn            func(ctx context.Context, filter store.TransactionFilter) ([]mileage.Transaction, error)
	countFn           func(ctx context.Context, filter store.TransactionFilter) (int64, error)
	hasSourceFn       func(ctx context.Context, sourceType string, sourceID int64) (bool, error)
	totalsFn          func(ctx context.Context, scope store.Scope) (store.Totals, error)
	sumPointsFn       func(ctx context.Context, txType mileage.TransactionType, scope store.Scope) (int64, error)
	sumBySourceTypeFn func(ctx context.Context, sourceType, userID string) (int64, error)
}

func (s stubTransactionStore) List(ctx context.Context, filter store.TransactionFilter) ([]mileage.Transaction, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func (s stubTransactionStore) Count(ctx context.Context, filter store.TransactionFilter) (int64, error) {
	if s.countFn == nil {
		return 0, nil
	}
	return s.countFn(ctx, filter)
}

func (s stubTransactionStore) HasSource(ctx context.Context, sourceType string, sourceID int64) (bool, error) {
	if s.hasSourceFn == nil {
		return false, nil
	}
	return s.hasSourceFn(ctx, sourceType, sourceID)
}

func (s stubTransactionStore) Totals(ctx context.Context, scope store.Scope) (store.Totals, error) {
	if s.totalsFn == nil {
		return store.Totals{}, nil
	}
	return s.totalsFn(ctx, scope)
}

func (s stubTransactionStore) SumPoints(ctx context.Context, txType mileage.TransactionType, scope store.Scope) (int64, error) {
	if s.sumPointsFn == nil {
		return 0, nil
	}
	return s.sumPointsFn(ctx, txType, scope)
}

func (s stubTransactionStore) SumBySourceType(ctx context.Context, sourceType, userID string) (int64, error) {
	if s.sumBySourceTypeFn == nil {
		return 0, nil
	}
	return s.sumBySourceTypeFn(ctx, sourceType, userID)
}

type stubAdminStore struct {
	isAdminFn   func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn   func(ctx context.Context, userID, role string) (bool, error)
	rolesFn     func(ctx context.Context, userID string) ([]string, error)
	promoteFn   func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy string) error
	grantRoleFn func(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return false, false, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

func (s stubAdminStore) Roles(ctx context.Context, userID string) ([]string, error) {
	if s.rolesFn == nil {
		return nil, nil
	}
	return s.rolesFn(ctx, userID)
}

func (s stubAdminStore) Promote(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy string) error {
	if s.promoteFn == nil {
		return nil
	}
	return s.promoteFn(ctx, tx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminUserID, role)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, entry store.AuditEntry) error
	listFn func(ctx context.Context, action string, limit, offset int) ([]map[string]any, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, entry store.AuditEntry) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, entry)
}

func (s stubAuditStore) List(ctx context.Context, action string, limit, offset int) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, action, limit, offset)
}

type stubLedger struct {
	earnFn   func(ctx context.Context, req services.EarnRequest) (mileage.Transaction, error)
	useFn    func(ctx context.Context, req services.UseRequest) (mileage.Transaction, error)
	expireFn func(ctx context.Context, req services.ExpireRequest) (mileage.Transaction, error)
	adjustFn func(ctx context.Context, req services.AdjustRequest) (mileage.Transaction, error)
}

func (s stubLedger) Earn(ctx context.Context, req services.EarnRequest) (mileage.Transaction, error) {
	if s.earnFn == nil {
		return mileage.Transaction{}, nil
	}
	return s.earnFn(ctx, req)
}

func (s stubLedger) Use(ctx context.Context, req services.UseRequest) (mileage.Transaction, error) {
	if s.useFn == nil {
		return mileage.Transaction{}, nil
	}
	return s.useFn(ctx, req)
}

func (s stubLedger) Expire(ctx context.Context, req services.ExpireRequest) (mileage.Transaction, error) {
	if s.expireFn == nil {
		return mileage.Transaction{}, nil
	}
	return s.expireFn(ctx, req)
}

func (s stubLedger) Adjust(ctx context.Context, req services.AdjustRequest) (mileage.Transaction, error) {
	if s.adjustFn == nil {
		return mileage.Transaction{}, nil
	}
	return s.adjustFn(ctx, req)
}

// testDeps collects the stubs; zero values behave as empty stores.
type testDeps struct {
	txRunner     fakeTxRunner
	accounts     stubAccountStore
	transactions stubTransactionStore
	admin        stubAdminStore
	audit        stubAuditStore
	ledger       stubLedger
}

func newTestHandler(deps testDeps) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: []string{"*"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(deps.txRunner, cfg, deps.accounts, deps.transactions, deps.admin, deps.audit, deps.ledger, websocket.NewHub(), logger)
}

// serve sends one request through the full router as userID. An empty userID
// sends no Authorization header.
func serve(t *testing.T, h *Handler, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		token, err := auth.GenerateToken("secret", userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func superAdmin() stubAdminStore {
	return stubAdminStore{
		isAdminFn: func(context.Context, string) (bool, bool, error) { return true, true, nil },
	}
}

func adminWithRoles(roles ...string) stubAdminStore {
	return stubAdminStore{
		isAdminFn: func(context.Context, string) (bool, bool, error) { return true, false, nil },
		hasRoleFn: func(_ context.Context, _ string, role string) (bool, error) {
			for _, granted := range roles {
				if granted == role {
					return true, nil
				}
			}
			return false, nil
		},
	}
}
