package store

import (
	"context"
	"time"

	"mileage/internal/mileage"
)

type AccountStore struct {
	db DB
}

type accountRow struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	TotalPoints     int64     `db:"total_points"`
	AvailablePoints int64     `db:"available_points"`
	UsedPoints      int64     `db:"used_points"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r accountRow) toAccount() mileage.Account {
	return mileage.Account{
		ID:              r.ID,
		UserID:          r.UserID,
		TotalPoints:     r.TotalPoints,
		AvailablePoints: r.AvailablePoints,
		UsedPoints:      r.UsedPoints,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// Reconciliation compares stored counters with what the transaction log adds
// up to. A healthy account has zero differences.
type Reconciliation struct {
	AccountID           string `db:"account_id" json:"account_id"`
	UserID              string `db:"user_id" json:"user_id"`
	StoredTotal         int64  `db:"stored_total" json:"stored_total"`
	CalculatedTotal     int64  `db:"calculated_total" json:"calculated_total"`
	StoredAvailable     int64  `db:"stored_available" json:"stored_available"`
	CalculatedAvailable int64  `db:"calculated_available" json:"calculated_available"`
	StoredUsed          int64  `db:"stored_used" json:"stored_used"`
	CalculatedUsed      int64  `db:"calculated_used" json:"calculated_used"`
	Difference          int64  `db:"difference" json:"difference"`
}

// Consistent reports whether every stored counter matches the log.
func (r Reconciliation) Consistent() bool {
	return r.Difference == 0 &&
		r.StoredTotal == r.CalculatedTotal &&
		r.StoredUsed == r.CalculatedUsed
}

const accountColumns = `id, user_id, total_points, available_points, used_points, created_at, updated_at`

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

// EnsureForUser creates an empty account for userID unless one exists. It
// reports whether a row was inserted.
func (s *AccountStore) EnsureForUser(ctx context.Context, tx Execer, id, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO mileage_accounts (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, id, userID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

func (s *AccountStore) GetByUser(ctx context.Context, userID string) (mileage.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM mileage_accounts
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return mileage.Account{}, err
	}
	return row.toAccount(), nil
}

func (s *AccountStore) GetForUpdateByUser(ctx context.Context, tx Getter, userID string) (mileage.Account, error) {
	var row accountRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM mileage_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return mileage.Account{}, err
	}
	return row.toAccount(), nil
}

func (s *AccountStore) UpdateBalances(ctx context.Context, tx Execer, account mileage.Account) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE mileage_accounts
		SET total_points = $1, available_points = $2, used_points = $3, updated_at = $4
		WHERE id = $5
	`, account.TotalPoints, account.AvailablePoints, account.UsedPoints, account.UpdatedAt, account.ID)
	return err
}

// Snapshot reads every account in one statement.
func (s *AccountStore) Snapshot(ctx context.Context) ([]mileage.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+`
		FROM mileage_accounts
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	accounts := make([]mileage.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toAccount())
	}
	return accounts, nil
}

func (s *AccountStore) Reconcile(ctx context.Context) ([]Reconciliation, error) {
	var rows []Reconciliation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id AS account_id,
		       a.user_id,
		       a.total_points AS stored_total,
		       COALESCE(SUM(t.effect) FILTER (WHERE t.transaction_type IN ('EARN', 'ADJUST')), 0) AS calculated_total,
		       a.available_points AS stored_available,
		       COALESCE(SUM(t.effect), 0) AS calculated_available,
		       a.used_points AS stored_used,
		       COALESCE(SUM(t.points) FILTER (WHERE t.transaction_type = 'USE'), 0) AS calculated_used,
		       (a.available_points - COALESCE(SUM(t.effect), 0)) AS difference
		FROM mileage_accounts a
		LEFT JOIN mileage_transactions t ON t.account_id = a.id
		GROUP BY a.id, a.user_id, a.total_points, a.available_points, a.used_points
		ORDER BY a.user_id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
