package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"mileage/internal/mileage"
)

type TransactionStore struct {
	db DB
}

type transactionRow struct {
	ID           string         `db:"id"`
	AccountID    string         `db:"account_id"`
	UserID       string         `db:"user_id"`
	Type         string         `db:"transaction_type"`
	Points       int64          `db:"points"`
	Effect       int64          `db:"effect"`
	BalanceAfter int64          `db:"balance_after"`
	SourceType   sql.NullString `db:"source_type"`
	SourceID     sql.NullInt64  `db:"source_id"`
	Description  string         `db:"description"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r transactionRow) toTransaction() mileage.Transaction {
	tx := mileage.Transaction{
		ID:           r.ID,
		AccountID:    r.AccountID,
		UserID:       r.UserID,
		Type:         mileage.TransactionType(r.Type),
		Points:       r.Points,
		Effect:       r.Effect,
		BalanceAfter: r.BalanceAfter,
		SourceType:   r.SourceType.String,
		Description:  r.Description,
		CreatedAt:    r.CreatedAt,
	}
	if r.SourceID.Valid {
		id := r.SourceID.Int64
		tx.SourceID = &id
	}
	return tx
}

// TransactionFilter narrows List and Count. Zero fields do not filter.
// From and To are inclusive bounds on created_at.
type TransactionFilter struct {
	AccountID  string
	UserID     string
	Type       mileage.TransactionType
	SourceType string
	SourceID   *int64
	From       *time.Time
	To         *time.Time
	Keyword    string
	Limit      int
	Offset     int
}

// Scope restricts aggregate queries to one user and/or a time range.
type Scope struct {
	UserID string
	From   *time.Time
	To     *time.Time
}

// Totals sums magnitudes per transaction type. AdjustedNet is signed.
type Totals struct {
	Earned      int64 `db:"earned" json:"earned"`
	Used        int64 `db:"used" json:"used"`
	Expired     int64 `db:"expired" json:"expired"`
	AdjustedNet int64 `db:"adjusted_net" json:"adjusted_net"`
}

const transactionColumns = `id, account_id, user_id, transaction_type, points, effect, balance_after,
		       source_type, source_id, description, created_at`

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Create appends one entry. There is no update or delete.
func (s *TransactionStore) Create(ctx context.Context, tx Execer, t mileage.Transaction) error {
	query := `
		INSERT INTO mileage_transactions (id, account_id, user_id, transaction_type, points, effect, balance_after, source_type, source_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := tx.ExecContext(ctx, query,
		t.ID, t.AccountID, t.UserID, string(t.Type), t.Points, t.Effect, t.BalanceAfter,
		nullString(t.SourceType), t.SourceID, t.Description, t.CreatedAt,
	)
	return err
}

// List returns entries newest first.
func (s *TransactionStore) List(ctx context.Context, filter TransactionFilter) ([]mileage.Transaction, error) {
	var where whereClause
	where.applyFilter(filter)
	query := `
		SELECT ` + transactionColumns + `
		FROM mileage_transactions` + where.String() + `
		ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += " LIMIT " + where.bind(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + where.bind(filter.Offset)
	}
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, where.args...); err != nil {
		return nil, err
	}
	out := make([]mileage.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTransaction())
	}
	return out, nil
}

// Count ignores Limit and Offset.
func (s *TransactionStore) Count(ctx context.Context, filter TransactionFilter) (int64, error) {
	var where whereClause
	where.applyFilter(filter)
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM mileage_transactions`+where.String(), where.args...)
	return count, err
}

func (s *TransactionStore) HasSource(ctx context.Context, sourceType string, sourceID int64) (bool, error) {
	return hasSource(ctx, s.db, "", sourceType, sourceID)
}

// HasSourceForUser runs on tx so the answer is read under the caller's
// account lock.
func (s *TransactionStore) HasSourceForUser(ctx context.Context, tx Getter, userID, sourceType string, sourceID int64) (bool, error) {
	return hasSource(ctx, tx, userID, sourceType, sourceID)
}

func hasSource(ctx context.Context, q Getter, userID, sourceType string, sourceID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM mileage_transactions WHERE source_type = $1 AND source_id = $2`
	args := []any{sourceType, sourceID}
	if userID != "" {
		query += ` AND user_id = $3`
		args = append(args, userID)
	}
	query += `)`
	var exists bool
	err := q.GetContext(ctx, &exists, query, args...)
	return exists, err
}

// SumPoints adds up the magnitudes of one transaction type.
func (s *TransactionStore) SumPoints(ctx context.Context, txType mileage.TransactionType, scope Scope) (int64, error) {
	var where whereClause
	where.add("transaction_type = ", string(txType))
	where.applyScope(scope)
	var sum int64
	err := s.db.GetContext(ctx, &sum, `SELECT COALESCE(SUM(points), 0) FROM mileage_transactions`+where.String(), where.args...)
	return sum, err
}

func (s *TransactionStore) Totals(ctx context.Context, scope Scope) (Totals, error) {
	var where whereClause
	where.applyScope(scope)
	var totals Totals
	err := s.db.GetContext(ctx, &totals, `
		SELECT COALESCE(SUM(points) FILTER (WHERE transaction_type = 'EARN'), 0) AS earned,
		       COALESCE(SUM(points) FILTER (WHERE transaction_type = 'USE'), 0) AS used,
		       COALESCE(SUM(points) FILTER (WHERE transaction_type = 'EXPIRE'), 0) AS expired,
		       COALESCE(SUM(effect) FILTER (WHERE transaction_type = 'ADJUST'), 0) AS adjusted_net
		FROM mileage_transactions`+where.String(), where.args...)
	return totals, err
}

// SumBySourceType returns the net signed effect of every entry tagged with
// sourceType, optionally for one user.
func (s *TransactionStore) SumBySourceType(ctx context.Context, sourceType, userID string) (int64, error) {
	var where whereClause
	where.add("source_type = ", sourceType)
	if userID != "" {
		where.add("user_id = ", userID)
	}
	var sum int64
	err := s.db.GetContext(ctx, &sum, `SELECT COALESCE(SUM(effect), 0) FROM mileage_transactions`+where.String(), where.args...)
	return sum, err
}

type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) bind(value any) string {
	w.args = append(w.args, value)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *whereClause) add(prefix string, value any) {
	w.conds = append(w.conds, prefix+w.bind(value))
}

func (w *whereClause) applyScope(scope Scope) {
	if scope.UserID != "" {
		w.add("user_id = ", scope.UserID)
	}
	if scope.From != nil {
		w.add("created_at >= ", *scope.From)
	}
	if scope.To != nil {
		w.add("created_at <= ", *scope.To)
	}
}

func (w *whereClause) applyFilter(f TransactionFilter) {
	if f.AccountID != "" {
		w.add("account_id = ", f.AccountID)
	}
	w.applyScope(Scope{UserID: f.UserID, From: f.From, To: f.To})
	if f.Type != "" {
		w.add("transaction_type = ", string(f.Type))
	}
	if f.SourceType != "" {
		w.add("source_type = ", f.SourceType)
	}
	if f.SourceID != nil {
		w.add("source_id = ", *f.SourceID)
	}
	if keyword := strings.TrimSpace(f.Keyword); keyword != "" {
		w.conds = append(w.conds, "description ILIKE "+w.bind("%"+escapeLike(keyword)+"%")+` ESCAPE '\'`)
	}
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "\n\t\tWHERE " + strings.Join(w.conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

