// Package mileage holds the point ledger rules: the account aggregate, the
// immutable transaction record and read-only projections over accounts.
//
// Nothing in this package touches storage. Mutations are pure: they take an
// account value and return the next account value plus the transaction that
// describes the change, or an error and no change at all.
package mileage

import (
	"fmt"
	"strings"
	"time"
)

// TransactionType is the closed set of balance-affecting events.
type TransactionType string

const (
	TransactionEarn   TransactionType = "EARN"
	TransactionUse    TransactionType = "USE"
	TransactionExpire TransactionType = "EXPIRE"
	TransactionAdjust TransactionType = "ADJUST"
)

// TransactionTypes lists every valid type in declaration order.
var TransactionTypes = []TransactionType{
	TransactionEarn,
	TransactionUse,
	TransactionExpire,
	TransactionAdjust,
}

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarn, TransactionUse, TransactionExpire, TransactionAdjust:
		return true
	default:
		return false
	}
}

func (t TransactionType) String() string {
	return string(t)
}

// ParseTransactionType accepts a type name in any letter case.
func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", raw)
	}
	return t, nil
}

// Source points at the external event that triggered a mutation. It is an
// audit breadcrumb only and is never dereferenced here.
type Source struct {
	Type string
	ID   *int64
}

// Account is one user's point balance.
type Account struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	TotalPoints     int64     `json:"total_points"`
	AvailablePoints int64     `json:"available_points"`
	UsedPoints      int64     `json:"used_points"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewAccount returns an empty account for userID.
func NewAccount(id, userID string, now time.Time) Account {
	return Account{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transaction is one immutable ledger entry. Points is always the positive
// magnitude; Effect is the signed change applied to AvailablePoints.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"transaction_type"`
	Points       int64           `json:"points"`
	Effect       int64           `json:"effect"`
	BalanceAfter int64           `json:"balance_after"`
	SourceType   string          `json:"source_type,omitempty"`
	SourceID     *int64          `json:"source_id,omitempty"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Balance is the public view of an account's counters.
type Balance struct {
	UserID          string `json:"user_id"`
	TotalPoints     int64  `json:"total_points"`
	AvailablePoints int64  `json:"available_points"`
	UsedPoints      int64  `json:"used_points"`
}

func (a Account) Balance() Balance {
	return Balance{
		UserID:          a.UserID,
		TotalPoints:     a.TotalPoints,
		AvailablePoints: a.AvailablePoints,
		UsedPoints:      a.UsedPoints,
	}
}
