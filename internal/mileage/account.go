package mileage

import "fmt"

// Earn credits points. The returned transaction has no ID or CreatedAt; the
// caller stamps both when it persists the entry.
func (a Account) Earn(points int64, source Source, description string) (Account, Transaction, error) {
	if points <= 0 {
		return a, Transaction{}, ErrInvalidAmount
	}
	next := a
	next.TotalPoints += points
	next.AvailablePoints += points
	return next, next.entry(TransactionEarn, points, points, source, description), nil
}

// Use spends available points.
func (a Account) Use(points int64, source Source, description string) (Account, Transaction, error) {
	if points <= 0 {
		return a, Transaction{}, ErrInvalidAmount
	}
	if a.AvailablePoints < points {
		return a, Transaction{}, &InsufficientBalanceError{Available: a.AvailablePoints, Requested: points}
	}
	next := a
	next.AvailablePoints -= points
	next.UsedPoints += points
	return next, next.entry(TransactionUse, points, -points, source, description), nil
}

// Expire removes available points without touching the total or used
// counters.
func (a Account) Expire(points int64, description string) (Account, Transaction, error) {
	if points <= 0 {
		return a, Transaction{}, ErrInvalidAmount
	}
	if a.AvailablePoints < points {
		return a, Transaction{}, &InsufficientBalanceError{Available: a.AvailablePoints, Requested: points}
	}
	next := a
	next.AvailablePoints -= points
	return next, next.entry(TransactionExpire, points, -points, Source{}, description), nil
}

// Adjust applies an administrative correction. A negative delta lowers both
// total and available points and needs enough available points to cover it.
func (a Account) Adjust(delta int64, description string) (Account, Transaction, error) {
	if delta == 0 {
		return a, Transaction{}, ErrInvalidAmount
	}
	next := a
	magnitude := delta
	if delta < 0 {
		magnitude = -delta
		if a.AvailablePoints < magnitude {
			return a, Transaction{}, &InsufficientBalanceError{Available: a.AvailablePoints, Requested: magnitude}
		}
	}
	next.TotalPoints += delta
	next.AvailablePoints += delta
	return next, next.entry(TransactionAdjust, magnitude, delta, Source{}, description), nil
}

// CheckInvariants verifies the counters a single account can check on its
// own. Cross-checks against history live in the reconcile query.
func (a Account) CheckInvariants() error {
	if a.AvailablePoints < 0 {
		return fmt.Errorf("%w: available points %d", ErrInvariantViolation, a.AvailablePoints)
	}
	if a.UsedPoints < 0 {
		return fmt.Errorf("%w: used points %d", ErrInvariantViolation, a.UsedPoints)
	}
	return nil
}

// CheckTransition verifies that moving from prev to a kept the monotonic
// counters monotonic and did not leak points.
func (a Account) CheckTransition(prev Account, tx Transaction) error {
	if err := a.CheckInvariants(); err != nil {
		return err
	}
	if a.UsedPoints < prev.UsedPoints {
		return fmt.Errorf("%w: used points decreased from %d to %d", ErrInvariantViolation, prev.UsedPoints, a.UsedPoints)
	}
	wantTotal, wantUsed := tx.counterDeltas()
	if got := a.TotalPoints - prev.TotalPoints; got != wantTotal {
		return fmt.Errorf("%w: %s moved total by %d, expected %d", ErrInvariantViolation, tx.Type, got, wantTotal)
	}
	if got := a.UsedPoints - prev.UsedPoints; got != wantUsed {
		return fmt.Errorf("%w: %s moved used by %d, expected %d", ErrInvariantViolation, tx.Type, got, wantUsed)
	}
	if a.AvailablePoints-prev.AvailablePoints != tx.Effect {
		return fmt.Errorf("%w: available moved by %d, entry says %d", ErrInvariantViolation, a.AvailablePoints-prev.AvailablePoints, tx.Effect)
	}
	if tx.BalanceAfter != a.AvailablePoints {
		return fmt.Errorf("%w: balance after %d, account has %d", ErrInvariantViolation, tx.BalanceAfter, a.AvailablePoints)
	}
	return nil
}

// counterDeltas is how far an entry of this type moves the total and used
// counters.
func (t Transaction) counterDeltas() (total, used int64) {
	switch t.Type {
	case TransactionEarn, TransactionAdjust:
		return t.Effect, 0
	case TransactionUse:
		return 0, t.Points
	default:
		return 0, 0
	}
}

func (a Account) entry(t TransactionType, points, effect int64, source Source, description string) Transaction {
	return Transaction{
		AccountID:    a.ID,
		UserID:       a.UserID,
		Type:         t,
		Points:       points,
		Effect:       effect,
		BalanceAfter: a.AvailablePoints,
		SourceType:   source.Type,
		SourceID:     source.ID,
		Description:  description,
	}
}
