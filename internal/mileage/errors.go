package mileage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for a non-positive point amount or a zero
	// adjustment. It is always a caller bug.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when available points cannot cover a
	// use, an expiry or a negative adjustment. It is a business outcome.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound is returned when a user has no mileage account and the
	// operation is not allowed to create one.
	ErrAccountNotFound = errors.New("mileage account not found")

	// ErrStorageUnavailable is returned when the unit of work could not commit
	// for infrastructure reasons. It is the only retryable kind.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicateSource is returned by a unique-source earn when the user
	// already has a transaction for the same source.
	ErrDuplicateSource = errors.New("source already recorded")

	ErrInvariantViolation = errors.New("account invariant violated")
)

// InsufficientBalanceError carries the numbers behind a rejected debit.
type InsufficientBalanceError struct {
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// IsRetryable reports whether err may succeed if the caller tries again later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError reports whether err is a business rejection that must not be
// retried and must not be logged as a failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrDuplicateSource)
}
