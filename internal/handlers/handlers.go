package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"mileage/internal/db"
	"mileage/internal/mileage"
	"mileage/internal/services"
)

// retryAfterSeconds is sent with 503 responses.
const retryAfterSeconds = "1"

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, map[string]string{"error": code})
}

func respondUnavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", retryAfterSeconds)
	respondError(w, http.StatusServiceUnavailable, "storage_unavailable")
}

// respondLedgerError maps a ledger operation failure to its status and code.
func (h *Handler) respondLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *mileage.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "insufficient_balance",
			"message":   "not enough points",
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.Is(err, mileage.ErrInsufficientBalance):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "insufficient_balance",
			"message": "not enough points",
		})
	case errors.Is(err, mileage.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, services.ErrSourceRequired):
		respondError(w, http.StatusBadRequest, "invalid_payload")
	case errors.Is(err, mileage.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "account_not_found")
	case errors.Is(err, mileage.ErrDuplicateSource):
		respondError(w, http.StatusConflict, "duplicate_source")
	case mileage.IsRetryable(err):
		respondUnavailable(w)
	default:
		h.logger.ErrorContext(r.Context(), "ledger request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error")
	}
}

// respondStoreError handles failures of read-only queries.
func (h *Handler) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		respondError(w, http.StatusNotFound, "account_not_found")
	case db.IsUnavailable(err):
		respondUnavailable(w)
	default:
		h.logger.ErrorContext(r.Context(), "query failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error")
	}
}
