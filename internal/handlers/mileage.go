package handlers

import (
	"net/http"

	"mileage/internal/middleware"
	"mileage/internal/mileage"
	"mileage/internal/services"
	"mileage/internal/store"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

type transactionPage struct {
	Items []mileage.Transaction `json:"items"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

func (h *Handler) MyBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.writeBalance(w, r, userID)
}

func (h *Handler) writeBalance(w http.ResponseWriter, r *http.Request, userID string) {
	account, err := h.accounts.GetByUser(r.Context(), userID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account.Balance())
}

func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	filter.UserID = userID
	filter.AccountID = ""
	h.writeTransactionPage(w, r, filter)
}

func (h *Handler) writeTransactionPage(w http.ResponseWriter, r *http.Request, filter store.TransactionFilter) {
	items, err := h.transactions.List(r.Context(), filter)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	total, err := h.transactions.Count(r.Context(), filter)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transactionPage{
		Items: items,
		Total: total,
		Page:  filter.Offset/filter.Limit + 1,
		Limit: filter.Limit,
	})
}

func (h *Handler) MyRank(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	key, err := mileage.ParseRankKey(r.URL.Query().Get("by"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_rank_key")
		return
	}
	accounts, err := h.accounts.Snapshot(r.Context())
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	rank, found := mileage.RankOf(accounts, userID, key)
	if !found {
		respondError(w, http.StatusNotFound, "account_not_found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"by":       key,
		"rank":     rank,
		"accounts": len(accounts),
	})
}

func (h *Handler) MyTotals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	scope.UserID = userID
	totals, err := h.transactions.Totals(r.Context(), scope)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

// UseMyPoints lets a user redeem their own points.
func (h *Handler) UseMyPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req pointsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	if err := req.normalize(); err != nil {
		respondBadRequest(w, err)
		return
	}
	tx, err := h.ledger.Use(r.Context(), services.UseRequest{
		UserID:      userID,
		Points:      req.Points,
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		Description: req.Description,
		ActorID:     userID,
	})
	if err != nil {
		h.respondLedgerError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	key, err := mileage.ParseRankKey(r.URL.Query().Get("by"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_rank_key")
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), defaultLeaderboardSize)
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	accounts, err := h.accounts.Snapshot(r.Context())
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"by":      key,
		"entries": mileage.Leaderboard(accounts, key, limit),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.Snapshot(r.Context())
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mileage.Summarize(accounts))
}
