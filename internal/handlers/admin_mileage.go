package handlers

import (
	"net/http"
	"strings"

	"mileage/internal/middleware"
	"mileage/internal/mileage"
	"mileage/internal/services"
	"mileage/internal/store"
	"mileage/internal/validator"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// targetUser reads and validates the {userID} path parameter together with
// the acting admin.
func targetUser(w http.ResponseWriter, r *http.Request) (userID, actorID string, ok bool) {
	actorID, ok = middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	userID = strings.TrimSpace(chi.URLParam(r, "userID"))
	if err := validator.ValidateUserID(userID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_user_id")
		return "", "", false
	}
	return userID, actorID, true
}

func (h *Handler) AdminEarn(w http.ResponseWriter, r *http.Request) {
	userID, actorID, ok := targetUser(w, r)
	if !ok {
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
	tx, err := h.ledger.Earn(r.Context(), services.EarnRequest{
		UserID:       userID,
		Points:       req.Points,
		SourceType:   req.SourceType,
		SourceID:     req.SourceID,
		Description:  req.Description,
		ActorID:      actorID,
		UniqueSource: req.UniqueSource,
	})
	if err != nil {
		h.respondLedgerError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) AdminUse(w http.ResponseWriter, r *http.Request) {
	userID, actorID, ok := targetUser(w, r)
	if !ok {
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
		ActorID:     actorID,
	})
	if err != nil {
		h.respondLedgerError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) AdminExpire(w http.ResponseWriter, r *http.Request) {
	userID, actorID, ok := targetUser(w, r)
	if !ok {
		return
	}
	var req expireRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	req.Description = strings.TrimSpace(req.Description)
	if err := validateDescription(req.Description); err != nil {
		respondBadRequest(w, err)
		return
	}
	tx, err := h.ledger.Expire(r.Context(), services.ExpireRequest{
		UserID:      userID,
		Points:      req.Points,
		Description: req.Description,
		ActorID:     actorID,
	})
	if err != nil {
		h.respondLedgerError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	userID, actorID, ok := targetUser(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	req.Description = strings.TrimSpace(req.Description)
	if err := validateDescription(req.Description); err != nil {
		respondBadRequest(w, err)
		return
	}
	tx, err := h.ledger.Adjust(r.Context(), services.AdjustRequest{
		UserID:      userID,
		Delta:       req.Delta,
		Description: req.Description,
		ActorID:     actorID,
	})
	if err != nil {
		h.respondLedgerError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) AdminBalance(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := targetUser(w, r)
	if !ok {
		return
	}
	h.writeBalance(w, r, userID)
}

func (h *Handler) AdminUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := targetUser(w, r)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	filter.UserID = userID
	h.writeTransactionPage(w, r, filter)
}

func (h *Handler) AdminTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	h.writeTransactionPage(w, r, filter)
}

// AdminSourceLookup answers whether a source event has already been recorded
// and lists the entries that reference it.
func (h *Handler) AdminSourceLookup(w http.ResponseWriter, r *http.Request) {
	sourceType := strings.ToUpper(chi.URLParam(r, "sourceType"))
	if sourceType == "" || validator.ValidateSourceType(sourceType) != nil {
		respondError(w, http.StatusBadRequest, "invalid_source_type")
		return
	}
	sourceID, err := parseSourceID(chi.URLParam(r, "sourceID"))
	if err != nil || sourceID == nil {
		respondError(w, http.StatusBadRequest, "invalid_source_id")
		return
	}
	recorded, err := h.transactions.HasSource(r.Context(), sourceType, *sourceID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	items := []mileage.Transaction{}
	if recorded {
		items, err = h.transactions.List(r.Context(), store.TransactionFilter{
			SourceType: sourceType,
			SourceID:   sourceID,
			Limit:      maxPageSize,
		})
		if err != nil {
			h.respondStoreError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"source_type":  sourceType,
		"source_id":    *sourceID,
		"recorded":     recorded,
		"transactions": items,
	})
}

func (h *Handler) AdminSourceSum(w http.ResponseWriter, r *http.Request) {
	sourceType := strings.ToUpper(chi.URLParam(r, "sourceType"))
	if sourceType == "" || validator.ValidateSourceType(sourceType) != nil {
		respondError(w, http.StatusBadRequest, "invalid_source_type")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	sum, err := h.transactions.SumBySourceType(r.Context(), sourceType, userID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	payload := map[string]any{"source_type": sourceType, "points": sum}
	if userID != "" {
		payload["user_id"] = userID
	}
	respondJSON(w, http.StatusOK, payload)
}

// AdminTotals returns every per-type total, or the single sum for ?type=.
func (h *Handler) AdminTotals(w http.ResponseWriter, r *http.Request) {
	scope, err := parseScope(r)
	if err != nil {
		respondBadRequest(w, err)
		return
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		txType, err := mileage.ParseTransactionType(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_type")
			return
		}
		sum, err := h.transactions.SumPoints(r.Context(), txType, scope)
		if err != nil {
			h.respondStoreError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"transaction_type": txType, "points": sum})
		return
	}
	totals, err := h.transactions.Totals(r.Context(), scope)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, totals)
}

// AdminUsage lists accounts whose usage rate is at least min_rate, highest
// first.
func (h *Handler) AdminUsage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("min_rate")
	if raw == "" {
		raw = "0"
	}
	minRate, err := decimal.NewFromString(raw)
	if err != nil || minRate.IsNegative() || minRate.GreaterThan(decimal.NewFromInt(1)) {
		respondError(w, http.StatusBadRequest, "invalid_rate")
		return
	}
	accounts, err := h.accounts.Snapshot(r.Context())
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	matched := mileage.FilterByUsageRate(accounts, minRate)
	rows := make([]map[string]any, 0, len(matched))
	for _, account := range matched {
		rows = append(rows, map[string]any{
			"user_id":          account.UserID,
			"total_points":     account.TotalPoints,
			"available_points": account.AvailablePoints,
			"used_points":      account.UsedPoints,
			"usage_rate":       mileage.UsageRate(account).Round(4),
		})
	}
	respondJSON(w, http.StatusOK, rows)
}
