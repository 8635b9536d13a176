package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"mileage/internal/auth"
	"mileage/internal/middleware"
	"mileage/internal/store"
	"mileage/internal/validator"
	"mileage/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type promoteRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// PromoteAdmin makes a user a regular admin and grants the requested roles in
// the same transaction.
func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req promoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if validator.ValidateUserID(req.UserID) != nil {
		respondError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	for _, role := range req.Roles {
		if !store.IsKnownRole(role) {
			respondError(w, http.StatusBadRequest, "unknown_role")
			return
		}
	}
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.Promote(r.Context(), tx, req.UserID, false, actorID); err != nil {
			return err
		}
		for _, role := range req.Roles {
			if err := h.admin.GrantRole(r.Context(), tx, req.UserID, role); err != nil {
				return err
			}
		}
		data, err := json.Marshal(map[string]any{
			"target_user_id": req.UserID,
			"roles":          req.Roles,
		})
		if err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    actorID,
			Action:     "admin.promote",
			EntityType: "admin",
			EntityID:   req.UserID,
			Data:       string(data),
		})
	})
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"status": "promoted", "user_id": req.UserID, "roles": req.Roles})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Role        string `json:"role"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req grantRoleRequest
	if err := decodeJSON(w, r, &req); err != nil || req.AdminUserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_payload")
		return
	}
	if !store.IsKnownRole(req.Role) {
		respondError(w, http.StatusBadRequest, "unknown_role")
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminUserID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "target_not_admin")
		return
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "target_is_super_admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		data, err := json.Marshal(map[string]string{
			"admin_user_id": req.AdminUserID,
			"role":          req.Role,
		})
		if err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, store.AuditEntry{
			ActorID:    actorID,
			Action:     "admin.grant_role",
			EntityType: "admin_role",
			EntityID:   req.AdminUserID,
			Data:       string(data),
		})
	})
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	roles, err := h.admin.Roles(r.Context(), req.AdminUserID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"status": "role_granted", "roles": roles})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePaging(r)
	rows, err := h.audit.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("action")), limit, (page-1)*limit)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// Reconcile compares each account's stored balance with its transaction log.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.accounts.Reconcile(r.Context())
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	mismatched := make([]store.Reconciliation, 0)
	for _, row := range rows {
		if !row.Consistent() {
			mismatched = append(mismatched, row)
		}
	}
	if len(mismatched) > 0 {
		h.logger.WarnContext(r.Context(), "mileage balances out of sync with transaction log", "accounts", len(mismatched))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"accounts":   len(rows),
		"healthy":    len(mismatched) == 0,
		"mismatched": mismatched,
	})
}

// WSBalances authenticates with ?token= because browsers cannot set headers
// on a websocket handshake.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	websocket.ServeWS(w, r, h.upgrader, h.hub, claims.UserID)
}
