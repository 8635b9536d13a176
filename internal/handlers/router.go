package handlers

import (
	"log/slog"
	"net/http"

	"mileage/internal/config"
	"mileage/internal/db"
	"mileage/internal/middleware"
	"mileage/internal/store"
	"mileage/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gorillaws "github.com/gorilla/websocket"
)

type Handler struct {
	txRunner     db.TxRunner
	cfg          config.Config
	accounts     AccountStore
	transactions TransactionStore
	admin        AdminStore
	audit        AuditStore
	ledger       LedgerService
	hub          *websocket.Hub
	upgrader     gorillaws.Upgrader
	logger       *slog.Logger
}

func New(txRunner db.TxRunner, cfg config.Config, accounts AccountStore, transactions TransactionStore, admin AdminStore, audit AuditStore, ledger LedgerService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		txRunner:     txRunner,
		cfg:          cfg,
		accounts:     accounts,
		transactions: transactions,
		admin:        admin,
		audit:        audit,
		ledger:       ledger,
		hub:          hub,
		upgrader:     websocket.Upgrader(cfg.AllowedOrigins),
		logger:       logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/mileage", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/me", h.MyBalance)
		r.Get("/me/transactions", h.MyTransactions)
		r.Get("/me/rank", h.MyRank)
		r.Get("/me/totals", h.MyTotals)
		r.Post("/me/use", h.UseMyPoints)
		r.Get("/leaderboard", h.Leaderboard)
		r.Get("/stats", h.Stats)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))

		manage := middleware.RequireAdmin(h.admin, store.RoleManageMileage)
		adjust := middleware.RequireAdmin(h.admin, store.RoleAdjustMileage)
		view := middleware.RequireAdmin(h.admin, store.RoleViewMileage)
		super := middleware.RequireAdmin(h.admin, "")

		r.With(manage).Post("/mileage/{userID}/earn", h.AdminEarn)
		r.With(manage).Post("/mileage/{userID}/use", h.AdminUse)
		r.With(manage).Post("/mileage/{userID}/expire", h.AdminExpire)
		r.With(adjust).Post("/mileage/{userID}/adjust", h.AdminAdjust)

		r.With(view).Get("/mileage/transactions", h.AdminTransactions)
		r.With(view).Get("/mileage/totals", h.AdminTotals)
		r.With(view).Get("/mileage/usage", h.AdminUsage)
		r.With(view).Get("/mileage/sources/{sourceType}/sum", h.AdminSourceSum)
		r.With(view).Get("/mileage/sources/{sourceType}/{sourceID}", h.AdminSourceLookup)
		r.With(view).Get("/mileage/{userID}", h.AdminBalance)
		r.With(view).Get("/mileage/{userID}/transactions", h.AdminUserTransactions)

		r.With(view).Get("/audit", h.ListAuditLogs)
		r.With(view).Get("/reconcile", h.Reconcile)
		r.With(super).Post("/roles/grant", h.GrantRole)
		r.With(super).Post("/promote", h.PromoteAdmin)
	})
	return router
}
