package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mileage/internal/config"
	"mileage/internal/db"
	"mileage/internal/handlers"
	"mileage/internal/services"
	"mileage/internal/store"
	"mileage/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	accounts := store.NewAccountStore(database)
	transactions := store.NewTransactionStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database, cfg.TxTimeout)
	hub := websocket.NewHub()
	ledger := services.NewLedgerService(txRunner, accounts, transactions, audit, hub, logger)

	if err := bootstrapAdmin(context.Background(), txRunner, admin, audit, cfg.BootstrapAdminUserID); err != nil {
		logger.Error("failed to bootstrap admin", "error", err)
		os.Exit(1)
	}

	handler := handlers.New(txRunner, cfg, accounts, transactions, admin, audit, ledger, hub, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("mileage API listening", "addr", server.Addr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// bootstrapAdmin makes userID a super admin holding every role when no admin
// exists yet.
func bootstrapAdmin(ctx context.Context, txRunner db.TxRunner, admin *store.AdminStore, audit *store.AuditStore, userID string) error {
	if userID == "" {
		return nil
	}
	exists, err := admin.HasAnyAdmin(ctx)
	if err != nil || exists {
		return err
	}
	return txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := admin.Promote(ctx, tx, userID, true, services.SystemActor); err != nil {
			return err
		}
		for _, role := range store.AdminRoles {
			if err := admin.GrantRole(ctx, tx, userID, role); err != nil {
				return err
			}
		}
		return audit.Log(ctx, tx, store.AuditEntry{
			ActorID:    services.SystemActor,
			Action:     "admin.bootstrap",
			EntityType: "admin",
			EntityID:   userID,
		})
	})
}
