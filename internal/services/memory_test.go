package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"

	"mileage/internal/mileage"
	"mileage/internal/store"
	"mileage/internal/websocket"

	"github.com/jmoiron/sqlx"
)

// memoryLedger backs the store interfaces with maps. serialTxRunner holds a
// single lock for the whole unit of work, which is what the row lock gives
// writers of one account.
type memoryLedger struct {
	accounts     map[string]mileage.Account
	transactions []mileage.Transaction
	audits       []store.AuditEntry
	failCreate   error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{accounts: make(map[string]mileage.Account)}
}

type memorySnapshot struct {
	accounts     map[string]mileage.Account
	transactions int
	audits       int
}

func (m *memoryLedger) snapshot() memorySnapshot {
	accounts := make(map[string]mileage.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	return memorySnapshot{accounts: accounts, transactions: len(m.transactions), audits: len(m.audits)}
}

func (m *memoryLedger) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.transactions = m.transactions[:s.transactions]
	m.audits = m.audits[:s.audits]
}

func (m *memoryLedger) EnsureForUser(_ context.Context, _ store.Execer, id, userID string) (bool, error) {
	if _, ok := m.accounts[userID]; ok {
		return false, nil
	}
	m.accounts[userID] = mileage.Account{ID: id, UserID: userID}
	return true, nil
}

func (m *memoryLedger) GetForUpdateByUser(_ context.Context, _ store.Getter, userID string) (mileage.Account, error) {
	account, ok := m.accounts[userID]
	if !ok {
		return mileage.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (m *memoryLedger) UpdateBalances(_ context.Context, _ store.Execer, account mileage.Account) error {
	if _, ok := m.accounts[account.UserID]; !ok {
		return errors.New("update of unknown account")
	}
	m.accounts[account.UserID] = account
	return nil
}

func (m *memoryLedger) Create(_ context.Context, _ store.Execer, t mileage.Transaction) error {
	if m.failCreate != nil {
		return m.failCreate
	}
	m.transactions = append(m.transactions, t)
	return nil
}

func (m *memoryLedger) HasSourceForUser(_ context.Context, _ store.Getter, userID, sourceType string, sourceID int64) (bool, error) {
	for _, t := range m.transactions {
		if t.UserID == userID && t.SourceType == sourceType && t.SourceID != nil && *t.SourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryLedger) Log(_ context.Context, _ store.Execer, entry store.AuditEntry) error {
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memoryLedger) count(txType mileage.TransactionType) int {
	n := 0
	for _, t := range m.transactions {
		if t.Type == txType {
			n++
		}
	}
	return n
}

type serialTxRunner struct {
	mu     sync.Mutex
	ledger *memoryLedger
}

func (r *serialTxRunner) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := r.ledger.snapshot()
	if err := fn(nil); err != nil {
		r.ledger.restore(saved)
		return err
	}
	return nil
}

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

func newMemoryService() (*LedgerService, *memoryLedger, *recordingHub) {
	ledger := newMemoryLedger()
	hub := &recordingHub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewLedgerService(&serialTxRunner{ledger: ledger}, ledger, ledger, ledger, hub, logger)
	return service, ledger, hub
}
