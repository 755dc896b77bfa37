// Package quota keeps per-workspace credit balances. Ingestion checks the
// balance at admission and again before processing, and consumes credits
// once a chunk has been extracted.
package quota

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/recall/pkg/types"
)

// Gate is the credit surface used by ingestion.
type Gate interface {
	// Check returns a *types.QuotaError when tenant holds fewer than required credits.
	Check(ctx context.Context, tenant types.Tenant, required int64) error
	// Consume debits amount credits, failing with *types.QuotaError if the balance is short.
	Consume(ctx context.Context, tenant types.Tenant, amount int64) error
	// Refund returns credits taken by a Consume whose work did not complete.
	Refund(ctx context.Context, tenant types.Tenant, amount int64) error
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Check(ctx context.Context, tenant types.Tenant, required int64) error { return nil }
func (Unlimited) Consume(ctx context.Context, tenant types.Tenant, amount int64) error { return nil }
func (Unlimited) Refund(ctx context.Context, tenant types.Tenant, amount int64) error  { return nil }

const maxConflictRetries = 5

// Ledger stores balances in badger. Workspaces without a balance start with
// the default allowance.
type Ledger struct {
	db             *badger.DB
	defaultCredits int64
	logger         *slog.Logger
}

// Open opens (or creates) a ledger at path. An empty path keeps the ledger in memory.
func Open(path string, defaultCredits int64, logger *slog.Logger) (*Ledger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open credits ledger: %w", err)
	}
	return NewLedger(db, defaultCredits, logger), nil
}

// NewLedger wraps an open badger database.
func NewLedger(db *badger.DB, defaultCredits int64, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, defaultCredits: defaultCredits, logger: logger}
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func key(tenant types.Tenant) []byte {
	return []byte("credits/" + tenant.WorkspaceID)
}

func (l *Ledger) read(txn *badger.Txn, tenant types.Tenant) (int64, error) {
	item, err := txn.Get(key(tenant))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return l.defaultCredits, nil
	}
	if err != nil {
		return 0, err
	}
	var balance int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt balance for workspace %s", tenant.WorkspaceID)
		}
		balance = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return balance, err
}

func write(txn *badger.Txn, tenant types.Tenant, balance int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(balance))
	return txn.Set(key(tenant), buf)
}

// Balance returns the current balance of tenant's workspace.
func (l *Ledger) Balance(ctx context.Context, tenant types.Tenant) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var balance int64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		balance, err = l.read(txn, tenant)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) Check(ctx context.Context, tenant types.Tenant, required int64) error {
	balance, err := l.Balance(ctx, tenant)
	if err != nil {
		return err
	}
	if balance < required {
		return &types.QuotaError{Tenant: tenant, Required: required, Available: balance}
	}
	return nil
}

func (l *Ledger) Consume(ctx context.Context, tenant types.Tenant, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := l.update(ctx, tenant, func(balance int64) (int64, error) {
		if balance < amount {
			return 0, &types.QuotaError{Tenant: tenant, Required: amount, Available: balance}
		}
		return balance - amount, nil
	})
	if err == nil {
		l.logger.Debug("credits consumed", "workspace_id", tenant.WorkspaceID, "amount", amount)
	}
	return err
}

func (l *Ledger) Refund(ctx context.Context, tenant types.Tenant, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if _, err := l.Grant(ctx, tenant, amount); err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}
	l.logger.Debug("credits refunded", "workspace_id", tenant.WorkspaceID, "amount", amount)
	return nil
}

// Grant adds amount credits and returns the new balance.
func (l *Ledger) Grant(ctx context.Context, tenant types.Tenant, amount int64) (int64, error) {
	if amount < 0 {
		return 0, types.NewValidationError("amount", "must not be negative")
	}
	return l.update(ctx, tenant, func(balance int64) (int64, error) {
		return balance + amount, nil
	})
}

// update applies fn in a transaction, retrying on write conflicts.
func (l *Ledger) update(ctx context.Context, tenant types.Tenant, fn func(int64) (int64, error)) (int64, error) {
	var next int64
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		err := l.db.Update(func(txn *badger.Txn) error {
			balance, err := l.read(txn, tenant)
			if err != nil {
				return err
			}
			next, err = fn(balance)
			if err != nil {
				return err
			}
			return write(txn, tenant, next)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			var quotaErr *types.QuotaError
			if errors.As(err, &quotaErr) {
				return 0, quotaErr
			}
			return 0, fmt.Errorf("failed to update balance: %w", err)
		}
		return next, nil
	}
}

var (
	_ Gate = (*Ledger)(nil)
	_ Gate = Unlimited{}
)
