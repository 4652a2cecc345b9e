// Package ledger applies conditional balance mutations to accounts.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/store"
)

// AccountStore performs the atomic conditional updates. Both mutations return
// store.ErrNotFound when their precondition did not hold.
type AccountStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	DebitIfActive(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error)
	CreditIfActive(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error)
	LockAccounts(ctx context.Context, ids ...uuid.UUID) error
}

type Mutator struct {
	store AccountStore
}

func NewMutator(s AccountStore) *Mutator {
	return &Mutator{store: s}
}

// Lock takes the row locks of every account a transfer touches, always in
// the same order, before any of them is updated.
func (m *Mutator) Lock(ctx context.Context, ids ...uuid.UUID) error {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	if err := m.store.LockAccounts(ctx, slices.Compact(sorted)...); err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}
	return nil
}

// Debit subtracts amount from an active account holding at least amount and
// returns the account as written.
func (m *Mutator) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	acc, err := m.store.DebitIfActive(ctx, id, amount, now)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("debit %s: %w", id, err)
	}

	// The update already ran; this read only names the failure.
	current, err := m.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("Account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("classify debit failure %s: %w", id, err)
	}
	if !current.Active() {
		return nil, domain.AccountInactiveError("Source account is inactive")
	}
	return nil, domain.InsufficientFunds("Insufficient funds")
}

// Credit adds amount to an active account and returns the account as written.
func (m *Mutator) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	acc, err := m.store.CreditIfActive(ctx, id, amount, now)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("credit %s: %w", id, err)
	}

	current, err := m.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("Destination account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("classify credit failure %s: %w", id, err)
	}
	if !current.Active() {
		return nil, domain.AccountInactiveError("Destination account is inactive")
	}
	return nil, domain.NotFound("Destination account not found")
}
