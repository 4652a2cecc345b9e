package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

// InsertTransfer records a completed transfer. A second transfer for the same
// (from_account_id, idempotency_key) fails with ErrDuplicate.
func (s *Store) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO transfers (id, from_account_id, to_account_id, amount, currency, description, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`, t.ID, t.FromAccountID, t.ToAccountID, t.Amount.StringFixed(domain.MoneyScale), t.Currency, t.Description, t.IdempotencyKey, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("transfer insert failed: %w", translate(err))
	}
	return nil
}

// InsertEntries writes the debit and credit legs of a transfer.
func (s *Store) InsertEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO ledger_entries (id, transfer_id, account_id, delta, balance_after, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		`, e.ID, e.TransferID, e.AccountID, e.Delta.StringFixed(domain.MoneyScale), e.BalanceAfter.StringFixed(domain.MoneyScale), e.CreatedAt)
	}
	if err := s.conn(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ledger entry failed: %w", translate(err))
	}
	return nil
}

const transferColumns = `id, from_account_id, to_account_id, amount::text, currency, description, idempotency_key, created_at`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t      domain.Transfer
		amount string
	)
	err := row.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &amount, &t.Currency, &t.Description, &t.IdempotencyKey, &t.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &t, nil
}

// GetTransfer retrieves transfer details.
func (s *Store) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return scanTransfer(s.conn(ctx).QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
}

// ListEntries retrieves ledger entries for a specific account, newest first.
func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, transfer_id, account_id, delta::text, balance_after::text, created_at
		FROM ledger_entries WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e            domain.LedgerEntry
			delta, after string
		)
		if err := rows.Scan(&e.ID, &e.TransferID, &e.AccountID, &delta, &after, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("parse delta %q: %w", delta, err)
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("parse balance_after %q: %w", after, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindTransferByKey returns the transfer booked under (fromID, key) or
// ErrNotFound.
func (s *Store) FindTransferByKey(ctx context.Context, fromID uuid.UUID, key string) (*domain.Transfer, error) {
	return scanTransfer(s.conn(ctx).QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM transfers WHERE from_account_id = $1 AND idempotency_key = $2
	`, fromID, key))
}

// ListTransfersByAccount pages through the transfers an account sent or
// received, newest first.
func (s *Store) ListTransfersByAccount(ctx context.Context, accountID uuid.UUID, dir domain.TransferDirection, after *domain.PageCursor, limit int) ([]domain.Transfer, error) {
	q := keyset{}
	if dir == domain.DirectionReceived {
		q.where("to_account_id = $%d", accountID)
	} else {
		q.where("from_account_id = $%d", accountID)
	}
	q.after(after)
	sql := `SELECT ` + transferColumns + ` FROM transfers` + q.sql(limit)
	rows, err := s.conn(ctx).Query(ctx, sql, q.args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
