package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

// Numeric columns travel as text so decimals never pass through float64.
const accountColumns = `id, owner_name, document, branch, number, status, balance::text, currency, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a       domain.Account
		status  string
		balance string
	)
	if err := row.Scan(&a.ID, &a.OwnerName, &a.Document, &a.Branch, &a.Number, &status, &balance, &a.Currency, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	a.Status = domain.AccountStatus(status)
	a.Balance = d
	return &a, nil
}

// CreateAccount inserts a and fills in its timestamps. A taken
// (branch, number) pair yields ErrDuplicate.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO accounts (id, owner_name, document, branch, number, status, balance, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, 0, $9, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.OwnerName, a.Document, a.Branch, a.Number, string(a.Status), a.Balance.StringFixed(domain.MoneyScale), a.Currency, a.CreatedAt).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translate(err)
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(s.conn(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// SetAccountStatus updates the status and bumps the version.
func (s *Store) SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, now time.Time) (*domain.Account, error) {
	return scanAccount(s.conn(ctx).QueryRow(ctx, `
		UPDATE accounts SET status = $2, version = version + 1, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns, id, string(status), now))
}

// UpdateAccountProfile replaces the owner name and document of an active
// account. Empty values leave the column unchanged. ErrNotFound means the
// account is missing or inactive.
func (s *Store) UpdateAccountProfile(ctx context.Context, id uuid.UUID, ownerName, document string, now time.Time) (*domain.Account, error) {
	return scanAccount(s.conn(ctx).QueryRow(ctx, `
		UPDATE accounts
		SET owner_name = COALESCE(NULLIF($2, ''), owner_name),
		    document = COALESCE(NULLIF($3, ''), document),
		    version = version + 1, updated_at = $4
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+accountColumns, id, ownerName, document, now))
}

// LockAccounts takes row locks on ids in id order, so two transactions
// touching the same pair of accounts can never wait on each other in a cycle.
func (s *Store) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id FROM accounts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE
	`, keys)
	if err != nil {
		return translate(err)
	}
	rows.Close()
	return translate(rows.Err())
}

// DebitIfActive atomically subtracts amount when the account is active and
// holds at least amount. ErrNotFound means the precondition did not hold.
func (s *Store) DebitIfActive(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	return scanAccount(s.conn(ctx).QueryRow(ctx, `
		UPDATE accounts SET balance = balance - $2::numeric, updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE' AND balance >= $2::numeric
		RETURNING `+accountColumns, id, amount.StringFixed(domain.MoneyScale), now))
}

// CreditIfActive atomically adds amount when the account is active.
// ErrNotFound means the precondition did not hold.
func (s *Store) CreditIfActive(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	return scanAccount(s.conn(ctx).QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $2::numeric, updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+accountColumns, id, amount.StringFixed(domain.MoneyScale), now))
}

// CountAccounts returns the number of accounts.
func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	return n, err
}

// ListAccountIDs returns up to limit account ids, oldest first.
func (s *Store) ListAccountIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT id FROM accounts ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// ListAccounts returns up to limit accounts newest first, starting after the
// cursor when one is given. An empty status matches every account.
func (s *Store) ListAccounts(ctx context.Context, status domain.AccountStatus, after *domain.PageCursor, limit int) ([]domain.Account, error) {
	q := keyset{}
	if status != "" {
		q.where("status = $%d", string(status))
	}
	q.after(after)
	sql := `SELECT ` + accountColumns + ` FROM accounts` + q.sql(limit)
	rows, err := s.conn(ctx).Query(ctx, sql, q.args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CopyAccounts bulk-inserts accounts with the COPY protocol.
func (s *Store) CopyAccounts(ctx context.Context, accounts []domain.Account) (int64, error) {
	rows := make([][]any, 0, len(accounts))
	for _, a := range accounts {
		balance := pgtype.Numeric{Int: a.Balance.Coefficient(), Exp: a.Balance.Exponent(), Valid: true}
		rows = append(rows, []any{a.ID, a.OwnerName, a.Document, a.Branch, a.Number, string(a.Status), balance, a.Currency, a.CreatedAt, a.CreatedAt})
	}
	n, err := s.Db.CopyFrom(
		ctx,
		pgx.Identifier{"accounts"},
		[]string{"id", "owner_name", "document", "branch", "number", "status", "balance", "currency", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	return n, translate(err)
}
