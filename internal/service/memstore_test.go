package service

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/store"
)

// memStore is an in-memory stand-in for the Postgres store. Transactions are
// serialized and undone on error through a journal carried in the context.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	accounts  map[uuid.UUID]*domain.Account
	transfers map[uuid.UUID]*domain.Transfer
	entries   []domain.LedgerEntry
	records   map[string]*domain.IdempotencyRecord
	buckets   map[string]*domain.BucketState

	// beforeInsertTransfer runs at the start of InsertTransfer. A non-nil
	// error is returned in place of the insert.
	beforeInsertTransfer func(t *domain.Transfer) error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  map[uuid.UUID]*domain.Account{},
		transfers: map[uuid.UUID]*domain.Transfer{},
		records:   map[string]*domain.IdempotencyRecord{},
		buckets:   map[string]*domain.BucketState{},
	}
}

type journalKey struct{}

type journal struct {
	undo []func()
}

func (m *memStore) record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		m.mu.Lock()
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) addAccount(balance string, status domain.AccountStatus) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &domain.Account{
		ID:        uuid.New(),
		OwnerName: "Test Owner",
		Document:  "52998224725",
		Branch:    "0001",
		Number:    fmt.Sprintf("%010d", len(m.accounts)+1),
		Status:    status,
		Balance:   decimal.RequireFromString(balance),
		Currency:  domain.DefaultCurrency,
	}
	m.accounts[a.ID] = a
	cp := *a
	return &cp
}

func (m *memStore) balance(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

func (m *memStore) transferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memStore) CreateAccount(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.accounts {
		if other.Branch == a.Branch && other.Number == a.Number {
			return fmt.Errorf("%w: accounts_branch_number_unique", store.ErrDuplicate)
		}
	}
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

// LockAccounts is a no-op: InTx already runs transactions one at a time.
func (m *memStore) LockAccounts(context.Context, ...uuid.UUID) error {
	return nil
}

func (m *memStore) UpdateAccountProfile(_ context.Context, id uuid.UUID, ownerName, document string, now time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.Active() {
		return nil, store.ErrNotFound
	}
	if ownerName != "" {
		a.OwnerName = ownerName
	}
	if document != "" {
		a.Document = document
	}
	a.Version++
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

// newerFirst orders rows the way the keyset queries do.
func newerFirst(at1 time.Time, id1 uuid.UUID, at2 time.Time, id2 uuid.UUID) int {
	if c := at2.Compare(at1); c != 0 {
		return c
	}
	return bytes.Compare(id2[:], id1[:])
}

func pastCursor(at time.Time, id uuid.UUID, after *domain.PageCursor) bool {
	return after == nil || newerFirst(after.CreatedAt, after.ID, at, id) < 0
}

func (m *memStore) ListAccounts(_ context.Context, status domain.AccountStatus, after *domain.PageCursor, limit int) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for _, a := range m.accounts {
		if (status == "" || a.Status == status) && pastCursor(a.CreatedAt, a.ID, after) {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(x, y domain.Account) int { return newerFirst(x.CreatedAt, x.ID, y.CreatedAt, y.ID) })
	return out[:min(limit, len(out))], nil
}

func (m *memStore) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, now time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	a.Status = status
	a.Version++
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (m *memStore) DebitIfActive(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.Active() || a.Balance.LessThan(amount) {
		return nil, store.ErrNotFound
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
	m.record(ctx, func() { a.Balance = a.Balance.Add(amount) })
	cp := *a
	return &cp, nil
}

func (m *memStore) CreditIfActive(ctx context.Context, id uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.Active() {
		return nil, store.ErrNotFound
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
	m.record(ctx, func() { a.Balance = a.Balance.Sub(amount) })
	cp := *a
	return &cp, nil
}

func (m *memStore) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	if m.beforeInsertTransfer != nil {
		if err := m.beforeInsertTransfer(t); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.transfers {
		if other.FromAccountID == t.FromAccountID && other.IdempotencyKey == t.IdempotencyKey {
			return store.ErrDuplicate
		}
	}
	cp := *t
	m.transfers[t.ID] = &cp
	m.record(ctx, func() { delete(m.transfers, t.ID) })
	return nil
}

func (m *memStore) InsertEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = append(m.entries, entries...)
	m.record(ctx, func() { m.entries = m.entries[:n] })
	return nil
}

func (m *memStore) GetTransfer(_ context.Context, id uuid.UUID) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) FindTransferByKey(_ context.Context, fromID uuid.UUID, key string) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transfers {
		if t.FromAccountID == fromID && t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListTransfersByAccount(_ context.Context, accountID uuid.UUID, dir domain.TransferDirection, after *domain.PageCursor, limit int) ([]domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transfer
	for _, t := range m.transfers {
		party := t.FromAccountID
		if dir == domain.DirectionReceived {
			party = t.ToAccountID
		}
		if party == accountID && pastCursor(t.CreatedAt, t.ID, after) {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(x, y domain.Transfer) int { return newerFirst(x.CreatedAt, x.ID, y.CreatedAt, y.ID) })
	return out[:min(limit, len(out))], nil
}

func (m *memStore) ListEntries(_ context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func recordKey(source uuid.UUID, key string) string {
	return source.String() + ":" + key
}

func (m *memStore) FindIdempotency(_ context.Context, source uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey(source, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) InsertIdempotency(ctx context.Context, r *domain.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey(r.SourceAccountID, r.Key)
	if _, ok := m.records[k]; ok {
		return store.ErrDuplicate
	}
	cp := *r
	m.records[k] = &cp
	m.record(ctx, func() { delete(m.records, k) })
	return nil
}

func (m *memStore) CompleteIdempotency(ctx context.Context, id uuid.UUID, hash string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id && r.Status == domain.IdempotencyPending && r.RequestHash == hash {
			r.Status = domain.IdempotencyCompleted
			r.ResponsePayload = payload
			m.record(ctx, func() {
				r.Status = domain.IdempotencyPending
				r.ResponsePayload = nil
			})
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) DeletePendingIdempotency(_ context.Context, id uuid.UUID, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.records {
		if r.ID == id && r.Status == domain.IdempotencyPending && r.RequestHash == hash {
			delete(m.records, k)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteExpiredIdempotency(_ context.Context, now time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.records))
	for k, r := range m.records {
		if r.ExpiresAt.Before(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var n int64
	for _, k := range keys {
		if n == int64(limit) {
			break
		}
		delete(m.records, k)
		n++
	}
	return n, nil
}

func (m *memStore) GetBucket(_ context.Context, subject string) (*domain.BucketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[subject]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) InsertBucket(ctx context.Context, b *domain.BucketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[b.Subject]; ok {
		return store.ErrDuplicate
	}
	b.Version = 0
	cp := *b
	m.buckets[b.Subject] = &cp
	m.record(ctx, func() { delete(m.buckets, b.Subject) })
	return nil
}

func (m *memStore) UpdateBucket(ctx context.Context, b *domain.BucketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.buckets[b.Subject]
	if !ok || cur.Version != b.Version {
		return store.ErrVersionConflict
	}
	prev := *cur
	b.Version++
	cp := *b
	m.buckets[b.Subject] = &cp
	m.record(ctx, func() { m.buckets[b.Subject] = &prev })
	return nil
}
