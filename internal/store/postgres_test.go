package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

// newTestStore connects to LEDGER_TEST_DATABASE_URL and skips when unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newAccount(balance string, status domain.AccountStatus, createdAt time.Time) *domain.Account {
	return &domain.Account{
		ID:        uuid.New(),
		OwnerName: "test",
		Document:  "52998224725",
		Branch:    "0001",
		Number:    fmt.Sprintf("%010d", uuid.New().ID()),
		Status:    status,
		Balance:   decimal.RequireFromString(balance),
		Currency:  domain.DefaultCurrency,
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
}

func createAccount(t *testing.T, s *Store, balance string, status domain.AccountStatus) *domain.Account {
	t.Helper()
	a := newAccount(balance, status, time.Now())
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func TestTranslateAbortedTransactions(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := translate(fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "deadlock detected"}))
		if !errors.Is(err, ErrSerialization) {
			t.Errorf("%s: expected ErrSerialization, got %v", code, err)
		}
	}
	err := translate(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_branch_number_unique"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestDebitRequiresFundsAndActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rich := createAccount(t, s, "100.00", domain.AccountActive)
	frozen := createAccount(t, s, "100.00", domain.AccountInactive)

	got, err := s.DebitIfActive(ctx, rich.ID, decimal.RequireFromString("40.50"), now)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("59.50")) {
		t.Fatalf("balance = %s", got.Balance)
	}

	if _, err := s.DebitIfActive(ctx, rich.ID, decimal.RequireFromString("60.00"), now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("overdraft should not match, got %v", err)
	}
	if _, err := s.DebitIfActive(ctx, frozen.ID, decimal.RequireFromString("1.00"), now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive debit should not match, got %v", err)
	}
	if _, err := s.CreditIfActive(ctx, frozen.ID, decimal.RequireFromString("1.00"), now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive credit should not match, got %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, "10.00", domain.AccountActive)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.DebitIfActive(ctx, a.ID, decimal.RequireFromString("10.00"), time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("debit survived rollback: %s", got.Balance)
	}
}

func TestIdempotencyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := &domain.IdempotencyRecord{
		ID:              uuid.New(),
		SourceAccountID: uuid.New(),
		Key:             "key-1",
		RequestHash:     "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Status:          domain.IdempotencyPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Hour),
	}
	if err := s.InsertIdempotency(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := *rec
	dup.ID = uuid.New()
	if err := s.InsertIdempotency(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	if err := s.CompleteIdempotency(ctx, rec.ID, "wrong", []byte(`{}`)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("complete with wrong hash should not match, got %v", err)
	}
	if err := s.CompleteIdempotency(ctx, rec.ID, rec.RequestHash, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	found, err := s.FindIdempotency(ctx, rec.SourceAccountID, rec.Key)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found.Completed() {
		t.Fatalf("record not completed: %+v", found)
	}

	deleted, err := s.DeletePendingIdempotency(ctx, rec.ID, rec.RequestHash)
	if err != nil || deleted {
		t.Fatalf("completed record must survive cleanup: deleted=%v err=%v", deleted, err)
	}

	n, err := s.DeleteExpiredIdempotency(ctx, now.Add(2*time.Hour), 1000)
	if err != nil || n < 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
}

func TestBucketVersionCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := &domain.BucketState{Subject: "test:" + uuid.NewString(), WaterLevel: 1, LastLeakAt: now, UpdatedAt: now}
	if err := s.InsertBucket(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertBucket(ctx, b); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	stale := *b
	b.WaterLevel = 2
	if err := s.UpdateBucket(ctx, b); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.WaterLevel = 5
	if err := s.UpdateBucket(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, err := s.GetBucket(ctx, b.Subject)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WaterLevel != 2 || got.Version != 1 {
		t.Fatalf("unexpected bucket %+v", got)
	}
}

func TestCrossTransfersDoNotDeadlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, "1000.00", domain.AccountActive)
	b := createAccount(t, s, "1000.00", domain.AccountActive)
	one := decimal.RequireFromString("1.00")

	move := func(from, to uuid.UUID) error {
		return s.InTx(ctx, func(ctx context.Context) error {
			if err := s.LockAccounts(ctx, from, to); err != nil {
				return err
			}
			now := time.Now()
			if _, err := s.DebitIfActive(ctx, from, one, now); err != nil {
				return err
			}
			// widen the window between the two row updates
			time.Sleep(time.Millisecond)
			_, err := s.CreditIfActive(ctx, to, one, now)
			return err
		})
	}

	const rounds = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for _, pair := range [][2]uuid.UUID{{a.ID, b.ID}, {b.ID, a.ID}} {
		wg.Add(1)
		go func(from, to uuid.UUID) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if err := move(from, to); err != nil {
					errs <- err
				}
			}
		}(pair[0], pair[1])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("transfer failed: %v", err)
	}

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		got, err := s.GetAccount(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.Balance.Equal(decimal.RequireFromString("1000.00")) {
			t.Fatalf("account %s balance = %s", id, got.Balance)
		}
	}
}

func TestBranchNumberIsUnique(t *testing.T) {
	s := newTestStore(t)
	a := createAccount(t, s, "0.00", domain.AccountActive)

	dup := newAccount("0.00", domain.AccountActive, time.Now())
	dup.Branch, dup.Number = a.Branch, a.Number
	if err := s.CreateAccount(context.Background(), dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestUpdateAccountProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, "0.00", domain.AccountActive)

	got, err := s.UpdateAccountProfile(ctx, a.ID, "New Owner", "", time.Now())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.OwnerName != "New Owner" || got.Document != a.Document || got.Version != a.Version+1 {
		t.Fatalf("unexpected account %+v", got)
	}

	frozen := createAccount(t, s, "0.00", domain.AccountInactive)
	if _, err := s.UpdateAccountProfile(ctx, frozen.ID, "Other", "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive account must not update, got %v", err)
	}
}

func TestListAccountsPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A far-future base keeps rows from other tests out of the window.
	base := time.Date(2900, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(uuid.New().ID()) * time.Second)
	var created []*domain.Account
	for i := 0; i < 3; i++ {
		a := newAccount("0.00", domain.AccountActive, base.Add(-time.Duration(i)*time.Second))
		if err := s.CreateAccount(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
		created = append(created, a)
	}
	fence := &domain.PageCursor{CreatedAt: base.Add(time.Second), ID: uuid.Max}

	page, err := s.ListAccounts(ctx, domain.AccountActive, fence, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != created[0].ID || page[1].ID != created[1].ID {
		t.Fatalf("unexpected first page %+v", page)
	}

	next := &domain.PageCursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}
	page, err = s.ListAccounts(ctx, domain.AccountActive, next, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].ID != created[2].ID {
		t.Fatalf("unexpected second page %+v", page)
	}

	page, err = s.ListAccounts(ctx, domain.AccountInactive, fence, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, a := range page {
		if a.Status != domain.AccountInactive {
			t.Fatalf("status filter leaked %+v", a)
		}
	}
}

func TestListTransfersByAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, "0.00", domain.AccountActive)
	b := createAccount(t, s, "0.00", domain.AccountActive)

	start := time.Now().UTC().Truncate(time.Microsecond)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		tr := &domain.Transfer{
			ID:             uuid.New(),
			FromAccountID:  a.ID,
			ToAccountID:    b.ID,
			Amount:         decimal.RequireFromString("1.00"),
			Currency:       domain.DefaultCurrency,
			IdempotencyKey: fmt.Sprintf("list-%d", i),
			CreatedAt:      start.Add(time.Duration(i) * time.Second),
		}
		if err := s.InsertTransfer(ctx, tr); err != nil {
			t.Fatalf("insert transfer: %v", err)
		}
		ids = append(ids, tr.ID)
	}

	sent, err := s.ListTransfersByAccount(ctx, a.ID, domain.DirectionSent, nil, 2)
	if err != nil {
		t.Fatalf("list sent: %v", err)
	}
	if len(sent) != 2 || sent[0].ID != ids[2] || sent[1].ID != ids[1] {
		t.Fatalf("unexpected sent page %+v", sent)
	}
	rest, err := s.ListTransfersByAccount(ctx, a.ID, domain.DirectionSent, &domain.PageCursor{CreatedAt: sent[1].CreatedAt, ID: sent[1].ID}, 2)
	if err != nil || len(rest) != 1 || rest[0].ID != ids[0] {
		t.Fatalf("unexpected second page %+v err=%v", rest, err)
	}

	received, err := s.ListTransfersByAccount(ctx, b.ID, domain.DirectionReceived, nil, 10)
	if err != nil || len(received) != 3 {
		t.Fatalf("received = %d err=%v", len(received), err)
	}
	none, err := s.ListTransfersByAccount(ctx, b.ID, domain.DirectionSent, nil, 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("b sent nothing, got %d err=%v", len(none), err)
	}

	found, err := s.FindTransferByKey(ctx, a.ID, "list-1")
	if err != nil || found.ID != ids[1] {
		t.Fatalf("find by key: %+v err=%v", found, err)
	}
	if _, err := s.FindTransferByKey(ctx, b.ID, "list-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
