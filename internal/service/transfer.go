package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/globalid"
	"github.com/punchamoorthee/fundsgate/internal/idempotency"
	"github.com/punchamoorthee/fundsgate/internal/ledger"
	"github.com/punchamoorthee/fundsgate/internal/ratelimit"
	"github.com/punchamoorthee/fundsgate/internal/store"
)

const (
	maxDescriptionLen    = 140
	maxIdempotencyKeyLen = 128

	// maxTxAttempts bounds how often a transfer body aborted by the database
	// (deadlock or serialization failure) is run again.
	maxTxAttempts = 3

	msgConcurrentUpdate = "Transfer could not be completed due to concurrent update. Retry with the same idempotency key"
	msgKeyConsumed      = "Idempotency key already used"
)

// TransferStore is the persistence the transfer service needs beyond what
// the ledger mutator and idempotency coordinator use.
type TransferStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertTransfer(ctx context.Context, t *domain.Transfer) error
	InsertEntries(ctx context.Context, entries []domain.LedgerEntry) error
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	FindTransferByKey(ctx context.Context, fromID uuid.UUID, key string) (*domain.Transfer, error)
	ListTransfersByAccount(ctx context.Context, accountID uuid.UUID, dir domain.TransferDirection, after *domain.PageCursor, limit int) ([]domain.Transfer, error)
}

// Limiter admits or rejects one unit of work for a subject.
type Limiter interface {
	AssertAllowed(ctx context.Context, subject string) error
}

type TransferService struct {
	store    TransferStore
	accounts *AccountService
	limiter  Limiter
	ledger   *ledger.Mutator
	idem     *idempotency.Coordinator
	now      func() time.Time
	logger   *slog.Logger
}

func NewTransferService(
	s TransferStore,
	accounts *AccountService,
	limiter Limiter,
	mutator *ledger.Mutator,
	idem *idempotency.Coordinator,
	logger *slog.Logger,
) *TransferService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferService{
		store:    s,
		accounts: accounts,
		limiter:  limiter,
		ledger:   mutator,
		idem:     idem,
		now:      time.Now,
		logger:   logger,
	}
}

// TransferInput carries external account ids and the raw request fields.
type TransferInput struct {
	FromAccountID  string              `json:"fromAccountId"`
	ToAccountID    string              `json:"toAccountId"`
	Amount         decimal.NullDecimal `json:"amount"`
	Description    string              `json:"description"`
	IdempotencyKey string              `json:"idempotencyKey"`
}

// transferRequest is a validated, resolved TransferInput.
type transferRequest struct {
	from, to    uuid.UUID
	amount      decimal.Decimal
	description string
	key         string
	hash        string
}

// TransferFunds moves Amount between two accounts at most once per
// (source account, idempotency key). Repeating a completed request returns
// the stored result with IdempotentReplay set.
func (s *TransferService) TransferFunds(ctx context.Context, in TransferInput) (*domain.TransferResult, error) {
	start := time.Now()
	result, err := s.transferFunds(ctx, in)

	outcome := outcomeCreated
	switch {
	case err != nil:
		outcome = outcomeOf(err)
	case result.IdempotentReplay:
		outcome = outcomeReplayed
	}
	transfersTotal.WithLabelValues(outcome).Inc()
	transferDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (s *TransferService) transferFunds(ctx context.Context, in TransferInput) (*domain.TransferResult, error) {
	req, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("source_account_id", req.from, "idempotency_key", req.key)

	unlock, err := s.idem.Lock(ctx, req.from, req.key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := s.idem.Reserve(ctx, req.from, req.key, req.hash)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeConflict {
			log.WarnContext(ctx, "idempotency conflict", "error", err)
		}
		return nil, err
	}
	if res.Replay != nil {
		log.InfoContext(ctx, "transfer replayed", "transaction_id", res.Replay.Transaction.ID)
		return res.Replay, nil
	}

	var result *domain.TransferResult
	for attempt := 1; ; attempt++ {
		err = s.store.InTx(ctx, func(ctx context.Context) error {
			var err error
			result, err = s.execute(ctx, req, res.Record)
			return err
		})
		if !errors.Is(err, store.ErrSerialization) || attempt == maxTxAttempts {
			break
		}
		log.WarnContext(ctx, "transfer aborted by the database, retrying", "attempt", attempt, "error", err)
	}
	if err == nil {
		log.InfoContext(ctx, "transfer completed", "transaction_id", result.Transaction.ID, "amount", result.Transaction.Amount)
		return result, nil
	}

	s.idem.Abandon(ctx, res.Record)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		log.WarnContext(ctx, "transfer lost a uniqueness race", "error", err)
		return s.recoverDuplicate(ctx, req)
	case errors.Is(err, store.ErrSerialization):
		log.WarnContext(ctx, "transfer retries exhausted", "error", err)
		return nil, domain.Conflict(msgConcurrentUpdate)
	}
	return nil, err
}

// recoverDuplicate resolves a transfer row that already exists for the key. A live
// idempotency record is replayed. Without one, the row belongs to a request
// whose record expired and the key can never be used again.
func (s *TransferService) recoverDuplicate(ctx context.Context, req *transferRequest) (*domain.TransferResult, error) {
	result, err := s.idem.Recover(ctx, req.from, req.key, req.hash)
	if !errors.Is(err, idempotency.ErrNoRecord) {
		return result, err
	}
	_, ferr := s.store.FindTransferByKey(ctx, req.from, req.key)
	if ferr == nil {
		return nil, domain.Conflict(msgKeyConsumed)
	}
	if !errors.Is(ferr, store.ErrNotFound) {
		return nil, fmt.Errorf("find transfer by key: %w", ferr)
	}
	return nil, err
}

// execute is the transfer body. It runs inside one transaction so a late
// failure undoes the debit and credit together.
func (s *TransferService) execute(ctx context.Context, req *transferRequest, rec *domain.IdempotencyRecord) (*domain.TransferResult, error) {
	if err := s.limiter.AssertAllowed(ctx, ratelimit.TransferSubject(req.from)); err != nil {
		return nil, err
	}

	if err := s.ledger.Lock(ctx, req.from, req.to); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	debited, err := s.ledger.Debit(ctx, req.from, req.amount, now)
	if err != nil {
		return nil, err
	}
	credited, err := s.ledger.Credit(ctx, req.to, req.amount, now)
	if err != nil {
		return nil, err
	}

	t := &domain.Transfer{
		ID:             uuid.New(),
		FromAccountID:  req.from,
		ToAccountID:    req.to,
		Amount:         req.amount,
		Currency:       domain.DefaultCurrency,
		Description:    req.description,
		IdempotencyKey: req.key,
		CreatedAt:      now,
	}
	if err := s.store.InsertTransfer(ctx, t); err != nil {
		return nil, err
	}
	entries := []domain.LedgerEntry{
		{ID: uuid.New(), TransferID: t.ID, AccountID: req.from, Delta: req.amount.Neg(), BalanceAfter: debited.Balance, CreatedAt: now},
		{ID: uuid.New(), TransferID: t.ID, AccountID: req.to, Delta: req.amount, BalanceAfter: credited.Balance, CreatedAt: now},
	}
	if err := s.store.InsertEntries(ctx, entries); err != nil {
		return nil, err
	}

	result := &domain.TransferResult{
		Transaction:        TransactionView(t),
		FromAccountBalance: domain.FormatMoney(debited.Balance),
		ToAccountBalance:   domain.FormatMoney(credited.Balance),
		ProcessedAt:        now,
	}
	if err := s.idem.Complete(ctx, rec, result); err != nil {
		return nil, err
	}
	return result, nil
}

// prepare normalizes and validates in. It has no side effects.
func (s *TransferService) prepare(ctx context.Context, in TransferInput) (*transferRequest, error) {
	if strings.TrimSpace(in.FromAccountID) == "" {
		return nil, domain.Validation("fromAccountId", "Source account is required")
	}
	if strings.TrimSpace(in.ToAccountID) == "" {
		return nil, domain.Validation("toAccountId", "Destination account is required")
	}
	key, err := normalizeIdempotencyKey(in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	description, err := normalizeDescription(in.Description)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ValidatePositiveAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}

	from, err := s.accounts.Resolve(ctx, "fromAccountId", in.FromAccountID)
	if err != nil {
		return nil, err
	}
	to, err := s.accounts.Resolve(ctx, "toAccountId", in.ToAccountID)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return nil, domain.Validation("toAccountId", "Source and destination accounts must be different")
	}

	return &transferRequest{
		from:        from.ID,
		to:          to.ID,
		amount:      amount,
		description: description,
		key:         key,
		hash:        idempotency.RequestHash(from.ID, to.ID, amount, description),
	}, nil
}

// GetTransfer looks a transfer up by its external id.
func (s *TransferService) GetTransfer(ctx context.Context, globalID string) (*domain.TransactionView, error) {
	id, err := globalid.DecodeAs(globalid.TypeTransaction, "id", globalID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTransfer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("Transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	view := TransactionView(t)
	return &view, nil
}

// ListTransactions pages through the transfers an account sent or received,
// newest first.
func (s *TransferService) ListTransactions(ctx context.Context, accountGlobalID string, direction string, page PageInput) (*domain.Connection[domain.TransactionView], error) {
	dir := domain.TransferDirection(strings.ToUpper(strings.TrimSpace(direction)))
	if dir != domain.DirectionSent && dir != domain.DirectionReceived {
		return nil, domain.Validation("direction", "direction must be SENT or RECEIVED")
	}
	size, after, err := page.parse()
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.Resolve(ctx, "id", accountGlobalID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListTransfersByAccount(ctx, account.ID, dir, after, size+1)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return connection(rows, size, after,
		func(t domain.Transfer) (time.Time, uuid.UUID) { return t.CreatedAt, t.ID },
		func(t domain.Transfer) domain.TransactionView { return TransactionView(&t) },
	), nil
}

func TransactionView(t *domain.Transfer) domain.TransactionView {
	return domain.TransactionView{
		ID:             globalid.Encode(globalid.TypeTransaction, t.ID),
		FromAccountID:  globalid.Encode(globalid.TypeAccount, t.FromAccountID),
		ToAccountID:    globalid.Encode(globalid.TypeAccount, t.ToAccountID),
		Amount:         domain.FormatMoney(t.Amount),
		Currency:       t.Currency,
		Description:    t.Description,
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt,
	}
}

func normalizeIdempotencyKey(key string) (string, error) {
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return "", domain.Validation("idempotencyKey", "Idempotency key is required")
	}
	if utf8.RuneCountInString(normalized) > maxIdempotencyKeyLen {
		return "", domain.Validation("idempotencyKey", "Idempotency key must have at most 128 characters")
	}
	return normalized, nil
}

func normalizeDescription(description string) (string, error) {
	normalized := strings.TrimSpace(description)
	if utf8.RuneCountInString(normalized) > maxDescriptionLen {
		return "", domain.Validation("description", "Description must have at most 140 characters")
	}
	return normalized, nil
}
