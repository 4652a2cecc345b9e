package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/globalid"
	"github.com/punchamoorthee/fundsgate/internal/store"
)

var accountNumberPattern = regexp.MustCompile(`^\d{5,12}(-\d)?$`)

// AccountStore is the persistence the account service needs.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, now time.Time) (*domain.Account, error)
	UpdateAccountProfile(ctx context.Context, id uuid.UUID, ownerName, document string, now time.Time) (*domain.Account, error)
	ListAccounts(ctx context.Context, status domain.AccountStatus, after *domain.PageCursor, limit int) ([]domain.Account, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error)
}

type AccountService struct {
	store  AccountStore
	now    func() time.Time
	logger *slog.Logger
}

func NewAccountService(s AccountStore, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{store: s, now: time.Now, logger: logger}
}

type CreateAccountInput struct {
	OwnerName      string              `json:"ownerName"`
	Document       string              `json:"document"`
	Branch         string              `json:"branch"`
	Number         string              `json:"number"`
	InitialBalance decimal.NullDecimal `json:"initialBalance"`
}

// CreateAccount opens an active account. Branch and number identify it
// externally and are unique together.
func (s *AccountService) CreateAccount(ctx context.Context, in CreateAccountInput) (*domain.AccountView, error) {
	owner, err := normalizeOwnerName(in.OwnerName)
	if err != nil {
		return nil, err
	}
	document, err := domain.NormalizeDocument(in.Document)
	if err != nil {
		return nil, err
	}
	branch, err := normalizeBranch(in.Branch)
	if err != nil {
		return nil, err
	}
	number, err := normalizeAccountNumber(in.Number)
	if err != nil {
		return nil, err
	}
	balance := decimal.Zero
	if in.InitialBalance.Valid {
		if balance, err = domain.ValidateNonNegativeAmount("initialBalance", in.InitialBalance); err != nil {
			return nil, err
		}
	}

	a := &domain.Account{
		ID:        uuid.New(),
		OwnerName: owner,
		Document:  document,
		Branch:    branch,
		Number:    number,
		Status:    domain.AccountActive,
		Balance:   balance,
		Currency:  domain.DefaultCurrency,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	err = s.store.CreateAccount(ctx, a)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, domain.Conflict("An account with same branch and number already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "account created", "account_id", a.ID)
	view := AccountView(a)
	return &view, nil
}

func (s *AccountService) GetAccount(ctx context.Context, globalID string) (*domain.AccountView, error) {
	a, err := s.Resolve(ctx, "id", globalID)
	if err != nil {
		return nil, err
	}
	view := AccountView(a)
	return &view, nil
}

// UpdateAccountInput changes the profile of an active account. Blank fields
// are left as they are.
type UpdateAccountInput struct {
	OwnerName string `json:"ownerName"`
	Document  string `json:"document"`
}

func (s *AccountService) UpdateAccount(ctx context.Context, globalID string, in UpdateAccountInput) (*domain.AccountView, error) {
	id, err := globalid.DecodeAs(globalid.TypeAccount, "id", globalID)
	if err != nil {
		return nil, err
	}
	var owner, document string
	if strings.TrimSpace(in.OwnerName) != "" {
		if owner, err = normalizeOwnerName(in.OwnerName); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(in.Document) != "" {
		if document, err = domain.NormalizeDocument(in.Document); err != nil {
			return nil, err
		}
	}
	if owner == "" && document == "" {
		return nil, domain.Validation("ownerName", "At least one of ownerName or document is required")
	}

	a, err := s.store.UpdateAccountProfile(ctx, id, owner, document, s.now().UTC().Truncate(time.Microsecond))
	if errors.Is(err, store.ErrNotFound) {
		// The update only matches active accounts.
		current, gerr := s.store.GetAccount(ctx, id)
		switch {
		case errors.Is(gerr, store.ErrNotFound):
			return nil, domain.NotFound("Account not found")
		case gerr != nil:
			return nil, fmt.Errorf("get account: %w", gerr)
		case !current.Active():
			return nil, domain.AccountInactiveError("Account is inactive")
		}
		return nil, domain.Conflict("Account was modified concurrently")
	}
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	s.logger.InfoContext(ctx, "account updated", "account_id", a.ID)
	view := AccountView(a)
	return &view, nil
}

type ListAccountsInput struct {
	PageInput
	Status string
}

// ListAccounts pages through accounts newest first, optionally filtered by
// status.
func (s *AccountService) ListAccounts(ctx context.Context, in ListAccountsInput) (*domain.Connection[domain.AccountView], error) {
	var status domain.AccountStatus
	if raw := strings.TrimSpace(in.Status); raw != "" {
		status = domain.AccountStatus(strings.ToUpper(raw))
		if status != domain.AccountActive && status != domain.AccountInactive {
			return nil, domain.Validation("status", "Invalid account status")
		}
	}
	size, after, err := in.parse()
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListAccounts(ctx, status, after, size+1)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return connection(rows, size, after,
		func(a domain.Account) (time.Time, uuid.UUID) { return a.CreatedAt, a.ID },
		func(a domain.Account) domain.AccountView { return AccountView(&a) },
	), nil
}

// DeactivateAccount blocks every further debit and credit on the account.
func (s *AccountService) DeactivateAccount(ctx context.Context, globalID string) (*domain.AccountView, error) {
	id, err := globalid.DecodeAs(globalid.TypeAccount, "id", globalID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.SetAccountStatus(ctx, id, domain.AccountInactive, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("Account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("deactivate account: %w", err)
	}
	s.logger.InfoContext(ctx, "account deactivated", "account_id", a.ID)
	view := AccountView(a)
	return &view, nil
}

// Resolve maps an external account id to the stored account.
func (s *AccountService) Resolve(ctx context.Context, field, globalID string) (*domain.Account, error) {
	id, err := globalid.DecodeAs(globalid.TypeAccount, field, globalID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("Account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListEntries returns the newest ledger entries of an account. A zero limit
// means DefaultPageSize.
func (s *AccountService) ListEntries(ctx context.Context, globalID string, limit int) ([]domain.EntryView, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, domain.Validation("limit", "limit must be between 1 and 100")
	}
	a, err := s.Resolve(ctx, "id", globalID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, a.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	views := make([]domain.EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, domain.EntryView{
			TransferID:   globalid.Encode(globalid.TypeTransaction, e.TransferID),
			AccountID:    globalid.Encode(globalid.TypeAccount, e.AccountID),
			Delta:        domain.FormatMoney(e.Delta),
			BalanceAfter: domain.FormatMoney(e.BalanceAfter),
			CreatedAt:    e.CreatedAt,
		})
	}
	return views, nil
}

func AccountView(a *domain.Account) domain.AccountView {
	return domain.AccountView{
		ID:             globalid.Encode(globalid.TypeAccount, a.ID),
		OwnerName:      a.OwnerName,
		Document:       a.Document,
		Branch:         a.Branch,
		Number:         a.Number,
		Status:         string(a.Status),
		CurrentBalance: domain.FormatMoney(a.Balance),
		Currency:       a.Currency,
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func normalizeOwnerName(name string) (string, error) {
	normalized := strings.Join(strings.Fields(name), " ")
	if normalized == "" {
		return "", domain.Validation("ownerName", "Owner name is required")
	}
	if n := len([]rune(normalized)); n < 3 || n > 120 {
		return "", domain.Validation("ownerName", "Owner name must be between 3 and 120 characters")
	}
	return normalized, nil
}

func normalizeBranch(branch string) (string, error) {
	normalized := strings.TrimSpace(branch)
	if normalized == "" {
		return "", domain.Validation("branch", "Branch is required")
	}
	if len(normalized) != 4 || strings.Trim(normalized, "0123456789") != "" {
		return "", domain.Validation("branch", "Branch must contain exactly 4 digits")
	}
	return normalized, nil
}

func normalizeAccountNumber(number string) (string, error) {
	normalized := strings.Join(strings.Fields(number), "")
	if normalized == "" {
		return "", domain.Validation("number", "Account number is required")
	}
	if !accountNumberPattern.MatchString(normalized) {
		return "", domain.Validation("number", "Account number must match 12345 or 12345-6 pattern")
	}
	return normalized, nil
}
