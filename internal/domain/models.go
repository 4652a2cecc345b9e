package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus gates every balance mutation.
type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
)

// IdempotencyStatus tracks a reservation through NONE -> PENDING -> COMPLETED.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "PENDING"
	IdempotencyCompleted IdempotencyStatus = "COMPLETED"
)

// DefaultCurrency is the only currency the ledger books.
const DefaultCurrency = "BRL"

// Account represents a balance-bearing account. Balance is never negative.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	OwnerName string          `json:"owner_name"`
	Document  string          `json:"document"`
	Branch    string          `json:"branch"`
	Number    string          `json:"number"`
	Status    AccountStatus   `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Active reports whether the account accepts debits and credits.
func (a *Account) Active() bool {
	return a.Status == AccountActive
}

// Transfer is the immutable record of a completed transfer.
// At most one exists per (FromAccountID, IdempotencyKey).
type Transfer struct {
	ID             uuid.UUID       `json:"id"`
	FromAccountID  uuid.UUID       `json:"from_account_id"`
	ToAccountID    uuid.UUID       `json:"to_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LedgerEntry represents one leg of a double-entry transfer.
// The sum of Deltas for a given TransferID must always equal 0.
type LedgerEntry struct {
	ID           uuid.UUID       `json:"id"`
	TransferID   uuid.UUID       `json:"transfer_id"`
	AccountID    uuid.UUID       `json:"account_id"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IdempotencyRecord binds (SourceAccountID, Key) to one request payload and,
// once completed, to its serialized response.
type IdempotencyRecord struct {
	ID              uuid.UUID
	SourceAccountID uuid.UUID
	Key             string
	RequestHash     string
	Status          IdempotencyStatus
	ResponsePayload []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Completed reports whether a replayable payload is available.
// A record without payload is never replayed, whatever its status says.
func (r *IdempotencyRecord) Completed() bool {
	return r.Status == IdempotencyCompleted && len(r.ResponsePayload) > 0
}

// BucketState is the persisted leaky bucket of one rate-limit subject.
type BucketState struct {
	Subject    string
	WaterLevel float64
	LastLeakAt time.Time
	UpdatedAt  time.Time
	Version    int64
}

// TransactionView is the external shape of a transfer.
type TransactionView struct {
	ID             string    `json:"id"`
	FromAccountID  string    `json:"fromAccountId"`
	ToAccountID    string    `json:"toAccountId"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Description    string    `json:"description"`
	IdempotencyKey string    `json:"idempotencyKey"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TransferResult is the canonical response of transferFunds. It is stored
// verbatim in the idempotency record and replayed with IdempotentReplay set.
type TransferResult struct {
	Transaction        TransactionView `json:"transaction"`
	FromAccountBalance string          `json:"fromAccountBalance"`
	ToAccountBalance   string          `json:"toAccountBalance"`
	IdempotentReplay   bool            `json:"idempotentReplay"`
	ProcessedAt        time.Time       `json:"processedAt"`
}

// AccountView is the external shape of an account.
type AccountView struct {
	ID             string    `json:"id"`
	OwnerName      string    `json:"ownerName"`
	Document       string    `json:"document"`
	Branch         string    `json:"branch"`
	Number         string    `json:"number"`
	Status         string    `json:"status"`
	CurrentBalance string    `json:"currentBalance"`
	Currency       string    `json:"currency"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// EntryView is the external shape of a ledger entry.
type EntryView struct {
	TransferID   string    `json:"transferId"`
	AccountID    string    `json:"accountId"`
	Delta        string    `json:"delta"`
	BalanceAfter string    `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}
