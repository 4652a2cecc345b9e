// Package idempotency coordinates the reservation, completion, replay and
// cleanup of idempotency records for transfers.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/store"
)

const (
	msgPayloadMismatch = "Idempotency key already used with different payload"
	msgRecordVanished  = "Idempotency conflict"
	msgInFlight        = "Idempotency key is currently being processed. Retry with the same idempotency key"
	msgConcurrent      = "Transfer could not be completed due to concurrent update. Retry with the same idempotency key"

	defaultSweepBatch = 500
)

// ErrNoRecord is wrapped by the Conflict Recover returns when no record
// exists for the key any more.
var ErrNoRecord = errors.New("idempotency: no record for key")

// Store is the persistence the coordinator needs. Find reports a missing
// record with store.ErrNotFound and Insert a taken key with store.ErrDuplicate.
type Store interface {
	FindIdempotency(ctx context.Context, sourceID uuid.UUID, key string) (*domain.IdempotencyRecord, error)
	InsertIdempotency(ctx context.Context, r *domain.IdempotencyRecord) error
	CompleteIdempotency(ctx context.Context, id uuid.UUID, requestHash string, payload []byte) error
	DeletePendingIdempotency(ctx context.Context, id uuid.UUID, requestHash string) (bool, error)
	DeleteExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int64, error)
}

type Options struct {
	TTL          time.Duration
	PollAttempts int
	PollInterval time.Duration
}

type Coordinator struct {
	store  Store
	opts   Options
	locks  *KeyLock
	now    func() time.Time
	logger *slog.Logger
}

func NewCoordinator(s Store, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  s,
		opts:   opts,
		locks:  NewKeyLock(),
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the wall clock, for tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Locks exposes the process-local key lock.
func (c *Coordinator) Locks() *KeyLock {
	return c.locks
}

// RequestHash binds a key to the normalized transfer payload.
func RequestHash(from, to uuid.UUID, amount decimal.Decimal, description string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", from, to, amount.StringFixed(domain.MoneyScale), description)))
	return hex.EncodeToString(sum[:])
}

// Lock serializes callers using the same (sourceID, key) within this process.
func (c *Coordinator) Lock(ctx context.Context, sourceID uuid.UUID, key string) (func(), error) {
	unlock, err := c.locks.Lock(ctx, sourceID.String()+":"+key)
	if err != nil {
		return nil, domain.Conflict(msgInFlight)
	}
	return unlock, nil
}

// Reservation is the outcome of Reserve: either a fresh PENDING record the
// caller now owns, or the replay of an earlier completed request.
type Reservation struct {
	Record *domain.IdempotencyRecord
	Replay *domain.TransferResult
}

// Reserve finds or creates the record for (sourceID, key).
func (c *Coordinator) Reserve(ctx context.Context, sourceID uuid.UUID, key, requestHash string) (*Reservation, error) {
	existing, err := c.store.FindIdempotency(ctx, sourceID, key)
	switch {
	case err == nil:
		replay, err := c.awaitReplay(ctx, existing, sourceID, key, requestHash)
		if err != nil {
			return nil, err
		}
		return &Reservation{Replay: replay}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}

	now := c.now().UTC().Truncate(time.Microsecond)
	rec := &domain.IdempotencyRecord{
		ID:              uuid.New(),
		SourceAccountID: sourceID,
		Key:             key,
		RequestHash:     requestHash,
		Status:          domain.IdempotencyPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.opts.TTL),
	}
	err = c.store.InsertIdempotency(ctx, rec)
	if err == nil {
		return &Reservation{Record: rec}, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	c.logger.DebugContext(ctx, "idempotency reservation lost race", "source_account_id", sourceID, "key", key)
	concurrent, err := c.store.FindIdempotency(ctx, sourceID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Conflict(msgRecordVanished)
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	replay, err := c.awaitReplay(ctx, concurrent, sourceID, key, requestHash)
	if err != nil {
		return nil, err
	}
	return &Reservation{Replay: replay}, nil
}

// Complete stores result as the replayable payload of rec. It must run in
// the same transaction as the ledger mutation it describes.
func (c *Coordinator) Complete(ctx context.Context, rec *domain.IdempotencyRecord, result *domain.TransferResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return domain.Internal("Unable to persist idempotency payload", err)
	}
	err = c.store.CompleteIdempotency(ctx, rec.ID, rec.RequestHash, payload)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Conflict(msgConcurrent)
	}
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

// Abandon deletes rec if it is still PENDING with the same hash. It runs even
// when ctx is already cancelled.
func (c *Coordinator) Abandon(ctx context.Context, rec *domain.IdempotencyRecord) {
	ctx = context.WithoutCancel(ctx)
	deleted, err := c.store.DeletePendingIdempotency(ctx, rec.ID, rec.RequestHash)
	if err != nil {
		c.logger.ErrorContext(ctx, "idempotency cleanup failed", "record_id", rec.ID, "error", err)
		return
	}
	if !deleted {
		c.logger.InfoContext(ctx, "idempotency record advanced by another writer", "record_id", rec.ID)
	}
}

// Recover looks for a record another writer completed after this attempt
// failed on a uniqueness race.
func (c *Coordinator) Recover(ctx context.Context, sourceID uuid.UUID, key, requestHash string) (*domain.TransferResult, error) {
	rec, err := c.store.FindIdempotency(ctx, sourceID, key)
	if errors.Is(err, store.ErrNotFound) {
		conflict := domain.Conflict(msgConcurrent)
		conflict.Err = ErrNoRecord
		return nil, conflict
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	return c.awaitReplay(ctx, rec, sourceID, key, requestHash)
}

// awaitReplay polls a PENDING record until it completes, vanishes or the
// budget runs out. Cancellation of ctx ends the wait like exhaustion does.
func (c *Coordinator) awaitReplay(ctx context.Context, rec *domain.IdempotencyRecord, sourceID uuid.UUID, key, requestHash string) (*domain.TransferResult, error) {
	if rec.RequestHash != requestHash {
		return nil, domain.Conflict(msgPayloadMismatch)
	}
	start := time.Now()
	defer func() { replayWait.Observe(time.Since(start).Seconds()) }()

	current := rec
	for attempt := 0; attempt < c.opts.PollAttempts; attempt++ {
		if current.Completed() {
			return replay(current, requestHash)
		}
		if current.Status != domain.IdempotencyPending {
			break
		}

		timer := time.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, domain.Conflict(msgInFlight)
		case <-timer.C:
		}

		refreshed, err := c.store.FindIdempotency(ctx, sourceID, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Conflict(msgRecordVanished)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.Conflict(msgInFlight)
			}
			return nil, fmt.Errorf("poll idempotency record: %w", err)
		}
		current = refreshed
	}

	if current.Completed() {
		return replay(current, requestHash)
	}
	return nil, domain.Conflict(msgInFlight)
}

func replay(rec *domain.IdempotencyRecord, requestHash string) (*domain.TransferResult, error) {
	if rec.RequestHash != requestHash {
		return nil, domain.Conflict(msgPayloadMismatch)
	}
	var result domain.TransferResult
	if err := json.Unmarshal(rec.ResponsePayload, &result); err != nil {
		return nil, domain.Internal("Idempotency replay payload is invalid", err)
	}
	result.IdempotentReplay = true
	return &result, nil
}

// Sweep deletes expired records in batches until fewer than batch remain.
func (c *Coordinator) Sweep(ctx context.Context, batch int) (int64, error) {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	now := c.now().UTC()
	var total int64
	for {
		n, err := c.store.DeleteExpiredIdempotency(ctx, now, batch)
		total += n
		if err != nil {
			return total, fmt.Errorf("sweep idempotency records: %w", err)
		}
		if n < int64(batch) {
			return total, nil
		}
	}
}
