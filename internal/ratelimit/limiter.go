// Package ratelimit implements per-subject leaky-bucket admission control
// with optimistically versioned bucket state.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/fundsgate/internal/domain"
	"github.com/punchamoorthee/fundsgate/internal/store"
)

// MaxAttempts bounds the reload-and-retry loop on write conflicts.
const MaxAttempts = 5

// BucketStore persists bucket state. Implementations report a missing bucket
// with store.ErrNotFound, a lost creation race with store.ErrDuplicate and a
// stale version with store.ErrVersionConflict.
type BucketStore interface {
	GetBucket(ctx context.Context, subject string) (*domain.BucketState, error)
	InsertBucket(ctx context.Context, b *domain.BucketState) error
	UpdateBucket(ctx context.Context, b *domain.BucketState) error
}

type Options struct {
	Capacity      int
	LeakPerSecond float64
}

func (o Options) validate() error {
	var errs []error
	if o.Capacity < 1 {
		errs = append(errs, fmt.Errorf("capacity must be >= 1, got %d", o.Capacity))
	}
	if !(o.LeakPerSecond > 0) {
		errs = append(errs, fmt.Errorf("leak per second must be > 0, got %v", o.LeakPerSecond))
	}
	return errors.Join(errs...)
}

type Limiter struct {
	store BucketStore
	opts  Options
	now   func() time.Time
}

func New(bs BucketStore, opts Options) (*Limiter, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	return &Limiter{store: bs, opts: opts, now: time.Now}, nil
}

// WithClock replaces the wall clock, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// TransferSubject is the bucket subject for transfers leaving accountID.
func TransferSubject(accountID uuid.UUID) string {
	return "account:" + accountID.String() + ":mutation:transferFunds"
}

// Decision is the outcome of draining a bucket and adding one unit.
type Decision struct {
	Allowed           bool
	NextLevel         float64
	RetryAfterSeconds int
}

// Drain computes the admission decision for one unit against state at now.
// It has no side effects so a retry can simply call it again.
func Drain(state domain.BucketState, now time.Time, opts Options) Decision {
	elapsedMs := float64(max(0, now.Sub(state.LastLeakAt).Milliseconds()))
	leaked := opts.LeakPerSecond * elapsedMs / 1000
	current := math.Max(0, state.WaterLevel-leaked)
	next := current + 1

	capacity := float64(opts.Capacity)
	if next > capacity {
		retry := int(math.Ceil((next - capacity) / opts.LeakPerSecond))
		return Decision{NextLevel: current, RetryAfterSeconds: max(1, retry)}
	}
	return Decision{Allowed: true, NextLevel: next}
}

// AssertAllowed admits one unit of work for subject or returns a RATE_LIMITED
// domain error. After MaxAttempts lost races it fails closed with
// domain.ErrLimiterBusy.
func (l *Limiter) AssertAllowed(ctx context.Context, subject string) error {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := l.now().UTC()

		state, err := l.store.GetBucket(ctx, subject)
		if errors.Is(err, store.ErrNotFound) {
			err = l.store.InsertBucket(ctx, &domain.BucketState{
				Subject:    subject,
				WaterLevel: 1,
				LastLeakAt: now,
				UpdatedAt:  now,
			})
			if err == nil {
				return nil
			}
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return fmt.Errorf("insert bucket %s: %w", subject, err)
		}
		if err != nil {
			return fmt.Errorf("load bucket %s: %w", subject, err)
		}

		d := Drain(*state, now, l.opts)
		if !d.Allowed {
			limiterRejections.WithLabelValues(reasonLimited).Inc()
			return domain.RateLimited(d.RetryAfterSeconds)
		}

		next := *state
		next.WaterLevel = d.NextLevel
		next.LastLeakAt = now
		next.UpdatedAt = now
		err = l.store.UpdateBucket(ctx, &next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("update bucket %s: %w", subject, err)
		}
	}
	limiterRejections.WithLabelValues(reasonBusy).Inc()
	return domain.ErrLimiterBusy
}
