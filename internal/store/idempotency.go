package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

const idempotencyColumns = `id, source_account_id, key, request_hash, status, response_payload, created_at, expires_at`

func scanIdempotency(row pgx.Row) (*domain.IdempotencyRecord, error) {
	var (
		r      domain.IdempotencyRecord
		status string
	)
	if err := row.Scan(&r.ID, &r.SourceAccountID, &r.Key, &r.RequestHash, &status, &r.ResponsePayload, &r.CreatedAt, &r.ExpiresAt); err != nil {
		return nil, translate(err)
	}
	r.Status = domain.IdempotencyStatus(status)
	return &r, nil
}

// FindIdempotency returns the record for (sourceID, key) or ErrNotFound.
func (s *Store) FindIdempotency(ctx context.Context, sourceID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	return scanIdempotency(s.conn(ctx).QueryRow(ctx, `
		SELECT `+idempotencyColumns+`
		FROM idempotency_records
		WHERE source_account_id = $1 AND key = $2
	`, sourceID, key))
}

// InsertIdempotency reserves (source, key) with a PENDING record. A concurrent
// reservation yields ErrDuplicate without aborting an enclosing transaction.
func (s *Store) InsertIdempotency(ctx context.Context, r *domain.IdempotencyRecord) error {
	var id uuid.UUID
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO idempotency_records (id, source_account_id, key, request_hash, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_account_id, key) DO NOTHING
		RETURNING id
	`, r.ID, r.SourceAccountID, r.Key, r.RequestHash, string(r.Status), r.CreatedAt, r.ExpiresAt).Scan(&id)
	if err := translate(err); err == ErrNotFound {
		return ErrDuplicate
	} else if err != nil {
		return err
	}
	return nil
}

// CompleteIdempotency stores payload on a PENDING record that still carries
// requestHash. ErrNotFound means the reservation was lost.
func (s *Store) CompleteIdempotency(ctx context.Context, id uuid.UUID, requestHash string, payload []byte) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE idempotency_records
		SET status = 'COMPLETED', response_payload = $3::jsonb
		WHERE id = $1 AND status = 'PENDING' AND request_hash = $2
	`, id, requestHash, string(payload))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePendingIdempotency releases a reservation that never completed.
func (s *Store) DeletePendingIdempotency(ctx context.Context, id uuid.UUID, requestHash string) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE id = $1 AND status = 'PENDING' AND request_hash = $2
	`, id, requestHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpiredIdempotency removes up to limit records whose expires_at is
// before now.
func (s *Store) DeleteExpiredIdempotency(ctx context.Context, now time.Time, limit int) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE id IN (
			SELECT id FROM idempotency_records
			WHERE expires_at < $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, now, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
