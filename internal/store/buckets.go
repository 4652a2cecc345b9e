package store

import (
	"context"

	"github.com/punchamoorthee/fundsgate/internal/domain"
)

// GetBucket returns the bucket for subject or ErrNotFound.
func (s *Store) GetBucket(ctx context.Context, subject string) (*domain.BucketState, error) {
	var b domain.BucketState
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT subject, water_level, last_leak_at, updated_at, version
		FROM leaky_buckets WHERE subject = $1
	`, subject).Scan(&b.Subject, &b.WaterLevel, &b.LastLeakAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// InsertBucket creates the first bucket for a subject. ErrDuplicate means
// another writer created it first.
func (s *Store) InsertBucket(ctx context.Context, b *domain.BucketState) error {
	var subject string
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO leaky_buckets (subject, water_level, last_leak_at, updated_at, version)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (subject) DO NOTHING
		RETURNING subject
	`, b.Subject, b.WaterLevel, b.LastLeakAt, b.UpdatedAt).Scan(&subject)
	if err := translate(err); err == ErrNotFound {
		return ErrDuplicate
	} else if err != nil {
		return err
	}
	b.Version = 0
	return nil
}

// UpdateBucket writes b only if the stored version still equals b.Version.
func (s *Store) UpdateBucket(ctx context.Context, b *domain.BucketState) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE leaky_buckets
		SET water_level = $2, last_leak_at = $3, updated_at = $4, version = version + 1
		WHERE subject = $1 AND version = $5
	`, b.Subject, b.WaterLevel, b.LastLeakAt, b.UpdatedAt, b.Version)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	b.Version++
	return nil
}
