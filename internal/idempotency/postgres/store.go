package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	record "github.com/idanlevi/captionflow/internal/core/datamodel/idempotency"
	"github.com/idanlevi/captionflow/internal/idempotency"
)

// Store is the database-backed idempotency store. The unique index on
// idempotency_key turns concurrent Begin calls into exactly one winning
// insert; everyone else reads the winner's record.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (idempotency.BeginResult, error) {
	now := time.Now()
	rec := &record.Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      record.StatusPending,
		ExpiresAt:   now.Add(ttl),
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return idempotency.BeginResult{}, res.Error
	}
	if res.RowsAffected == 1 {
		return idempotency.BeginResult{State: idempotency.StateNew}, nil
	}

	var existing record.Record
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&existing).Error; err != nil {
		return idempotency.BeginResult{}, err
	}

	if existing.Fingerprint != fingerprint {
		return idempotency.BeginResult{State: idempotency.StateConflict}, nil
	}

	switch existing.Status {
	case record.StatusCompleted:
		return idempotency.BeginResult{State: idempotency.StateReplay, Result: existing.Result}, nil

	case record.StatusFailed:
		// failures are retryable: reclaim the record for a fresh attempt;
		// the guarded update makes sure only one retrier wins
		reclaim := s.db.WithContext(ctx).Model(&record.Record{}).
			Where("idempotency_key = ? AND status = ?", key, record.StatusFailed).
			Updates(map[string]interface{}{
				"status":     record.StatusPending,
				"expires_at": now.Add(ttl),
				"updated_at": now,
			})
		if reclaim.Error != nil {
			return idempotency.BeginResult{}, reclaim.Error
		}
		if reclaim.RowsAffected == 1 {
			return idempotency.BeginResult{State: idempotency.StateNew}, nil
		}
		return idempotency.BeginResult{State: idempotency.StateInProgress}, nil

	default:
		return idempotency.BeginResult{State: idempotency.StateInProgress}, nil
	}
}

func (s *Store) Complete(ctx context.Context, key, fingerprint string, result []byte, ttl time.Duration) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&record.Record{}).
		Where("idempotency_key = ? AND fingerprint = ?", key, fingerprint).
		Updates(map[string]interface{}{
			"status":     record.StatusCompleted,
			"result":     result,
			"expires_at": now.Add(ttl),
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no idempotency record to complete for key %s", key)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, key, fingerprint string) error {
	res := s.db.WithContext(ctx).Model(&record.Record{}).
		Where("idempotency_key = ? AND fingerprint = ?", key, fingerprint).
		Updates(map[string]interface{}{
			"status":     record.StatusFailed,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no idempotency record to fail for key %s", key)
	}
	return nil
}

// CleanupExpired sweeps settled records past their expiry and pending records
// stuck beyond the stall threshold. A pending record younger than the stall
// threshold is an execution that may still be in flight and is never touched.
func (s *Store) CleanupExpired(ctx context.Context, pendingStall time.Duration) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Where("(status IN ? AND expires_at < ?) OR (status = ? AND updated_at < ?)",
			[]string{record.StatusCompleted, record.StatusFailed}, now,
			record.StatusPending, now.Add(-pendingStall)).
		Delete(&record.Record{})
	return res.RowsAffected, res.Error
}
