package idempotency

import "time"

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record caches the outcome of one keyed side-effecting operation. The unique
// index on Key is what makes concurrent begins race safely: exactly one
// insert wins, everyone else observes the winner's record.
type Record struct {
	ID          int64     `gorm:"primaryKey"`
	Key         string    `gorm:"column:idempotency_key;size:128;not null;uniqueIndex"`
	Fingerprint string    `gorm:"column:fingerprint;size:64;not null"`
	Status      string    `gorm:"column:status;size:16;not null;index"`
	Result      []byte    `gorm:"column:result"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;default:now()"`
}

func (Record) TableName() string { return "idempotency_records" }
