package payment

import (
	"encoding/json"
	"time"
)

const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Payment is one purchase attempt of a credit pack. OrderID is the merchant
// side identifier handed to the gateway at checkout; the gateway echoes it
// back on every callback, so it doubles as the idempotency key for outcome
// application.
type Payment struct {
	ID            int64           `gorm:"primaryKey"`
	OrderID       string          `gorm:"column:order_id;not null;uniqueIndex"`
	UserID        int64           `gorm:"column:user_id;not null;index"`
	PackID        string          `gorm:"column:pack_id;not null"`
	Credits       int64           `gorm:"column:credits;not null"`
	AmountAgorot  int64           `gorm:"column:amount_agorot;not null"`
	Status        string          `gorm:"column:status;default:pending"`
	GatewayTxnID  *string         `gorm:"column:gateway_txn_id"`
	InvoiceRef    *string         `gorm:"column:invoice_ref"`
	FailureReason *string         `gorm:"column:failure_reason"`
	RawCallback   json.RawMessage `gorm:"column:raw_callback;type:jsonb"`
	ProcessedAt   *time.Time      `gorm:"column:processed_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Payment) TableName() string { return "payments" }

// IsTerminal reports whether the payment has reached a settled state.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusSucceeded || p.Status == StatusFailed
}
