package postgres

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/idanlevi/captionflow/internal"
	"github.com/idanlevi/captionflow/internal/core/datamodel/payment"
	"github.com/idanlevi/captionflow/internal/core/datamodel/user"
	paymentpkg "github.com/idanlevi/captionflow/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.Repository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(p *payment.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByOrderID(orderID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("order_id = ?", orderID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrOrderNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ApplySuccess settles a pending payment and grants its credits inside one
// transaction. The status guard on the UPDATE is what makes concurrent
// applications safe: only the call that flips pending to succeeded also
// increments the balance, so a crash between the two statements can never be
// observed as credits without a settled record.
func (r *PaymentRepository) ApplySuccess(orderID, gatewayTxnID string, amountAgorot int64, invoiceRef *string, rawCallback json.RawMessage) (*payment.Payment, error) {
	var settled payment.Payment

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var p payment.Payment
		if err := tx.Where("order_id = ?", orderID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrOrderNotFound
			}
			return err
		}
		if p.IsTerminal() {
			return apperrors.ErrOrderSettled
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":         payment.StatusSucceeded,
			"gateway_txn_id": gatewayTxnID,
			"amount_agorot":  amountAgorot,
			"raw_callback":   rawCallback,
			"processed_at":   now,
			"updated_at":     now,
		}
		if invoiceRef != nil {
			updates["invoice_ref"] = *invoiceRef
		}

		res := tx.Model(&payment.Payment{}).
			Where("order_id = ? AND status = ?", orderID, payment.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrOrderSettled
		}

		if err := tx.Model(&user.Profile{}).
			Where("id = ?", p.UserID).
			UpdateColumn("video_credits", gorm.Expr("video_credits + ?", p.Credits)).Error; err != nil {
			return err
		}

		// The row records what the gateway charged; the returned record keeps
		// the checkout amount so callers can audit a discrepancy.
		settled = p
		settled.Status = payment.StatusSucceeded
		settled.GatewayTxnID = &gatewayTxnID
		settled.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

func (r *PaymentRepository) MarkFailed(orderID, reason string, rawCallback json.RawMessage) (*payment.Payment, error) {
	var settled payment.Payment

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var p payment.Payment
		if err := tx.Where("order_id = ?", orderID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrOrderNotFound
			}
			return err
		}
		if p.IsTerminal() {
			return apperrors.ErrOrderSettled
		}

		now := time.Now()
		res := tx.Model(&payment.Payment{}).
			Where("order_id = ? AND status = ?", orderID, payment.StatusPending).
			Updates(map[string]interface{}{
				"status":         payment.StatusFailed,
				"failure_reason": reason,
				"raw_callback":   rawCallback,
				"processed_at":   now,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrOrderSettled
		}

		settled = p
		settled.Status = payment.StatusFailed
		settled.FailureReason = &reason
		settled.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}
