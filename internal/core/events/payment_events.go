package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
)

type PaymentSucceededEvent struct {
	BaseEvent
	OrderID      string `json:"order_id"`
	UserID       int64  `json:"user_id"`
	GatewayTxnID string `json:"gateway_txn_id"`
	AmountAgorot int64  `json:"amount_agorot"`
	Credits      int64  `json:"credits"`
	InvoiceRef   string `json:"invoice_ref,omitempty"`
}

func NewPaymentSucceededEvent(orderID string, userID int64, gatewayTxnID string, amountAgorot, credits int64, invoiceRef string) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSucceeded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":       orderID,
				"user_id":        userID,
				"gateway_txn_id": gatewayTxnID,
				"amount_agorot":  amountAgorot,
				"credits":        credits,
				"invoice_ref":    invoiceRef,
			},
		},
		OrderID:      orderID,
		UserID:       userID,
		GatewayTxnID: gatewayTxnID,
		AmountAgorot: amountAgorot,
		Credits:      credits,
		InvoiceRef:   invoiceRef,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	GatewayTxnID  string `json:"gateway_txn_id,omitempty"`
	CCode         string `json:"ccode"`
	FailureReason string `json:"failure_reason"`
	Verified      bool   `json:"verified"`
}

func NewPaymentFailedEvent(orderID, gatewayTxnID, ccode, failureReason string, verified bool) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":       orderID,
				"gateway_txn_id": gatewayTxnID,
				"ccode":          ccode,
				"failure_reason": failureReason,
				"verified":       verified,
			},
		},
		OrderID:       orderID,
		GatewayTxnID:  gatewayTxnID,
		CCode:         ccode,
		FailureReason: failureReason,
		Verified:      verified,
	}
}
