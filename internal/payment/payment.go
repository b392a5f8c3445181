package payment

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/idanlevi/captionflow/internal/core/datamodel/payment"
	"github.com/idanlevi/captionflow/internal/hypay"
)

// CreditPack is a purchasable bundle of captioning credits.
type CreditPack struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Credits      int64  `json:"credits"`
	AmountAgorot int64  `json:"amount_agorot"`
}

// DefaultPacks is the pack catalog. Prices are in agorot so arithmetic stays
// integral; the gateway sees decimal shekel strings.
var DefaultPacks = map[string]CreditPack{
	"starter": {ID: "starter", Name: "Starter Pack", Credits: 60, AmountAgorot: 3990},
	"creator": {ID: "creator", Name: "Creator Pack", Credits: 200, AmountAgorot: 11990},
	"studio":  {ID: "studio", Name: "Studio Pack", Credits: 600, AmountAgorot: 29990},
}

// Repository is the persistence boundary for payments and the credit ledger.
type Repository interface {
	Create(p *payment.Payment) error
	GetByOrderID(orderID string) (*payment.Payment, error)
	// ApplySuccess settles a pending payment and grants its credits in one
	// storage transaction. The stored row records amountAgorot as charged by
	// the gateway; the returned record keeps the original checkout amount.
	// Returns ErrOrderNotFound / ErrOrderSettled when there is nothing
	// pending to settle.
	ApplySuccess(orderID, gatewayTxnID string, amountAgorot int64, invoiceRef *string, rawCallback json.RawMessage) (*payment.Payment, error)
	// MarkFailed settles a pending payment as failed; credits are untouched.
	MarkFailed(orderID, reason string, rawCallback json.RawMessage) (*payment.Payment, error)
}

// GatewayAPI is what the service needs from the Hypay client.
type GatewayAPI interface {
	SignRequest(ctx context.Context, params map[string]string) (url.Values, error)
	PaymentPageURL(signed url.Values) string
	VerifyCallback(ctx context.Context, params map[string]string) hypay.VerificationResult
	FetchInvoice(ctx context.Context, txnID string) (string, error)
}

func newPendingPayment(orderID string, userID int64, pack CreditPack) *payment.Payment {
	return &payment.Payment{
		OrderID:      orderID,
		UserID:       userID,
		PackID:       pack.ID,
		Credits:      pack.Credits,
		AmountAgorot: pack.AmountAgorot,
		Status:       payment.StatusPending,
	}
}
