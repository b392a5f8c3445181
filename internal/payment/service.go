package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	errors "github.com/idanlevi/captionflow/internal"
	paymentmodel "github.com/idanlevi/captionflow/internal/core/datamodel/payment"
	"github.com/idanlevi/captionflow/internal/core/events"
	"github.com/idanlevi/captionflow/internal/hypay"
	"github.com/idanlevi/captionflow/internal/idempotency"
	"github.com/idanlevi/captionflow/internal/observability"
)

// ServiceAPI is the surface the HTTP handlers consume.
type ServiceAPI interface {
	Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error)
	HandleSuccessCallback(ctx context.Context, cb *SuccessCallback) (*SuccessOutcome, error)
	HandleFailureCallback(ctx context.Context, cb *FailureCallback) error
	InvoiceURL(ctx context.Context, orderID string) (string, error)
	CleanupIdempotency(ctx context.Context) (int64, error)
}

type Service struct {
	repo         Repository
	gateway      GatewayAPI
	idem         *idempotency.Runner
	store        idempotency.Store
	bus          *events.EventBus
	metrics      *observability.Metrics
	logger       *slog.Logger
	packs        map[string]CreditPack
	passphrase   string
	pendingStall time.Duration
}

func NewService(
	repo Repository,
	gateway GatewayAPI,
	idem *idempotency.Runner,
	store idempotency.Store,
	bus *events.EventBus,
	metrics *observability.Metrics,
	logger *slog.Logger,
	passphrase string,
	pendingStall time.Duration,
) *Service {
	return &Service{
		repo:         repo,
		gateway:      gateway,
		idem:         idem,
		store:        store,
		bus:          bus,
		metrics:      metrics,
		logger:       logger,
		packs:        DefaultPacks,
		passphrase:   passphrase,
		pendingStall: pendingStall,
	}
}

// Checkout creates a pending payment for a credit pack and returns the signed
// hosted-payment-page URL the user should be redirected to.
func (s *Service) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pack, ok := s.packs[req.PackID]
	if !ok {
		return nil, errors.ErrUnknownPack
	}

	orderID := uuid.NewString()
	record := newPendingPayment(orderID, req.UserID, pack)

	if err := s.repo.Create(record); err != nil {
		s.logger.Error("failed to create payment record",
			"error", err, "user_id", req.UserID, "pack_id", req.PackID)
		return nil, errors.NewInternalError("failed to create payment record", err)
	}

	signed, err := s.gateway.SignRequest(ctx, map[string]string{
		"Order":  orderID,
		"Amount": FormatAmount(pack.AmountAgorot),
		"Info":   pack.Name,
		"UserId": fmt.Sprintf("%d", req.UserID),
		"UTF8":   "True",
	})
	if err != nil {
		s.logger.Error("gateway sign request failed",
			"error", err, "order_id", orderID)
		return nil, err
	}

	s.logger.Info("checkout created",
		"order_id", orderID,
		"user_id", req.UserID,
		"pack_id", pack.ID,
		"amount_agorot", pack.AmountAgorot)

	return &CheckoutResponse{
		OrderID:     orderID,
		RedirectURL: s.gateway.PaymentPageURL(signed),
	}, nil
}

// HandleSuccessCallback verifies an inbound success callback with the gateway
// and applies its outcome at most once. The success path never proceeds on a
// failed verification: a forged or replayed success must not grant credits.
func (s *Service) HandleSuccessCallback(ctx context.Context, cb *SuccessCallback) (*SuccessOutcome, error) {
	s.logger.Info("success callback received",
		"order_id", cb.OrderID,
		"gateway_txn_id", cb.TxnID,
		"amount", cb.Amount,
		"ccode", cb.CCode)

	if err := cb.Validate(); err != nil {
		return nil, err
	}
	if !idempotency.ValidTransactionID(cb.TxnID) {
		return nil, errors.NewValidationError("malformed gateway transaction id", errors.ErrCodeInvalidTxnID)
	}

	amountAgorot, err := ParseAmountAgorot(cb.Amount)
	if err != nil {
		return nil, errors.NewValidationError("malformed amount", errors.ErrCodeInvalidAmount).WithCause(err)
	}

	if !s.verify(ctx, cb.OrderID, cb.Params) {
		return nil, errors.ErrVerificationFailed
	}

	key := "payment-success:" + cb.OrderID
	fingerprint := struct {
		OrderID string `json:"order_id"`
		TxnID   string `json:"txn_id"`
		Amount  int64  `json:"amount_agorot"`
	}{cb.OrderID, cb.TxnID, amountAgorot}

	executed := false
	resultBytes, err := s.idem.Do(ctx, key, fingerprint, func(opCtx context.Context) ([]byte, error) {
		executed = true
		outcome, opErr := s.applySuccess(opCtx, cb, amountAgorot)
		if opErr != nil {
			return nil, opErr
		}
		return json.Marshal(outcome)
	})
	if err != nil {
		return nil, err
	}
	if !executed {
		s.metrics.IdempotencyReplay()
		s.logger.Info("duplicate success callback served from idempotency cache",
			"order_id", cb.OrderID)
	}

	var outcome SuccessOutcome
	if err := json.Unmarshal(resultBytes, &outcome); err != nil {
		return nil, errors.NewInternalError("corrupt cached outcome", err)
	}
	return &outcome, nil
}

func (s *Service) applySuccess(ctx context.Context, cb *SuccessCallback, amountAgorot int64) (*SuccessOutcome, error) {
	raw, _ := json.Marshal(cb.Params)

	var invoiceRef *string
	if cb.InvoiceRef != "" {
		invoiceRef = &cb.InvoiceRef
	}

	settled, err := s.repo.ApplySuccess(cb.OrderID, cb.TxnID, amountAgorot, invoiceRef, raw)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok &&
			(appErr.Code == errors.ErrCodeOrderNotFound || appErr.Code == errors.ErrCodeOrderSettled) {
			// a success callback for an unknown or already-settled order is
			// not an error to the gateway, but it must be visible to operators
			s.logger.Warn("success callback had nothing to settle",
				"order_id", cb.OrderID,
				"gateway_txn_id", cb.TxnID,
				"reason", appErr.Code)
			return &SuccessOutcome{Applied: false, Reason: string(appErr.Code), OrderID: cb.OrderID}, nil
		}
		s.logger.Error("failed to apply success outcome",
			"error", err, "order_id", cb.OrderID)
		return nil, err
	}

	if settled.AmountAgorot != amountAgorot {
		s.logger.Error("gateway amount differs from checkout amount",
			"order_id", cb.OrderID,
			"checkout_agorot", settled.AmountAgorot,
			"gateway_agorot", amountAgorot)
	}

	s.metrics.OutcomeApplied("succeeded")
	s.logger.Info("payment succeeded, credits granted",
		"order_id", cb.OrderID,
		"user_id", settled.UserID,
		"credits", settled.Credits,
		"gateway_txn_id", cb.TxnID)

	event := events.NewPaymentSucceededEvent(
		cb.OrderID, settled.UserID, cb.TxnID, amountAgorot, settled.Credits, cb.InvoiceRef)
	eventCtx := errors.ContextWithOrderID(ctx, cb.OrderID)
	if err := s.bus.PublishSync(eventCtx, event); err != nil {
		s.logger.Error("failed to publish success event", "error", err, "order_id", cb.OrderID)
	}

	return &SuccessOutcome{
		Applied:      true,
		OrderID:      cb.OrderID,
		UserID:       settled.UserID,
		Credits:      settled.Credits,
		AmountAgorot: amountAgorot,
	}, nil
}

// HandleFailureCallback applies a failure outcome. Verification is attempted
// but does not block processing: a forged failure cannot move money, while
// dropping a genuine decline notice strands a pending payment. Unverified
// failures are flagged in the audit trail for reconciliation. This asymmetry
// against the success path is a deliberate policy, not an oversight.
func (s *Service) HandleFailureCallback(ctx context.Context, cb *FailureCallback) error {
	s.logger.Info("failure callback received",
		"order_id", cb.OrderID,
		"gateway_txn_id", cb.TxnID,
		"ccode", cb.CCode,
		"err_msg", cb.ErrMsg)

	if err := cb.Validate(); err != nil {
		return err
	}

	signatureOK := hypay.VerifySignature(cb.Params, cb.Sign, s.passphrase)
	verified := s.verify(ctx, cb.OrderID, cb.Params)
	if !verified || !signatureOK {
		s.logger.Warn("processing failure callback with weak verification",
			"order_id", cb.OrderID,
			"round_trip_verified", verified,
			"local_signature_ok", signatureOK)
	}

	reason := cb.ErrMsg
	if reason == "" {
		reason = hypay.LookupCode(cb.CCode).TechnicalMessage
	}

	raw, _ := json.Marshal(cb.Params)
	settled, err := s.repo.MarkFailed(cb.OrderID, reason, raw)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok {
			switch appErr.Code {
			case errors.ErrCodeOrderNotFound:
				s.logger.Warn("failure callback for unknown order", "order_id", cb.OrderID)
				return nil
			case errors.ErrCodeOrderSettled:
				// re-marking a failed payment is harmless, but log the duplicate
				s.logger.Info("duplicate failure callback ignored", "order_id", cb.OrderID)
				return nil
			}
		}
		s.logger.Error("failed to apply failure outcome", "error", err, "order_id", cb.OrderID)
		return err
	}

	s.metrics.OutcomeApplied("failed")
	s.logger.Info("payment marked failed",
		"order_id", cb.OrderID,
		"user_id", settled.UserID,
		"ccode", cb.CCode,
		"reason", reason)

	event := events.NewPaymentFailedEvent(cb.OrderID, cb.TxnID, cb.CCode, reason, verified)
	eventCtx := errors.ContextWithOrderID(ctx, cb.OrderID)
	if err := s.bus.PublishSync(eventCtx, event); err != nil {
		s.logger.Error("failed to publish failure event", "error", err, "order_id", cb.OrderID)
	}

	return nil
}

// InvoiceURL fetches the invoice document link for a settled order.
func (s *Service) InvoiceURL(ctx context.Context, orderID string) (string, error) {
	p, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		return "", err
	}
	if p.Status != paymentmodel.StatusSucceeded || p.GatewayTxnID == nil {
		return "", errors.ErrInvoiceMissing
	}
	return s.gateway.FetchInvoice(ctx, *p.GatewayTxnID)
}

// CleanupIdempotency purges expired idempotency records; invoked by the
// admin endpoint and the sweep command, never self-scheduled.
func (s *Service) CleanupIdempotency(ctx context.Context) (int64, error) {
	ctx, cancel := errors.WithTimeout(ctx, time.Minute)
	defer cancel()

	deleted, err := s.store.CleanupExpired(ctx, s.pendingStall)
	if err != nil {
		s.logger.Error("idempotency cleanup failed", "error", err)
		return 0, errors.NewInternalError("idempotency cleanup failed", err)
	}
	s.logger.Info("idempotency cleanup completed", "deleted", deleted)
	return deleted, nil
}

func (s *Service) verify(ctx context.Context, orderID string, params map[string]string) bool {
	start := time.Now()
	result := s.gateway.VerifyCallback(ctx, params)
	s.metrics.VerificationResult(result.Valid, time.Since(start))

	s.logger.Info("callback verification attempt",
		"order_id", orderID,
		"valid", result.Valid,
		"gateway_ccode", result.CCode,
		"error", result.Err)

	return result.Valid
}
