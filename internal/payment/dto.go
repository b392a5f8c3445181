package payment

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/idanlevi/captionflow/internal/core/common/validation"
)

// SuccessCallback is the normalized success-path redirect from the gateway.
// Params holds every original query parameter for the verification round
// trip and for forwarding to the result page.
type SuccessCallback struct {
	OrderID    string
	TxnID      string
	Amount     string
	CCode      string
	InvoiceRef string
	Sign       string
	Params     map[string]string
}

func (c *SuccessCallback) Validate() error {
	validator := validation.NewValidator()

	validator.Field("Order", c.OrderID).Required().MaxLength(64)
	validator.Field("Id", c.TxnID).Required()
	validator.Field("Amount", c.Amount).Required()
	validator.Field("CCode", c.CCode).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// FailureCallback is the failure-path redirect. Only Order and CCode are
// mandatory; the gateway omits the rest for some decline flows.
type FailureCallback struct {
	OrderID string
	TxnID   string
	CCode   string
	ErrMsg  string
	Sign    string
	Params  map[string]string
}

func (c *FailureCallback) Validate() error {
	validator := validation.NewValidator()

	validator.Field("Order", c.OrderID).Required().MaxLength(64)
	validator.Field("CCode", c.CCode).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CheckoutRequest starts a purchase of one credit pack.
type CheckoutRequest struct {
	UserID int64  `json:"user_id"`
	PackID string `json:"pack_id"`
}

func (r *CheckoutRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("user_id", r.UserID).Required()
	validator.Field("pack_id", r.PackID).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CheckoutResponse struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

// SuccessOutcome is what one settled success callback produced. It is the
// payload cached by the idempotency layer, so duplicate deliveries replay it
// byte for byte.
type SuccessOutcome struct {
	Applied      bool   `json:"applied"`
	Reason       string `json:"reason,omitempty"`
	OrderID      string `json:"order_id"`
	UserID       int64  `json:"user_id,omitempty"`
	Credits      int64  `json:"credits,omitempty"`
	AmountAgorot int64  `json:"amount_agorot,omitempty"`
}

var amountPattern = regexp.MustCompile(`^([0-9]+)(?:\.([0-9]{1,2}))?$`)

// ParseAmountAgorot converts the gateway's decimal shekel string into agorot
// without going through floating point.
func ParseAmountAgorot(s string) (int64, error) {
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed amount %q", s)
	}

	whole, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q: %w", s, err)
	}

	var frac int64
	if m[2] != "" {
		frac, _ = strconv.ParseInt(m[2], 10, 64)
		if len(m[2]) == 1 {
			frac *= 10
		}
	}
	return whole*100 + frac, nil
}

// FormatAmount renders agorot as the decimal string the gateway expects.
func FormatAmount(agorot int64) string {
	return fmt.Sprintf("%d.%02d", agorot/100, agorot%100)
}
