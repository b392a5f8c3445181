package hypay

// CCode is the gateway's numeric result code, delivered as a string. "0" is
// the only success value; everything else is a failure of some category.
const (
	CodeSuccess     = "0"
	CodeAuthFailure = "902"
)

type Category string

const (
	CategoryApproved       Category = "approved"
	CategoryCardDeclined   Category = "card_declined"
	CategoryCardInvalid    Category = "card_invalid"
	CategoryAuthentication Category = "authentication"
	CategoryCommunication  Category = "communication"
	CategoryLimits         Category = "limits"
	CategoryRequest        Category = "request"
	CategoryUnknown        Category = "unknown"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ErrorInfo is the static translation of a gateway code. Immutable at
// runtime; UserMessage is safe to show end users as-is.
type ErrorInfo struct {
	Code             string
	Category         Category
	Severity         Severity
	TechnicalMessage string
	UserMessage      string
	Retryable        bool
}

var unknownCode = ErrorInfo{
	Category:         CategoryUnknown,
	Severity:         SeverityError,
	TechnicalMessage: "unrecognized gateway result code",
	UserMessage:      "Something went wrong with your payment. Please contact support.",
	Retryable:        false,
}

var codeTable = map[string]ErrorInfo{
	CodeSuccess: {
		Code:             CodeSuccess,
		Category:         CategoryApproved,
		Severity:         SeverityInfo,
		TechnicalMessage: "transaction approved",
		UserMessage:      "Your payment was completed successfully.",
		Retryable:        false,
	},
	"1": {
		Code:             "1",
		Category:         CategoryCardDeclined,
		Severity:         SeverityWarning,
		TechnicalMessage: "card blocked by issuer",
		UserMessage:      "Your card was declined. Please try a different card.",
		Retryable:        false,
	},
	"2": {
		Code:             "2",
		Category:         CategoryCardDeclined,
		Severity:         SeverityError,
		TechnicalMessage: "card reported stolen",
		UserMessage:      "Your card was declined. Please contact your card issuer.",
		Retryable:        false,
	},
	"3": {
		Code:             "3",
		Category:         CategoryCardDeclined,
		Severity:         SeverityWarning,
		TechnicalMessage: "issuer requests contact before approval",
		UserMessage:      "Your card issuer declined the charge. Please contact them or try another card.",
		Retryable:        false,
	},
	"4": {
		Code:             "4",
		Category:         CategoryCardDeclined,
		Severity:         SeverityWarning,
		TechnicalMessage: "transaction refused by issuer",
		UserMessage:      "Your payment was declined. Please try a different card.",
		Retryable:        false,
	},
	"6": {
		Code:             "6",
		Category:         CategoryCardInvalid,
		Severity:         SeverityWarning,
		TechnicalMessage: "CVV does not match card number",
		UserMessage:      "The security code (CVV) did not match. Please re-enter your card details.",
		Retryable:        true,
	},
	"26": {
		Code:             "26",
		Category:         CategoryCardInvalid,
		Severity:         SeverityWarning,
		TechnicalMessage: "cardholder id number does not match",
		UserMessage:      "The ID number did not match the card. Please re-enter your details.",
		Retryable:        true,
	},
	"36": {
		Code:             "36",
		Category:         CategoryCardInvalid,
		Severity:         SeverityWarning,
		TechnicalMessage: "card expired",
		UserMessage:      "This card has expired. Please use a different card.",
		Retryable:        false,
	},
	"39": {
		Code:             "39",
		Category:         CategoryCardInvalid,
		Severity:         SeverityWarning,
		TechnicalMessage: "invalid card number",
		UserMessage:      "The card number is invalid. Please re-enter it.",
		Retryable:        true,
	},
	"101": {
		Code:             "101",
		Category:         CategoryRequest,
		Severity:         SeverityError,
		TechnicalMessage: "required request parameter missing",
		UserMessage:      "We could not process your payment. Please try again.",
		Retryable:        true,
	},
	"107": {
		Code:             "107",
		Category:         CategoryLimits,
		Severity:         SeverityWarning,
		TechnicalMessage: "amount exceeds terminal transaction ceiling",
		UserMessage:      "This amount exceeds the allowed limit for a single payment.",
		Retryable:        false,
	},
	CodeAuthFailure: {
		Code:             CodeAuthFailure,
		Category:         CategoryAuthentication,
		Severity:         SeverityError,
		TechnicalMessage: "signature or credential verification failed",
		UserMessage:      "We could not verify this payment. If you were charged, please contact support.",
		Retryable:        false,
	},
	"999": {
		Code:             "999",
		Category:         CategoryCommunication,
		Severity:         SeverityError,
		TechnicalMessage: "communication failure with card processor",
		UserMessage:      "A temporary error occurred. Please try again in a few minutes.",
		Retryable:        true,
	},
}

// LookupCode is total: every input maps to a structurally valid ErrorInfo,
// unknown codes included.
func LookupCode(code string) ErrorInfo {
	if info, ok := codeTable[code]; ok {
		return info
	}
	info := unknownCode
	info.Code = code
	return info
}

// UserMessage returns only the user-facing text for a code.
func UserMessage(code string) string {
	return LookupCode(code).UserMessage
}

func IsSuccess(code string) bool {
	return code == CodeSuccess
}
