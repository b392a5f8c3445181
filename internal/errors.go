package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnavailable  ErrorType = "UNAVAILABLE"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeGateway      ErrorType = "GATEWAY_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidOrderID   ErrorCode = "INVALID_ORDER_ID"
	ErrCodeInvalidTxnID     ErrorCode = "INVALID_TRANSACTION_ID"
	ErrCodeMissingParameter ErrorCode = "MISSING_PARAMETER"

	ErrCodeOrderNotFound  ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeUnknownPack    ErrorCode = "UNKNOWN_CREDIT_PACK"
	ErrCodeOrderSettled   ErrorCode = "ORDER_ALREADY_SETTLED"
	ErrCodeInvoiceMissing ErrorCode = "INVOICE_NOT_AVAILABLE"

	ErrCodeIdempotencyConflict  ErrorCode = "IDEMPOTENCY_KEY_CONFLICT"
	ErrCodeIdempotencyInFlight  ErrorCode = "OPERATION_STILL_PROCESSING"
	ErrCodeIdempotencyStoreDown ErrorCode = "IDEMPOTENCY_STORE_UNAVAILABLE"
	ErrCodeVerificationFailed   ErrorCode = "GATEWAY_VERIFICATION_FAILED"
	ErrCodeGatewayUnreachable   ErrorCode = "GATEWAY_UNREACHABLE"
	ErrCodeGatewayRejected      ErrorCode = "GATEWAY_REJECTED"
	ErrCodeAdminTokenInvalid    ErrorCode = "ADMIN_TOKEN_INVALID"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewUnavailableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewGatewayError(message string, code ErrorCode, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeGateway,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

var (
	ErrOrderNotFound  = NewNotFoundError("payment order not found", ErrCodeOrderNotFound)
	ErrUnknownPack    = NewValidationError("unknown credit pack", ErrCodeUnknownPack)
	ErrOrderSettled   = NewConflictError("payment order already settled", ErrCodeOrderSettled)
	ErrInvoiceMissing = NewNotFoundError("no invoice available for this order", ErrCodeInvoiceMissing)

	ErrIdempotencyConflict = NewConflictError("idempotency key reused with a different payload", ErrCodeIdempotencyConflict)
	ErrStillProcessing     = NewConflictError("operation is still processing, try again", ErrCodeIdempotencyInFlight)
	ErrVerificationFailed  = NewUnauthorizedError("gateway rejected callback verification", ErrCodeVerificationFailed)
	ErrAdminTokenInvalid   = NewUnauthorizedError("invalid admin token", ErrCodeAdminTokenInvalid)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
