package internal

import (
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
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
	ErrorTypeRateLimited  ErrorType = "RATE_LIMITED"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidQuantity  ErrorCode = "INVALID_QUANTITY"
	ErrCodeInvalidVariant   ErrorCode = "INVALID_VARIANT"
	ErrCodeInvalidPrice     ErrorCode = "INVALID_PRICE"
	ErrCodeInvalidRate      ErrorCode = "INVALID_RATE"

	ErrCodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired      ErrorCode = "TOKEN_EXPIRED"
	ErrCodeMissingPermission ErrorCode = "MISSING_PERMISSION"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInventoryNotFound ErrorCode = "INVENTORY_UNIT_NOT_FOUND"
	ErrCodeParamsNotFound    ErrorCode = "PRICE_PARAMETERS_NOT_FOUND"
	ErrCodeRecordNotFound    ErrorCode = "RECONCILIATION_NOT_FOUND"
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"

	// reconciliation taxonomy
	ErrCodeInvalidPayment        ErrorCode = "INVALID_PAYMENT"
	ErrCodeNoActionNeeded        ErrorCode = "NO_ACTION_NEEDED"
	ErrCodeAlreadyHandled        ErrorCode = "ALREADY_HANDLED"
	ErrCodeInsufficientStock     ErrorCode = "INSUFFICIENT_STOCK"
	ErrCodeOrderWriteFailure     ErrorCode = "ORDER_WRITE_FAILURE"
	ErrCodeUpstreamLookupFailure ErrorCode = "UPSTREAM_LOOKUP_FAILURE"
	ErrCodeOrderAlreadyExists    ErrorCode = "ORDER_ALREADY_EXISTS"
	ErrCodeStorageFailure        ErrorCode = "STORAGE_FAILURE"
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

// Is matches on Code so wrapped copies of a sentinel still compare equal.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy carrying cause; sentinels stay untouched.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func newAppError(t ErrorType, status int, code ErrorCode, message string) *AppError {
	return &AppError{Type: t, Code: code, Message: message, StatusCode: status}
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, code, message)
}

// NewValidationFieldError reports a single offending field in the same shape
// the fluent validator uses for several.
func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, ErrCodeValidationFailed, "Validation failed").
		WithDetails(ValidationErrors{Errors: []ValidationError{{Field: field, Message: message, Code: string(code)}}})
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeNotFound, http.StatusNotFound, code, message)
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeUnauthorized, http.StatusUnauthorized, code, message)
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeForbidden, http.StatusForbidden, code, message)
}

func NewInternalError(message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, http.StatusInternalServerError, ErrCodeInternal, message).WithCause(cause)
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeConflict, http.StatusConflict, code, message)
}

// NewExternalError marks a failure of a dependency we do not own, such as the
// payment gateway.
func NewExternalError(message string, code ErrorCode) *AppError {
	return newAppError(ErrorTypeExternal, http.StatusBadGateway, code, message)
}

var (
	// Reconciliation outcomes. None of these reach the gateway as a failed
	// delivery; they end up in the audit log.
	ErrInvalidPayment        = NewValidationError("notification does not resolve to a payment we own", ErrCodeInvalidPayment)
	ErrNoActionNeeded        = NewValidationError("payment is not approved", ErrCodeNoActionNeeded)
	ErrAlreadyHandled        = NewConflictError("payment already reconciled or in progress", ErrCodeAlreadyHandled)
	ErrInsufficientStock     = NewConflictError("insufficient stock", ErrCodeInsufficientStock)
	ErrOrderWriteFailure     = newAppError(ErrorTypeInternal, http.StatusInternalServerError, ErrCodeOrderWriteFailure, "order could not be persisted after stock decrement")
	ErrUpstreamLookupFailure = NewExternalError("payment gateway lookup failed", ErrCodeUpstreamLookupFailure)
	ErrOrderAlreadyExists    = NewConflictError("order already exists for payment", ErrCodeOrderAlreadyExists)

	ErrInventoryUnitNotFound = NewNotFoundError("inventory unit not found", ErrCodeInventoryNotFound)
	ErrPriceParamsNotFound   = NewNotFoundError("price parameter set not found", ErrCodeParamsNotFound)
	ErrRecordNotFound        = NewNotFoundError("reconciliation record not found", ErrCodeRecordNotFound)

	ErrInvalidToken      = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired      = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrMissingPermission = NewForbiddenError("insufficient permissions", ErrCodeMissingPermission)
	ErrRateLimited       = newAppError(ErrorTypeRateLimited, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "rate limit exceeded")
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the AppError code found in err's chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}
