package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Canonical error codes used across the shop core.
const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeInvalidKey       = "INVALID_KEY"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeStaleCart        = "STALE_CART"
	CodeNotAuthorized    = "NOT_AUTHORIZED"
	CodeIllegalOperation = "ILLEGAL_OPERATION"
	CodeProviderError    = "PROVIDER_ERROR"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// InvalidArgument reports a bad input shape or value. Never retried.
func InvalidArgument(message string) *AppError {
	return NewAppError(CodeInvalidArgument, message, http.StatusBadRequest, nil)
}

// InvalidArgumentf is InvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) *AppError {
	return InvalidArgument(fmt.Sprintf(format, args...))
}

// InvalidKey reports a malformed entity key.
func InvalidKey(raw string) *AppError {
	return NewAppError(CodeInvalidKey, fmt.Sprintf("malformed key %q", raw), http.StatusBadRequest, nil)
}

// NotFound reports a missing referenced entity.
func NotFound(what, key string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s %s not found", what, key), http.StatusNotFound, nil)
}

// InvalidState reports an operation that is not valid for the current data state.
func InvalidState(message string) *AppError {
	return NewAppError(CodeInvalidState, message, http.StatusConflict, nil)
}

// InvalidStatef is InvalidState with a formatted message.
func InvalidStatef(format string, args ...any) *AppError {
	return InvalidState(fmt.Sprintf(format, args...))
}

// StaleCart reports a cart that can no longer be frozen as-is, with the
// offending article keys attached as details.
func StaleCart(message string, details any) *AppError {
	e := NewAppError(CodeStaleCart, message, http.StatusConflict, nil)
	e.Details = details
	return e
}

// NotAuthorized reports a missing grant on a resource.
func NotAuthorized(message string) *AppError {
	return NewAppError(CodeNotAuthorized, message, http.StatusForbidden, nil)
}

// IllegalOperation reports an operation that is structurally impossible,
// e.g. charging an invoice payment.
func IllegalOperation(message string) *AppError {
	return NewAppError(CodeIllegalOperation, message, http.StatusConflict, nil)
}

// ProviderError wraps an opaque payment provider failure with both a
// customer-facing and a merchant-facing message.
func ProviderError(provider, customerMsg, merchantMsg string, err error) *AppError {
	e := NewAppError(CodeProviderError, customerMsg, http.StatusBadGateway, err)
	e.Details = map[string]string{
		"provider":         provider,
		"merchant_message": merchantMsg,
	}
	return e
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError extracts the AppError from an error chain, or wraps unknown
// errors into a generic internal one.
func AsAppError(err error) *AppError {
	var target *AppError
	if errors.As(err, &target) {
		return target
	}
	return NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
}

// HasCode reports whether err carries the given canonical code.
func HasCode(err error, code string) bool {
	var target *AppError
	return errors.As(err, &target) && target.Code == code
}

// ValidationError is a single blocking or advisory finding of a
// checkout/order precondition check. Endpoints return the full list so a
// client can display every blocker at once.
type ValidationError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// BlockingOnly filters the list down to blocking findings.
func BlockingOnly(errs []ValidationError) []ValidationError {
	var out []ValidationError
	for _, e := range errs {
		if e.Blocking {
			out = append(out, e)
		}
	}
	return out
}
