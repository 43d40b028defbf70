package apperr

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to callers. Validation and funds errors are
// reported synchronously with no side effect; chain errors are absorbed by
// the retry logic and only show up as transfer status transitions.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInsufficientFunds   = "insufficient_funds"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeChainUnavailable    = "chain_unavailable"
	CodeConfirmationTimeout = "confirmation_timeout"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeInternal            = "internal_error"
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// internal_error for anything else.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

func Is(err error, code string) bool { return CodeOf(err) == code }
