package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/korilabs/coin-ledger/internal/apperr"
)

type APIError struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details interface{}) {
	WriteJSON(w, status, APIError{
		Error:   msg,
		Code:    code,
		Details: details,
	})
}

// WriteAppError maps service error codes onto HTTP statuses.
func WriteAppError(w http.ResponseWriter, err error) {
	var ae *apperr.AppError
	if !errors.As(err, &ae) {
		WriteError(w, http.StatusInternalServerError, apperr.CodeInternal, "internal error", nil)
		return
	}
	status := http.StatusInternalServerError
	switch ae.Code {
	case apperr.CodeInvalidRequest:
		status = http.StatusBadRequest
	case apperr.CodeInsufficientFunds, apperr.CodeQuotaExceeded:
		status = http.StatusUnprocessableEntity
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeConflict:
		status = http.StatusConflict
	case apperr.CodeChainUnavailable, apperr.CodeConfirmationTimeout:
		status = http.StatusBadGateway
	}
	WriteError(w, status, ae.Code, ae.Message, nil)
}
