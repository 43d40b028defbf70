package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeInsufficientFunds, "not enough")
	assert.Equal(t, CodeInsufficientFunds, CodeOf(err))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, CodeInsufficientFunds, CodeOf(wrapped))

	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeChainUnavailable, "submit failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "chain_unavailable")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIs(t *testing.T) {
	err := New(CodeQuotaExceeded, "cap reached")
	assert.True(t, Is(err, CodeQuotaExceeded))
	assert.False(t, Is(err, CodeNotFound))
}
