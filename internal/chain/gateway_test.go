package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayFor(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGateway(srv.URL)
}

func TestGatewaySubmit(t *testing.T) {
	g := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		w.Write([]byte(`{"tx_hash":"0xabc"}`))
	})

	hash, err := g.Submit(context.Background(), "TRON", "Taddr", decimal.NewFromInt(10), "")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", hash)
}

func TestGatewaySubmitServerErrorIsRetryable(t *testing.T) {
	g := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := g.Submit(context.Background(), "TRON", "Taddr", decimal.NewFromInt(10), "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGatewaySubmitRejectionIsPermanent(t *testing.T) {
	g := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad address"}`))
	})

	_, err := g.Submit(context.Background(), "TRON", "bogus", decimal.NewFromInt(10), "")
	var se *SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Status)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestGatewayTxStatus(t *testing.T) {
	g := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/0xabc", r.URL.Path)
		w.Write([]byte(`{"confirmations":7,"state":"PENDING"}`))
	})

	confs, state, err := g.TxStatus(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 7, confs)
	assert.Equal(t, StatePending, state)
}

// a just-broadcast tx may 404 until the gateway indexes it; that must read
// as retryable, never as a failure verdict that would release the reservation
func TestGatewayTxStatusNotIndexedYetIsRetryable(t *testing.T) {
	g := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, state, err := g.TxStatus(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotEqual(t, StateFailed, state)
}

func TestGatewayTxStatusServerErrorIsRetryable(t *testing.T) {
	g := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, _, err := g.TxStatus(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrUnavailable)
}
