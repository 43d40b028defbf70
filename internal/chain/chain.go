package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable marks a transient chain-side failure; submissions hitting it
// are retried up to the configured ceiling.
var ErrUnavailable = errors.New("chain unavailable")

type TxState string

const (
	StatePending   TxState = "PENDING"
	StateConfirmed TxState = "CONFIRMED"
	StateFailed    TxState = "FAILED"
)

// Client is the external-chain boundary. The node integration behind it is
// out of scope; this service only submits and polls.
type Client interface {
	Submit(ctx context.Context, chain, toAddress string, amount decimal.Decimal, memo string) (txHash string, err error)
	TxStatus(ctx context.Context, txHash string) (confirmations int, state TxState, err error)
}
