package oracle

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korilabs/coin-ledger/internal/apperr"
)

func TestStaticCrossRate(t *testing.T) {
	o := NewStatic(map[string]decimal.Decimal{
		"USDT": decimal.NewFromInt(1300),
		"KRWT": decimal.NewFromInt(1),
	})

	rate, asOf, err := o.Rate(context.Background(), "USDT", "KRWT")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1300)))
	assert.False(t, asOf.IsZero())

	inverse, _, err := o.Rate(context.Background(), "KRWT", "USDT")
	require.NoError(t, err)
	assert.True(t, inverse.Equal(decimal.NewFromInt(1).Div(decimal.NewFromInt(1300))))
}

func TestStaticUnknownCurrency(t *testing.T) {
	o := NewStatic(DefaultPrices())

	_, _, err := o.Rate(context.Background(), "NOPE", "USDT")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, _, err = o.Rate(context.Background(), "USDT", "NOPE")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
