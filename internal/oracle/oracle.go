package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
)

// PriceOracle is a read-only rate source. Rates may be stale; callers record
// asOf alongside the computed amounts rather than assuming freshness.
type PriceOracle interface {
	Rate(ctx context.Context, fromCode, toCode string) (rate decimal.Decimal, asOf time.Time, err error)
}

// Static serves rates from a fixed table of per-currency prices quoted in a
// common base. Cross rates are derived as priceFrom / priceTo.
type Static struct {
	prices map[string]decimal.Decimal
	now    func() time.Time
}

func NewStatic(prices map[string]decimal.Decimal) *Static {
	return &Static{prices: prices, now: time.Now}
}

// DefaultPrices mirrors the bootstrap table used before a live oracle is
// wired: base-unit prices per token.
func DefaultPrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"KRWT": decimal.NewFromInt(1),
		"USDT": decimal.NewFromInt(1300),
		"ETH":  decimal.NewFromInt(5000000),
	}
}

func (s *Static) Rate(_ context.Context, fromCode, toCode string) (decimal.Decimal, time.Time, error) {
	from, ok := s.prices[fromCode]
	if !ok {
		return decimal.Zero, time.Time{}, apperr.New(apperr.CodeNotFound, "no rate for "+fromCode)
	}
	to, ok := s.prices[toCode]
	if !ok || to.IsZero() {
		return decimal.Zero, time.Time{}, apperr.New(apperr.CodeNotFound, "no rate for "+toCode)
	}
	return from.Div(to), s.now(), nil
}
