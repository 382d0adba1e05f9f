// Package price answers "how many account-currency units is one BTC worth".
package price

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNoQuote = errors.New("price: no quote")

// Provider fetches a live BTC quote. It may fail.
type Provider interface {
	Name() string
	BTCPrice(ctx context.Context, fiat string) (decimal.Decimal, error)
}

// Oracle always answers with a usable rate.
type Oracle interface {
	SpotRate(ctx context.Context) decimal.Decimal
}

// Static is a Provider that always quotes the same rate.
type Static struct {
	Rate decimal.Decimal
}

func (s Static) Name() string { return "static" }

func (s Static) BTCPrice(context.Context, string) (decimal.Decimal, error) {
	if !s.Rate.IsPositive() {
		return decimal.Zero, ErrNoQuote
	}
	return s.Rate, nil
}
