package domain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

// MicrosPerUnit is the number of stored micros in one unit of the account currency.
const MicrosPerUnit = 1_000_000

var microsPerUnit = decimal.NewFromInt(MicrosPerUnit)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(microsPerUnit)
}

// FromDecimal converts a decimal.Decimal to int64 micros, rounding toward zero.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(microsPerUnit).IntPart()
}

// String renders cents, or the full precision for sub-cent amounts such as
// the per-solve price.
func (m Money) String() string {
	d := m.ToDecimal()
	if d.Equal(d.Round(2)) {
		return fmt.Sprintf("%s %s", d.StringFixed(2), m.Currency)
	}
	return fmt.Sprintf("%s %s", d.String(), m.Currency)
}

// SatsToDecimal expresses a satoshi amount in whole BTC without going through float64.
func SatsToDecimal(amount btcutil.Amount) decimal.Decimal {
	return decimal.New(int64(amount), -8)
}

// ConvertSats prices a native ledger amount in the account currency using rate
// (account currency per 1 BTC). The result is rounded down to the micro.
func ConvertSats(amount btcutil.Amount, rate decimal.Decimal) Money {
	return Money{
		Amount:   FromDecimal(SatsToDecimal(amount).Mul(rate)),
		Currency: AccountCurrency,
	}
}
