// README: Money value object (exact decimal amounts, CLP by default).
package types

import (
	"errors"

	"github.com/shopspring/decimal"
)

const CurrencyCLP = "CLP"

var ErrNegativeAmount = errors.New("amount must not be negative")

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func CLP(amount decimal.Decimal) Money {
	return Money{Amount: amount.Round(2), Currency: CurrencyCLP}
}

// ParseCLP accepts values like "15990" or "15990.50".
func ParseCLP(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	if d.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return CLP(d), nil
}
