// README: Money parsing tests.
package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCLP(t *testing.T) {
	m, err := ParseCLP("15990.5")
	require.NoError(t, err)
	assert.True(t, m.Amount.Equal(decimal.RequireFromString("15990.50")))
	assert.Equal(t, CurrencyCLP, m.Currency)

	m, err = ParseCLP("0.004")
	require.NoError(t, err)
	assert.Equal(t, "0", m.Amount.String())

	_, err = ParseCLP("-1")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ParseCLP("quince mil")
	assert.Error(t, err)
}

func TestCLP_RoundsToCents(t *testing.T) {
	m := CLP(decimal.RequireFromString("15990.505"))
	assert.Equal(t, "15990.51", m.Amount.String())
	assert.Equal(t, CurrencyCLP, m.Currency)
}
