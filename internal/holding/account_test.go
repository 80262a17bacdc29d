package holding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrices map[string]float64

func (p staticPrices) Price(symbol string) (float64, bool) {
	v, ok := p[symbol]
	return v, ok
}

func TestAccount_RoundTrip(t *testing.T) {
	prices := staticPrices{"BTC": 100}
	acct, err := NewAccount(AccountConfig{Symbols: []string{"BTC"}, InitialBalance: 1000}, prices)
	require.NoError(t, err)

	acct.Submit(Order{Symbol: "BTC", Side: SideBuy, Fraction: 1})
	acct.FillPending(1, prices.Price)

	pos, ok := acct.Position("BTC")
	require.True(t, ok)
	assert.InDelta(t, 10.0, pos.Quantity, 1e-12)

	prices["BTC"] = 120
	require.NoError(t, acct.OnBar(context.Background(), 2))
	assert.InDelta(t, 1200.0, acct.Holding("BTC").Equity().Current, 1e-9)
	assert.InDelta(t, 1000.0, acct.Holding("BTC").Balance().Current, 1e-9, "unrealized gains stay out of balance")

	acct.Submit(Order{Symbol: "BTC", Side: SideSell})
	acct.FillPending(3, prices.Price)

	_, ok = acct.Position("BTC")
	assert.False(t, ok)
	assert.InDelta(t, 1200.0, acct.Total().Balance().Current, 1e-9)
	require.Len(t, acct.Trades(), 2)
	assert.InDelta(t, 200.0, acct.Trades()[1].PnL, 1e-9)
}

func TestAccount_FeesReduceBalance(t *testing.T) {
	prices := staticPrices{"BTC": 50}
	acct, err := NewAccount(AccountConfig{Symbols: []string{"BTC"}, InitialBalance: 1000, FeeRate: 0.001}, prices)
	require.NoError(t, err)

	acct.Submit(Order{Symbol: "BTC", Side: SideBuy, Fraction: 0.5})
	acct.FillPending(1, prices.Price)

	assert.InDelta(t, 1000-0.5, acct.Holding("BTC").Balance().Current, 1e-9)
}

func TestAccount_AbortStopsTrading(t *testing.T) {
	prices := staticPrices{"BTC": 100, "ETH": 10}
	acct, err := NewAccount(AccountConfig{
		Symbols:        []string{"BTC", "ETH"},
		InitialBalance: 2000,
		Protection:     &ProtectionPolicy{MaxBalanceDrawdown: 0.3},
	}, prices)
	require.NoError(t, err)

	acct.Submit(Order{Symbol: "BTC", Side: SideBuy, Fraction: 1})
	acct.FillPending(1, prices.Price)
	prices["BTC"] = 50
	acct.Submit(Order{Symbol: "BTC", Side: SideSell})
	acct.FillPending(2, prices.Price) // BTC holding loses half

	require.True(t, acct.Aborted())
	reason, sym := acct.AbortReason()
	assert.Equal(t, AbortBalanceDrawdown, reason)
	assert.Equal(t, "BTC", sym)

	acct.Submit(Order{Symbol: "ETH", Side: SideBuy, Fraction: 1})
	acct.FillPending(3, prices.Price)
	_, open := acct.Position("ETH")
	assert.False(t, open, "aborted accounts do not trade")
}

func TestNewAccount_Validation(t *testing.T) {
	_, err := NewAccount(AccountConfig{InitialBalance: 100}, staticPrices{})
	assert.Error(t, err)

	_, err = NewAccount(AccountConfig{Symbols: []string{"A"}, InitialBalance: 0}, staticPrices{})
	assert.Error(t, err)

	_, err = NewAccount(AccountConfig{Symbols: []string{"A", "A"}, InitialBalance: 10}, staticPrices{})
	assert.Error(t, err)
}
