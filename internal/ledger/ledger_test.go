package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

const (
	usdt common.Asset = "USDT"
	btc  common.Asset = "BTC"
)

func TestReserveThenRelease(t *testing.T) {
	l := New()
	l.Credit("alice", usdt, d("1000"), "deposit")

	require.NoError(t, l.Reserve("alice", usdt, d("300")))
	snap := l.Balance("alice", usdt)
	assert.True(t, snap.Available.Equal(d("700")))
	assert.True(t, snap.Reserved.Equal(d("300")))

	require.NoError(t, l.Release("alice", usdt, d("300")))
	snap = l.Balance("alice", usdt)
	assert.True(t, snap.Available.Equal(d("1000")))
	assert.True(t, snap.Reserved.IsZero())
}

func TestReserve_InsufficientFunds(t *testing.T) {
	l := New()
	l.Credit("alice", usdt, d("100"), "deposit")

	err := l.Reserve("alice", usdt, d("200"))
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeInsufficientFunds, apiErr.Code)
}

func TestRelease_UnderflowIsInconsistent(t *testing.T) {
	l := New()
	l.Credit("alice", usdt, d("100"), "deposit")
	require.NoError(t, l.Reserve("alice", usdt, d("50")))

	err := l.Release("alice", usdt, d("100"))
	require.Error(t, err)
	_, ok := err.(*common.InconsistentError)
	assert.True(t, ok)
}

func TestSettle_BuyerTakerMovesBalancesAndFees(t *testing.T) {
	l := New()
	sym := common.Symbol{Base: btc, Quote: usdt}

	l.Credit("bob", usdt, d("10000"), "deposit")
	require.NoError(t, l.Reserve("bob", usdt, d("1001")))

	l.Credit("alice", btc, d("5"), "deposit")
	require.NoError(t, l.Reserve("alice", btc, d("1")))

	err := l.Settle(SettleInput{
		Symbol:       sym,
		BuyerUser:    "bob",
		SellerUser:   "alice",
		BuyerIsTaker: true,
		Price:        d("1000"),
		Quantity:     d("1"),
		TakerFee:     d("1"),
		MakerFee:     d("0.5"),
		FeeAccount:   "house",
	})
	require.NoError(t, err)

	bobQuote := l.Balance("bob", usdt)
	assert.True(t, bobQuote.Reserved.Equal(d("0")), "buyer's full reservation consumed")

	bobBase := l.Balance("bob", btc)
	assert.True(t, bobBase.Available.Equal(d("1")))

	aliceBase := l.Balance("alice", btc)
	assert.True(t, aliceBase.Reserved.IsZero())

	aliceQuote := l.Balance("alice", usdt)
	assert.True(t, aliceQuote.Available.Equal(d("999.5")), "notional minus maker fee")

	house := l.Balance("house", usdt)
	assert.True(t, house.Available.Equal(d("1.5")), "taker fee plus maker fee")
}

func TestSettle_InsufficientReservedIsInconsistent(t *testing.T) {
	l := New()
	sym := common.Symbol{Base: btc, Quote: usdt}

	l.Credit("bob", usdt, d("50"), "deposit")
	require.NoError(t, l.Reserve("bob", usdt, d("50")))
	l.Credit("alice", btc, d("1"), "deposit")
	require.NoError(t, l.Reserve("alice", btc, d("1")))

	err := l.Settle(SettleInput{
		Symbol:       sym,
		BuyerUser:    "bob",
		SellerUser:   "alice",
		BuyerIsTaker: true,
		Price:        d("1000"),
		Quantity:     d("1"),
		TakerFee:     d("0"),
		MakerFee:     d("0"),
	})
	require.Error(t, err)
	_, ok := err.(*common.InconsistentError)
	assert.True(t, ok)
}
