package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func testConfig() common.SymbolConfig {
	sym, _ := common.ParseSymbol("BTC/USDT")
	return common.SymbolConfig{
		Symbol:    sym,
		PriceTick: decimal.NewFromFloat(0.01),
		QtyStep:   decimal.NewFromFloat(0.001),
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func limitOrder(user string, side common.Side, price, qty string) *common.Order {
	sym, _ := common.ParseSymbol("BTC/USDT")
	return &common.Order{
		OrderID: user + "-" + side.String() + "-" + price,
		User:    user,
		Symbol:  sym,
		Side:    side,
		Type:    common.Limit,
		Price:   d(price),
		Qty:     d(qty),
		TIF:     common.GTC,
		Status:  common.Open,
	}
}

func TestPlaceLimit_RestsWhenNoCross(t *testing.T) {
	b := NewBook(testConfig())
	order := limitOrder("alice", common.Buy, "100.00", "1")
	outcome := b.Place(order)

	assert.Empty(t, outcome.Fills)
	assert.True(t, outcome.Resting)
	assert.Equal(t, common.Open, order.Status)

	level, ok := b.LevelAt(common.Buy, d("100.00"))
	require.True(t, ok)
	assert.Len(t, level.Orders, 1)
}

func TestPlaceLimit_MatchesRestingOrder(t *testing.T) {
	b := NewBook(testConfig())
	maker := limitOrder("alice", common.Sell, "100.00", "1")
	b.Place(maker)

	taker := limitOrder("bob", common.Buy, "100.00", "1")
	outcome := b.Place(taker)

	require.Len(t, outcome.Fills, 1)
	fill := outcome.Fills[0]
	assert.True(t, fill.Qty.Equal(d("1")))
	assert.True(t, fill.Price.Equal(d("100.00")))
	assert.Equal(t, common.Filled, taker.Status)
	assert.Equal(t, common.Filled, maker.Status)
	assert.False(t, outcome.Resting)
}

func TestPlaceLimit_PriceImprovementGoesToTaker(t *testing.T) {
	b := NewBook(testConfig())
	maker := limitOrder("alice", common.Sell, "99.50", "1")
	b.Place(maker)

	taker := limitOrder("bob", common.Buy, "100.00", "1")
	outcome := b.Place(taker)

	require.Len(t, outcome.Fills, 1)
	assert.True(t, outcome.Fills[0].Price.Equal(d("99.50")))
}

func TestPlaceLimit_SweepsMultipleLevels(t *testing.T) {
	b := NewBook(testConfig())
	b.Place(limitOrder("alice", common.Sell, "100.00", "1"))
	b.Place(limitOrder("alice", common.Sell, "101.00", "1"))

	taker := limitOrder("bob", common.Buy, "101.00", "1.5")
	outcome := b.Place(taker)

	require.Len(t, outcome.Fills, 2)
	assert.True(t, outcome.Fills[0].Price.Equal(d("100.00")))
	assert.True(t, outcome.Fills[0].Qty.Equal(d("1")))
	assert.True(t, outcome.Fills[1].Price.Equal(d("101.00")))
	assert.True(t, outcome.Fills[1].Qty.Equal(d("0.5")))

	level, ok := b.LevelAt(common.Sell, d("101.00"))
	require.True(t, ok)
	assert.True(t, level.Orders[0].Remaining().Equal(d("0.5")))
}

func TestPlaceLimit_SelfTradePreventedCancelsMaker(t *testing.T) {
	b := NewBook(testConfig())
	maker := limitOrder("alice", common.Sell, "100.00", "1")
	b.Place(maker)

	taker := limitOrder("alice", common.Buy, "100.00", "1")
	outcome := b.Place(taker)

	assert.Empty(t, outcome.Fills)
	require.Len(t, outcome.SelfTradePrevented, 1)
	assert.Equal(t, maker.OrderID, outcome.SelfTradePrevented[0].OrderID)
	assert.Equal(t, common.Cancelled, maker.Status)
	assert.True(t, outcome.Resting)
	_, ok := b.LevelAt(common.Sell, d("100.00"))
	assert.False(t, ok)
}

func TestPlaceLimit_PostOnlyRejectsWhenCrossing(t *testing.T) {
	b := NewBook(testConfig())
	b.Place(limitOrder("alice", common.Sell, "100.00", "1"))

	taker := limitOrder("bob", common.Buy, "100.00", "1")
	taker.PostOnly = true
	outcome := b.Place(taker)

	require.NotNil(t, outcome.Rejected)
	assert.Equal(t, common.CodeWouldCross, outcome.Rejected.Code)
	assert.Equal(t, common.Rejected, taker.Status)
}

func TestPlaceLimit_IOCCancelsRemainder(t *testing.T) {
	b := NewBook(testConfig())
	b.Place(limitOrder("alice", common.Sell, "100.00", "0.5"))

	taker := limitOrder("bob", common.Buy, "100.00", "1")
	taker.TIF = common.TIFIOC
	outcome := b.Place(taker)

	require.Len(t, outcome.Fills, 1)
	assert.Equal(t, common.Cancelled, taker.Status)
	assert.False(t, outcome.Resting)
}

func TestPlaceLimit_FOKRejectsWhenNotFullyFillable(t *testing.T) {
	b := NewBook(testConfig())
	b.Place(limitOrder("alice", common.Sell, "100.00", "0.5"))

	taker := limitOrder("bob", common.Buy, "100.00", "1")
	taker.TIF = common.TIFFOK
	outcome := b.Place(taker)

	require.NotNil(t, outcome.Rejected)
	assert.Equal(t, common.CodeWouldNotFill, outcome.Rejected.Code)
	assert.Empty(t, outcome.Fills)

	level, ok := b.LevelAt(common.Sell, d("100.00"))
	require.True(t, ok)
	assert.True(t, level.Orders[0].Remaining().Equal(d("0.5")))
}

func TestPlaceLimit_FOKFillsWhenFullyFillable(t *testing.T) {
	b := NewBook(testConfig())
	b.Place(limitOrder("alice", common.Sell, "100.00", "1"))

	taker := limitOrder("bob", common.Buy, "100.00", "1")
	taker.TIF = common.TIFFOK
	outcome := b.Place(taker)

	assert.Nil(t, outcome.Rejected)
	require.Len(t, outcome.Fills, 1)
	assert.Equal(t, common.Filled, taker.Status)
}

func TestPlaceMarket_BuyBoundedByQuoteBudget(t *testing.T) {
	b := NewBook(testConfig())
	b.Place(limitOrder("alice", common.Sell, "100.00", "2"))

	sym, _ := common.ParseSymbol("BTC/USDT")
	taker := &common.Order{
		OrderID:     "bob-market",
		User:        "bob",
		Symbol:      sym,
		Side:        common.Buy,
		Type:        common.Market,
		Qty:         d("2"),
		QuoteBudget: d("150.00"),
		Status:      common.Open,
	}
	outcome := b.Place(taker)

	require.Len(t, outcome.Fills, 1)
	assert.True(t, outcome.Fills[0].Qty.Equal(d("1.5")))
	assert.Equal(t, common.Cancelled, taker.Status)
}

func TestRemoveOrder_UnlinksFromLevel(t *testing.T) {
	b := NewBook(testConfig())
	order := limitOrder("alice", common.Buy, "100.00", "1")
	b.Place(order)

	removed, ok := b.RemoveOrder(common.Buy, d("100.00"), order.OrderID)
	require.True(t, ok)
	assert.Equal(t, order.OrderID, removed.OrderID)

	_, stillThere := b.LevelAt(common.Buy, d("100.00"))
	assert.False(t, stillThere)

	_, ok = b.RemoveOrder(common.Buy, d("100.00"), order.OrderID)
	assert.False(t, ok)
}

func TestNonCrossed(t *testing.T) {
	b := NewBook(testConfig())
	assert.True(t, b.NonCrossed())

	b.Place(limitOrder("alice", common.Buy, "99.00", "1"))
	b.Place(limitOrder("alice", common.Sell, "100.00", "1"))
	assert.True(t, b.NonCrossed())
}
