package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func stopOrder(user string, side common.Side, stopType common.OrderType, stopPrice string, stopOp common.StopOp) *common.Order {
	sym, _ := common.ParseSymbol("BTC/USDT")
	return &common.Order{
		OrderID:   user + "-stop-" + stopPrice,
		User:      user,
		Symbol:    sym,
		Side:      side,
		Type:      stopType,
		StopPrice: d(stopPrice),
		StopOp:    stopOp,
		Qty:       d("1"),
		Status:    common.Open,
	}
}

func TestStopShelf_FiresOnGTE(t *testing.T) {
	shelf := newStopShelf()
	order := stopOrder("alice", common.Buy, common.StopMarket, "100.00", common.GTE)
	shelf.Place(order)

	assert.Empty(t, shelf.Triggered(d("99.99")))

	fired := shelf.Triggered(d("100.00"))
	require.Len(t, fired, 1)
	assert.Equal(t, order.OrderID, fired[0].Order.OrderID)
	assert.Equal(t, common.Market, fired[0].TriggerType)

	assert.Empty(t, shelf.Triggered(d("100.00")), "already fired, should not re-fire")
}

func TestStopShelf_FiresOnLTE(t *testing.T) {
	shelf := newStopShelf()
	order := stopOrder("alice", common.Sell, common.StopLimit, "90.00", common.LTE)
	shelf.Place(order)

	assert.Empty(t, shelf.Triggered(d("90.01")))
	fired := shelf.Triggered(d("90.00"))
	require.Len(t, fired, 1)
	assert.Equal(t, common.Limit, fired[0].TriggerType)
}

func TestStopShelf_TriggerDirectionIsPerOrder(t *testing.T) {
	shelf := newStopShelf()
	buyStop := stopOrder("alice", common.Buy, common.StopMarket, "100.00", common.LTE)
	shelf.Place(buyStop)

	assert.Empty(t, shelf.Triggered(d("100.01")))
	fired := shelf.Triggered(d("99.00"))
	require.Len(t, fired, 1)
	assert.Equal(t, buyStop.OrderID, fired[0].Order.OrderID)
}

func TestStopShelf_Cancel(t *testing.T) {
	shelf := newStopShelf()
	order := stopOrder("alice", common.Buy, common.StopMarket, "100.00", common.GTE)
	shelf.Place(order)

	removed, ok := shelf.Cancel(common.Buy, d("100.00"), order.OrderID)
	require.True(t, ok)
	assert.Equal(t, order.OrderID, removed.Order.OrderID)

	assert.Empty(t, shelf.Triggered(d("100.00")))
}

func TestStopShelf_ArrivalOrderPreserved(t *testing.T) {
	shelf := newStopShelf()
	first := stopOrder("alice", common.Buy, common.StopMarket, "100.00", common.GTE)
	second := stopOrder("bob", common.Buy, common.StopMarket, "100.00", common.GTE)
	shelf.Place(first)
	shelf.Place(second)

	fired := shelf.Triggered(d("100.00"))
	require.Len(t, fired, 2)
	assert.Equal(t, first.OrderID, fired[0].Order.OrderID)
	assert.Equal(t, second.OrderID, fired[1].Order.OrderID)
}

// Arrival order is shelf-wide, not per side or per price level: a sell
// stop placed first must still fire before a buy stop placed after it,
// even though Triggered's internal drain scans buy-side entries before
// sell-side ones.
func TestStopShelf_ArrivalOrderCutsAcrossSideAndPrice(t *testing.T) {
	shelf := newStopShelf()
	firstSell := stopOrder("alice", common.Sell, common.StopMarket, "120.00", common.LTE)
	secondBuy := stopOrder("bob", common.Buy, common.StopMarket, "100.00", common.GTE)
	thirdBuy := stopOrder("carol", common.Buy, common.StopMarket, "105.00", common.GTE)
	shelf.Place(firstSell)
	shelf.Place(secondBuy)
	shelf.Place(thirdBuy)

	fired := shelf.Triggered(d("110.00"))
	require.Len(t, fired, 3)
	assert.Equal(t, firstSell.OrderID, fired[0].Order.OrderID)
	assert.Equal(t, secondBuy.OrderID, fired[1].Order.OrderID)
	assert.Equal(t, thirdBuy.OrderID, fired[2].Order.OrderID)
}
