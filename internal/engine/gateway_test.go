package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/collab"
	"fenrir/internal/common"
	"fenrir/internal/ledger"
	"fenrir/internal/publish"
)

type noopSink struct{}

func (noopSink) Publish(publish.Event) {}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testSymbolConfig() common.SymbolConfig {
	sym, _ := common.ParseSymbol("BTC/USDT")
	return common.SymbolConfig{
		Symbol:       sym,
		PriceTick:    d("0.01"),
		QtyStep:      d("0.001"),
		TakerFeeRate: d("0.001"),
		MakerFeeRate: d("0.0005"),
	}
}

func newTestGateway(t *testing.T, rateLimit rate.Limit, rateBurst int) (*Gateway, *ledger.Ledger) {
	t.Helper()
	var tb tomb.Tomb
	led := ledger.New()
	pub := publish.NewPublisher(noopSink{}, func() int64 { return time.Now().UnixNano() })
	gw := NewGateway(&tb, []Config{{Symbol: testSymbolConfig(), QueueSize: 16}}, led, pub, nil, "house", rateLimit, rateBurst, func() int64 { return time.Now().UnixNano() })
	t.Cleanup(func() {
		tb.Kill(nil)
		tb.Wait()
	})
	return gw, led
}

func newTestGatewayWithKyc(t *testing.T, kyc collab.KycPolicy) (*Gateway, *ledger.Ledger) {
	t.Helper()
	var tb tomb.Tomb
	led := ledger.New()
	pub := publish.NewPublisher(noopSink{}, func() int64 { return time.Now().UnixNano() })
	gw := NewGateway(&tb, []Config{{Symbol: testSymbolConfig(), QueueSize: 16}}, led, pub, kyc, "house", 0, 0, func() int64 { return time.Now().UnixNano() })
	t.Cleanup(func() {
		tb.Kill(nil)
		tb.Wait()
	})
	return gw, led
}

func newOrder(user string, side common.Side, orderType common.OrderType, price, qty string) *common.Order {
	sym, _ := common.ParseSymbol("BTC/USDT")
	return &common.Order{
		OrderID:  user + "-" + side.String() + "-" + price,
		User:     user,
		Symbol:   sym,
		Side:     side,
		Type:     orderType,
		Price:    d(price),
		Qty:      d(qty),
		TIF:      common.GTC,
		Leverage: 1,
	}
}

func TestSubmit_RestingLimitOrderReservesFunds(t *testing.T) {
	gw, led := newTestGateway(t, 0, 0)
	led.Credit("bob", "USDT", d("1000"), "deposit")

	order := newOrder("bob", common.Buy, common.Limit, "100.00", "1")
	placed, err := gw.Submit(order)
	require.NoError(t, err)
	assert.Equal(t, common.Open, placed.Status)

	snap := led.Balance("bob", "USDT")
	assert.True(t, snap.Reserved.GreaterThan(d("100.00")), "reservation should include the fee buffer")
	assert.True(t, snap.Available.LessThan(d("900.00")))
}

func TestSubmit_MatchAcrossTwoOrders(t *testing.T) {
	gw, led := newTestGateway(t, 0, 0)
	led.Credit("alice", "BTC", d("5"), "deposit")
	led.Credit("bob", "USDT", d("1000"), "deposit")

	maker := newOrder("alice", common.Sell, common.Limit, "100.00", "1")
	_, err := gw.Submit(maker)
	require.NoError(t, err)

	taker := newOrder("bob", common.Buy, common.Limit, "100.00", "1")
	placed, err := gw.Submit(taker)
	require.NoError(t, err)
	assert.Equal(t, common.Filled, placed.Status)

	queried, ok := gw.Query(maker.OrderID)
	require.True(t, ok)
	assert.Equal(t, common.Filled, queried.Status)
}

func TestSubmit_InsufficientFunds(t *testing.T) {
	gw, _ := newTestGateway(t, 0, 0)
	order := newOrder("bob", common.Buy, common.Limit, "100.00", "1")
	_, err := gw.Submit(order)
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeInsufficientFunds, apiErr.Code)
}

func TestSubmit_DuplicateClientOrderID(t *testing.T) {
	gw, led := newTestGateway(t, 0, 0)
	led.Credit("bob", "USDT", d("1000"), "deposit")

	first := newOrder("bob", common.Buy, common.Limit, "100.00", "0.1")
	first.ClientOrderID = "cid-1"
	_, err := gw.Submit(first)
	require.NoError(t, err)

	second := newOrder("bob", common.Buy, common.Limit, "99.00", "0.1")
	second.ClientOrderID = "cid-1"
	_, err = gw.Submit(second)
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeDuplicateClientOrderID, apiErr.Code)
	assert.Equal(t, first.OrderID, apiErr.OrderID)
}

func TestCancel_ReleasesReservation(t *testing.T) {
	gw, led := newTestGateway(t, 0, 0)
	led.Credit("bob", "USDT", d("1000"), "deposit")

	order := newOrder("bob", common.Buy, common.Limit, "100.00", "1")
	_, err := gw.Submit(order)
	require.NoError(t, err)

	cancelled, err := gw.Cancel("bob", order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)

	snap := led.Balance("bob", "USDT")
	assert.True(t, snap.Reserved.IsZero())
	assert.True(t, snap.Available.Equal(d("1000")))
}

func TestCancel_UnauthorizedUser(t *testing.T) {
	gw, led := newTestGateway(t, 0, 0)
	led.Credit("bob", "USDT", d("1000"), "deposit")

	order := newOrder("bob", common.Buy, common.Limit, "100.00", "1")
	_, err := gw.Submit(order)
	require.NoError(t, err)

	_, err = gw.Cancel("eve", order.OrderID)
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeUnauthorized, apiErr.Code)
}

func TestSubmit_KycLeverageLimitRejected(t *testing.T) {
	kyc := collab.NewInMemory()
	kyc.SetLimits("bob", collab.TradingLimits{MaxLeverage: 3})
	gw, led := newTestGatewayWithKyc(t, kyc)
	led.Credit("bob", "USDT", d("1000"), "deposit")

	order := newOrder("bob", common.Buy, common.Limit, "100.00", "1")
	order.Leverage = 5
	_, err := gw.Submit(order)
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeUnauthorized, apiErr.Code)
}

func TestSubmit_KycNotionalLimitRejected(t *testing.T) {
	kyc := collab.NewInMemory()
	kyc.SetLimits("bob", collab.TradingLimits{MaxOrderNotional: d("50")})
	gw, led := newTestGatewayWithKyc(t, kyc)
	led.Credit("bob", "USDT", d("1000"), "deposit")

	order := newOrder("bob", common.Buy, common.Limit, "100.00", "1")
	_, err := gw.Submit(order)
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeUnauthorized, apiErr.Code)
}

func TestSubmit_RateLimited(t *testing.T) {
	gw, led := newTestGateway(t, rate.Limit(0), 1)
	led.Credit("bob", "USDT", d("1000"), "deposit")

	order := newOrder("bob", common.Buy, common.Limit, "100.00", "0.1")
	_, err := gw.Submit(order)
	require.NoError(t, err, "first request consumes the single burst token")

	second := newOrder("bob", common.Buy, common.Limit, "99.00", "0.1")
	_, err = gw.Submit(second)
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeRateLimited, apiErr.Code)
}

func TestBookSnapshot(t *testing.T) {
	gw, led := newTestGateway(t, 0, 0)
	led.Credit("alice", "BTC", d("5"), "deposit")

	order := newOrder("alice", common.Sell, common.Limit, "100.00", "1")
	_, err := gw.Submit(order)
	require.NoError(t, err)

	bids, asks, ok := gw.BookSnapshot("BTC/USDT")
	require.True(t, ok)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.Equal(t, "100", asks[0][0])
}
