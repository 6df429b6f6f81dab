package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the authoritative in-memory representation the Book owns once
// accepted (spec.md §3 Ownership). Identity fields never change after
// creation; the rest evolves as fills/cancels are applied.
type Order struct {
	OrderID       string
	ClientOrderID string
	User          string

	Symbol Symbol
	Side   Side
	Type   OrderType

	Price     decimal.Decimal // required for Limit/StopLimit
	StopPrice decimal.Decimal // required for Stop*
	StopRef   StopReference
	StopOp    StopOp

	Qty          decimal.Decimal // original requested quantity
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal

	// QuoteBudget bounds a market buy's notional spend (spec.md §4.3).
	QuoteBudget decimal.Decimal

	PostOnly   bool
	ReduceOnly bool
	TIF        TimeInForce
	GoodTilNs  int64 // 0 = no expiry; evaluated at queue head (spec.md §5)
	Leverage   int   // 1-100 (spec.md §4.2); margin/liquidation are out of scope, only the bound is enforced
	Status     OrderStatus

	CreatedSeq int64 // monotonic per symbol, assigned by the Gateway
	CreatedAt  time.Time
}

// Remaining is the quantity still eligible to match or rest.
func (o *Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// ApplyFill updates filled quantity and the running average fill price.
// Average price is a running weighted mean: no trade resets it.
func (o *Order) ApplyFill(qty, price decimal.Decimal) {
	if qty.IsZero() {
		return
	}
	priorFilled := o.FilledQty
	newFilled := priorFilled.Add(qty)
	if newFilled.IsZero() {
		o.FilledQty = newFilled
		return
	}
	priorNotional := o.AvgFillPrice.Mul(priorFilled)
	newNotional := priorNotional.Add(price.Mul(qty))
	o.AvgFillPrice = newNotional.Div(newFilled)
	o.FilledQty = newFilled

	if o.FilledQty.GreaterThanOrEqual(o.Qty) {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

// Trade is a single matched fill between a taker and a maker order,
// exactly as spec.md §3 describes.
type Trade struct {
	TradeID string
	Symbol  Symbol

	Price    decimal.Decimal
	Quantity decimal.Decimal

	TakerOrderID string
	MakerOrderID string
	TakerUser    string
	MakerUser    string

	TakerFee decimal.Decimal
	MakerFee decimal.Decimal

	Seq         int64
	TimestampNs int64
}

// StopOrder is a dormant record on the Stop shelf, resubmitted as an
// ordinary Limit/Market intent once its trigger condition fires
// (spec.md §3/§4.3).
type StopOrder struct {
	Order Order

	// TriggerType is the order type this stop becomes on firing:
	// Limit for StopLimit, Market for StopMarket.
	TriggerType OrderType

	// ShelfSeq preserves shelf-arrival order for deterministic
	// re-submission order (spec.md §4.3).
	ShelfSeq int64
}
