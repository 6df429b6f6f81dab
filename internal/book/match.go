package book

import (
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// Fill is one matched pair produced by a single call to Place. The
// incoming order is always the taker, the resting order always the
// maker (spec.md §9's resolution of the source's inconsistent fee
// assignment) — price is always the maker's resting price, i.e.
// price-improvement goes to the taker (spec.md §4.3).
type Fill struct {
	TakerOrder *common.Order
	MakerOrder *common.Order
	Qty        decimal.Decimal
	Price      decimal.Decimal
}

// MatchOutcome is everything one Place call produced: zero or more
// fills, any self-trade-prevented cancellations, or a synchronous
// rejection (post-only/FOK) that touched nothing.
type MatchOutcome struct {
	Fills              []Fill
	SelfTradePrevented []*common.Order
	Rejected           *common.APIError

	// Resting is true if the incoming order (partially or fully
	// unfilled) now sits on the book.
	Resting bool

	// TradedLastPrice/LastPrice report the most recent fill price, the
	// stop shelf's trigger input (spec.md §4.3).
	TradedLastPrice bool
	LastPrice       decimal.Decimal
}

// Place routes an order to its matching behavior. Stop orders are never
// placed directly — the engine resubmits a triggered stop as an ordinary
// Limit or Market intent (spec.md §3/§4.3).
func (b *Book) Place(order *common.Order) *MatchOutcome {
	if order.Type == common.Market {
		return b.placeMarket(order)
	}
	return b.placeLimit(order)
}

func (b *Book) placeLimit(order *common.Order) *MatchOutcome {
	if order.PostOnly && b.wouldCross(order) {
		order.Status = common.Rejected
		return &MatchOutcome{Rejected: common.NewAPIError(common.CodeWouldCross, "post_only order would cross the book")}
	}

	if order.TIF == common.TIFFOK {
		if !b.probeFillable(order, nil) {
			order.Status = common.Rejected
			return &MatchOutcome{Rejected: common.NewAPIError(common.CodeWouldNotFill, "fok order cannot be fully filled")}
		}
	}

	guard := limitPriceGuard(order)
	fills, stp := b.walk(order, guard, nil)
	outcome := outcomeFromWalk(fills, stp)

	if order.Remaining().IsZero() {
		order.Status = common.Filled
		return outcome
	}

	if order.TIF == common.TIFIOC || order.TIF == common.TIFFOK {
		order.Status = common.Cancelled
		return outcome
	}

	b.insert(order)
	outcome.Resting = true
	return outcome
}

func (b *Book) placeMarket(order *common.Order) *MatchOutcome {
	var budget *decimal.Decimal
	if order.Side == common.Buy {
		b := order.QuoteBudget
		budget = &b
	}

	fills, stp := b.walk(order, nil, budget)
	outcome := outcomeFromWalk(fills, stp)

	if order.Remaining().IsZero() {
		order.Status = common.Filled
	} else {
		// Market orders never rest; any remainder is cancelled
		// (spec.md §4.3) regardless of how much filled first.
		order.Status = common.Cancelled
	}
	return outcome
}

func outcomeFromWalk(fills []Fill, stp []*common.Order) *MatchOutcome {
	outcome := &MatchOutcome{Fills: fills, SelfTradePrevented: stp}
	if len(fills) > 0 {
		outcome.TradedLastPrice = true
		outcome.LastPrice = fills[len(fills)-1].Price
	}
	return outcome
}

// limitPriceGuard returns the stop predicate for walking the opposite
// side of a priced (Limit/IOC/FOK) order: true once makerPrice is no
// longer marketable against the taker's limit. Equal prices still match
// (spec.md §4.3 inclusive boundary).
func limitPriceGuard(order *common.Order) func(decimal.Decimal) bool {
	limit := order.Price
	if order.Side == common.Buy {
		return func(makerPrice decimal.Decimal) bool { return makerPrice.GreaterThan(limit) }
	}
	return func(makerPrice decimal.Decimal) bool { return makerPrice.LessThan(limit) }
}

// wouldCross reports whether a post-only order's price is marketable
// against the current top of the opposite book (spec.md §4.3).
func (b *Book) wouldCross(order *common.Order) bool {
	var best *PriceLevel
	var ok bool
	if order.Side == common.Buy {
		best, ok = b.BestAsk()
	} else {
		best, ok = b.BestBid()
	}
	if !ok {
		return false
	}
	guard := limitPriceGuard(order)
	return !guard(best.Price)
}

// probeFillable sums available opposite-side liquidity (skipping
// self-trades, respecting a market buy's quote budget) without mutating
// the book, to decide FOK atomicity before executing (spec.md §4.3).
func (b *Book) probeFillable(order *common.Order, quoteBudget *decimal.Decimal) bool {
	side := order.Side.Opposite()
	levels := b.levels(side)

	var guard func(decimal.Decimal) bool
	if order.Type != common.Market {
		guard = limitPriceGuard(order)
	}

	var remainingBudget *decimal.Decimal
	if quoteBudget != nil {
		cp := *quoteBudget
		remainingBudget = &cp
	}

	need := order.Remaining()
	available := decimal.Zero

	levels.Scan(func(level *PriceLevel) bool {
		if guard != nil && guard(level.Price) {
			return false
		}
		for _, maker := range level.Orders {
			if maker.User == order.User {
				continue
			}
			qty := maker.Remaining()
			if remainingBudget != nil {
				maxQty := remainingBudget.Div(level.Price)
				if qty.GreaterThan(maxQty) {
					qty = maxQty
				}
				if qty.LessThanOrEqual(decimal.Zero) {
					return false
				}
				*remainingBudget = remainingBudget.Sub(qty.Mul(level.Price))
			}
			available = available.Add(qty)
			if available.GreaterThanOrEqual(need) {
				return false
			}
		}
		return true
	})

	return available.GreaterThanOrEqual(need)
}

// walk sweeps the opposite side from best toward worse, matching the
// taker against resting makers in price-time priority. priceGuard is nil
// for unconditional (market) walks. quoteBudget, when non-nil, bounds a
// market buy's total notional spend and is depleted as fills occur.
// Same-user matches are cancelled (maker side) rather than traded,
// implementing self-trade prevention (spec.md §4.3).
func (b *Book) walk(taker *common.Order, priceGuard func(decimal.Decimal) bool, quoteBudget *decimal.Decimal) ([]Fill, []*common.Order) {
	var fills []Fill
	var stp []*common.Order

	side := taker.Side.Opposite()
	levels := b.levels(side)

outer:
	for !taker.Remaining().IsZero() {
		level, ok := levels.MinMut()
		if !ok {
			break
		}
		if priceGuard != nil && priceGuard(level.Price) {
			break
		}

		idx := 0
		for idx < len(level.Orders) {
			maker := level.Orders[idx]

			if maker.User == taker.User {
				level.Orders = append(level.Orders[:idx], level.Orders[idx+1:]...)
				maker.Status = common.Cancelled
				stp = append(stp, maker)
				continue
			}

			matchQty := decimal.Min(taker.Remaining(), maker.Remaining())
			if quoteBudget != nil {
				maxQty := quoteBudget.Div(level.Price)
				if matchQty.GreaterThan(maxQty) {
					matchQty = maxQty
				}
				if matchQty.LessThanOrEqual(decimal.Zero) {
					b.removeLevelIfEmpty(side, level)
					break outer
				}
			}

			fills = append(fills, Fill{TakerOrder: taker, MakerOrder: maker, Qty: matchQty, Price: level.Price})
			taker.ApplyFill(matchQty, level.Price)
			maker.ApplyFill(matchQty, level.Price)
			if quoteBudget != nil {
				*quoteBudget = quoteBudget.Sub(matchQty.Mul(level.Price))
			}

			if maker.Remaining().IsZero() {
				level.Orders = append(level.Orders[:idx], level.Orders[idx+1:]...)
				continue
			}
			idx++
			if taker.Remaining().IsZero() {
				break
			}
		}
		b.removeLevelIfEmpty(side, level)
	}

	return fills, stp
}
