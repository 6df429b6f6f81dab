// Package book implements the per-symbol price-time-priority order book:
// limit/market/IOC/FOK/post-only matching, self-trade prevention, and the
// stop shelf. It is grounded on the teacher's internal/engine/orderbook.go,
// which already chose a github.com/tidwall/btree.BTreeG keyed by price
// with a best-first comparator to fix the insertion-ordered-map bug
// spec.md §9 calls out — kept here, generalized from float64 to
// decimal.Decimal and extended with the TIF/post-only/FOK/self-trade
// branches the teacher's FIXMEs mark as unimplemented.
//
// The Book never touches the Ledger: it reports fills as Trade pairs
// (taker, maker, qty, price) and leaves settlement to whoever owns the
// matching step (internal/engine's per-symbol worker), per spec.md §5's
// "settle is issued by the matching task after a successful match is
// determined".
package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

// PriceLevel holds the FIFO queue of resting orders at one price. Queue
// order is arrival order; Book.insert (reached through Place) appends to
// the tail.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*common.Order
}

// TotalQty is the level's advertised depth (spec.md §3 invariant: equals
// the sum of resting remaining quantities).
func (l *PriceLevel) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.Orders {
		total = total.Add(o.Remaining())
	}
	return total
}

type sides = btree.BTreeG[*PriceLevel]

// Book is one symbol's two-sided order book plus its dormant stop shelf.
// It is owned exclusively by its symbol's matching task (spec.md §5);
// nothing else may read or write it concurrently.
type Book struct {
	Symbol common.SymbolConfig

	Bids *sides // best-first descending (highest bid first)
	Asks *sides // best-first ascending (lowest ask first)

	Stops *StopShelf

	// LastPrice is the most recent trade price, the input to stop
	// trigger evaluation (spec.md §4.3).
	LastPrice decimal.Decimal

	nBids int
	nAsks int
}

func NewBook(cfg common.SymbolConfig) *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &Book{
		Symbol: cfg,
		Bids:   bids,
		Asks:   asks,
		Stops:  newStopShelf(),
	}
}

func (b *Book) levels(side common.Side) *sides {
	if side == common.Buy {
		return b.Bids
	}
	return b.Asks
}

// BestBid/BestAsk return the top-of-book price level, if any.
func (b *Book) BestBid() (*PriceLevel, bool) { return b.Bids.MinMut() }
func (b *Book) BestAsk() (*PriceLevel, bool) { return b.Asks.MinMut() }

// NonCrossed reports spec.md §8 invariant 2: best_bid < best_ask, or one
// side is empty.
func (b *Book) NonCrossed() bool {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return true
	}
	return bid.Price.LessThan(ask.Price)
}

// insert appends order to the tail of its price level, creating the
// level if needed.
func (b *Book) insert(order *common.Order) {
	levels := b.levels(order.Side)
	level, ok := levels.GetMut(&PriceLevel{Price: order.Price})
	if ok {
		level.Orders = append(level.Orders, order)
		return
	}
	levels.Set(&PriceLevel{Price: order.Price, Orders: []*common.Order{order}})
	b.bumpCount(order.Side, 1)
}

func (b *Book) bumpCount(side common.Side, delta int) {
	if side == common.Buy {
		b.nBids += delta
	} else {
		b.nAsks += delta
	}
}

// removeLevelIfEmpty deletes a price level once its order queue drains.
func (b *Book) removeLevelIfEmpty(side common.Side, level *PriceLevel) {
	if len(level.Orders) > 0 {
		return
	}
	b.levels(side).Delete(level)
	b.bumpCount(side, -1)
}

// DepthLevels reports how many distinct price levels rest on each side,
// used by internal/engine to set the metrics.BookDepthLevels gauge.
func (b *Book) DepthLevels() (bids, asks int) {
	return b.nBids, b.nAsks
}

// LevelAt looks up the resting level at (side, price), used to emit
// BookDelta events after a level's depth changes.
func (b *Book) LevelAt(side common.Side, price decimal.Decimal) (*PriceLevel, bool) {
	return b.levels(side).GetMut(&PriceLevel{Price: price})
}

// RemoveOrder locates and unlinks a resting order by side/price/id,
// releasing it from its PriceLevel (spec.md §3 Ownership: removal must
// unlink both directions). Used by Cancel.
func (b *Book) RemoveOrder(side common.Side, price decimal.Decimal, orderID string) (*common.Order, bool) {
	levels := b.levels(side)
	level, ok := levels.GetMut(&PriceLevel{Price: price})
	if !ok {
		return nil, false
	}
	for i, o := range level.Orders {
		if o.OrderID != orderID {
			continue
		}
		level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
		b.removeLevelIfEmpty(side, level)
		return o, true
	}
	return nil, false
}

// Snapshot returns best-first price/size pairs for the bus snapshot
// payload (spec.md §6).
func (b *Book) Snapshot() (bids, asks [][2]decimal.Decimal) {
	b.Bids.Scan(func(l *PriceLevel) bool {
		bids = append(bids, [2]decimal.Decimal{l.Price, l.TotalQty()})
		return true
	})
	b.Asks.Scan(func(l *PriceLevel) bool {
		asks = append(asks, [2]decimal.Decimal{l.Price, l.TotalQty()})
		return true
	})
	return bids, asks
}
