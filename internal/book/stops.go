package book

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

// stopLevel groups every dormant stop that shares a (side, stop_price),
// arrival-ordered, the same way PriceLevel groups resting orders.
type stopLevel struct {
	Price   decimal.Decimal
	Entries []*common.StopOrder
}

// StopShelf holds stop orders that sit outside the matching book until a
// last-price move satisfies their own stop_op (spec.md §3/§4.3). Each
// order carries its own GTE/LTE comparison rather than one inferred from
// side, so a shelf is evaluated by scanning every resting entry against
// the new price on each trigger check.
type StopShelf struct {
	buySide  *btree.BTreeG[*stopLevel]
	sellSide *btree.BTreeG[*stopLevel]
	nextSeq  int64
}

func newStopShelf() *StopShelf {
	byPrice := func(a, b *stopLevel) bool { return a.Price.LessThan(b.Price) }
	return &StopShelf{
		buySide:  btree.NewBTreeG(byPrice),
		sellSide: btree.NewBTreeG(byPrice),
	}
}

func (s *StopShelf) levels(side common.Side) *btree.BTreeG[*stopLevel] {
	if side == common.Buy {
		return s.buySide
	}
	return s.sellSide
}

// Place adds a dormant stop order to the shelf. triggerType is the order
// type it becomes once it fires (StopLimit -> Limit, StopMarket ->
// Market).
func (s *StopShelf) Place(order *common.Order) {
	triggerType := common.Limit
	if order.Type == common.StopMarket {
		triggerType = common.Market
	}

	s.nextSeq++
	entry := &common.StopOrder{Order: *order, TriggerType: triggerType, ShelfSeq: s.nextSeq}

	levels := s.levels(order.Side)
	level, ok := levels.GetMut(&stopLevel{Price: order.StopPrice})
	if ok {
		level.Entries = append(level.Entries, entry)
		return
	}
	levels.Set(&stopLevel{Price: order.StopPrice, Entries: []*common.StopOrder{entry}})
}

// Cancel removes a dormant stop by side/stop_price/order_id.
func (s *StopShelf) Cancel(side common.Side, stopPrice decimal.Decimal, orderID string) (*common.StopOrder, bool) {
	levels := s.levels(side)
	level, ok := levels.GetMut(&stopLevel{Price: stopPrice})
	if !ok {
		return nil, false
	}
	for i, e := range level.Entries {
		if e.Order.OrderID != orderID {
			continue
		}
		level.Entries = append(level.Entries[:i], level.Entries[i+1:]...)
		if len(level.Entries) == 0 {
			levels.Delete(level)
		}
		return e, true
	}
	return nil, false
}

// Triggered reports every stop (either side) whose own stop_op is
// satisfied by the new last price, removing it from the shelf. The
// result is ordered by ShelfSeq, the order each stop was placed on the
// shelf, so the engine resubmits them in true shelf-arrival order
// (spec.md §4.3) regardless of which side or price level they sat at.
func (s *StopShelf) Triggered(lastPrice decimal.Decimal) []*common.StopOrder {
	var fired []*common.StopOrder
	fired = append(fired, s.drain(s.buySide, lastPrice)...)
	fired = append(fired, s.drain(s.sellSide, lastPrice)...)
	sort.Slice(fired, func(i, j int) bool { return fired[i].ShelfSeq < fired[j].ShelfSeq })
	return fired
}

func (s *StopShelf) drain(levels *btree.BTreeG[*stopLevel], lastPrice decimal.Decimal) []*common.StopOrder {
	var fired []*common.StopOrder
	var touched []*stopLevel

	levels.Scan(func(level *stopLevel) bool {
		remaining := level.Entries[:0]
		for _, e := range level.Entries {
			if e.Order.StopOp.Triggered(lastPrice, level.Price) {
				fired = append(fired, e)
			} else {
				remaining = append(remaining, e)
			}
		}
		level.Entries = remaining
		if len(level.Entries) == 0 {
			touched = append(touched, level)
		}
		return true
	})

	for _, level := range touched {
		levels.Delete(level)
	}
	return fired
}
