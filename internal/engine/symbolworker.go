package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/common"
	"fenrir/internal/ledger"
	"fenrir/internal/metrics"
	"fenrir/internal/publish"
)

// submission, cancellation and snapshotRequest are the message shapes a
// symbolWorker's queue carries (spec.md §5's MPSC queue).
type submission struct {
	tracked *trackedOrder
	respCh  chan error
}

type cancellation struct {
	orderID string
	tracked *trackedOrder
	respCh  chan error
}

type snapshotResult struct {
	bids, asks [][2]decimal.Decimal
}

type snapshotRequest struct {
	respCh chan snapshotResult
}

// symbolWorker is the single goroutine that owns one symbol's Book. No
// other goroutine may read or write it (spec.md §5 ownership), including
// the Gateway itself once an order has been handed off. Once halted is
// set, the worker keeps draining its queue (so Submit/Cancel never block
// forever) but rejects everything with CodeSymbolHalted instead of
// touching the book or ledger again (spec.md §7).
type symbolWorker struct {
	gw     *Gateway
	book   *book.Book
	queue  chan any
	halted bool
}

func (w *symbolWorker) run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case item := <-w.queue:
			w.process(item)
		}
	}
}

// process dispatches one queue item, halting the symbol instead of
// letting a panic during matching/settlement escape this goroutine —
// an unrecovered panic anywhere crashes the whole process, not just the
// symbol, regardless of which tomb supervises this worker.
func (w *symbolWorker) process(item any) {
	if w.halted {
		w.rejectHalted(item)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.halt(fmt.Errorf("panic: %v", r))
			w.rejectHalted(item)
		}
	}()
	switch v := item.(type) {
	case *submission:
		w.handleSubmission(v)
	case *cancellation:
		w.handleCancellation(v)
	case *snapshotRequest:
		bids, asks := w.book.Snapshot()
		v.respCh <- snapshotResult{bids: bids, asks: asks}
	}
}

// halt marks the symbol unusable and publishes a SymbolHalted event so
// subscribers (and the HTTP surface) learn why every further order on
// this symbol is being rejected (spec.md §7).
func (w *symbolWorker) halt(err error) {
	if w.halted {
		return
	}
	w.halted = true
	sym := w.book.Symbol.Symbol
	log.Error().Err(err).Str("symbol", sym.String()).Msg("halting symbol after internal inconsistency")
	w.gw.publisher.SymbolHalted(sym, err.Error())
}

func (w *symbolWorker) rejectHalted(item any) {
	err := common.NewAPIError(common.CodeSymbolHalted, "symbol halted after an internal inconsistency")
	switch v := item.(type) {
	case *submission:
		v.respCh <- err
	case *cancellation:
		v.respCh <- err
	case *snapshotRequest:
		v.respCh <- snapshotResult{}
	}
}

func (w *symbolWorker) handleSubmission(s *submission) {
	order := s.tracked.order

	if order.TIF == common.GTD && order.GoodTilNs > 0 && w.gw.now() >= order.GoodTilNs {
		order.Status = common.Cancelled
		w.releaseRemaining(s.tracked)
		w.publishOrderUpdate(order)
		s.respCh <- nil
		return
	}

	if order.Type.IsStop() {
		w.book.Stops.Place(order)
		order.Status = common.Open
		w.publishOrderUpdate(order)
		s.respCh <- nil
		return
	}

	outcome := w.book.Place(order)
	if !w.settleOutcome(outcome) {
		s.respCh <- common.NewAPIError(common.CodeSymbolHalted, "symbol halted during settlement")
		return
	}
	w.finalizeTaker(s.tracked, outcome)
	w.publishBookDeltas(order, outcome)
	if outcome.TradedLastPrice {
		w.evaluateStops()
	}
	w.recordDepth()

	if outcome.Rejected != nil {
		s.respCh <- outcome.Rejected
		return
	}
	s.respCh <- nil
}

// recordDepth refreshes the book depth gauge. Only the owning worker
// goroutine may read the Book, so this must never be called from
// Gateway itself (spec.md §5 ownership).
func (w *symbolWorker) recordDepth() {
	bids, asks := w.book.DepthLevels()
	sym := w.book.Symbol.Symbol.String()
	metrics.BookDepthLevels.WithLabelValues(sym, "buy").Set(float64(bids))
	metrics.BookDepthLevels.WithLabelValues(sym, "sell").Set(float64(asks))
}

func (w *symbolWorker) handleCancellation(c *cancellation) {
	order := c.tracked.order
	removed, ok := w.book.RemoveOrder(order.Side, order.Price, c.orderID)
	if !ok {
		// already matched away or stopped being a resting order between
		// Cancel's lookup and the worker processing it.
		c.respCh <- common.NewAPIError(common.CodeAlreadyTerminal, "order no longer resting")
		return
	}
	removed.Status = common.Cancelled
	w.releaseRemaining(c.tracked)
	w.publishOrderUpdate(removed)
	w.publishLevelDelta(removed.Symbol, removed.Side, removed.Price)
	w.recordDepth()
	c.respCh <- nil
}

// settleOutcome applies every fill in outcome to the ledger and
// publishes a Trade event for each, then releases the reservation of
// each self-trade-prevented maker (already marked cancelled by the book)
// and publishes its order update. It reports false
// (and halts the symbol) the moment a fill fails to settle, since the
// ledger and book may now disagree and no further fill in this outcome
// can be trusted either (spec.md §7).
func (w *symbolWorker) settleOutcome(outcome *book.MatchOutcome) bool {
	for _, fill := range outcome.Fills {
		if !w.settleFill(fill) {
			return false
		}
	}
	for _, maker := range outcome.SelfTradePrevented {
		w.releaseTrackedOrder(maker.OrderID)
		w.publishOrderUpdate(maker)
	}
	return true
}

func (w *symbolWorker) settleFill(fill book.Fill) bool {
	taker, maker := fill.TakerOrder, fill.MakerOrder
	cfg := w.book.Symbol

	takerFee := cfg.Fee(fill.Qty.Mul(fill.Price), cfg.TakerFeeRate)
	makerFee := cfg.Fee(fill.Qty.Mul(fill.Price), cfg.MakerFeeRate)

	buyerUser, sellerUser := taker.User, maker.User
	if taker.Side == common.Sell {
		buyerUser, sellerUser = maker.User, taker.User
	}

	err := w.gw.ledger.Settle(ledger.SettleInput{
		Symbol:       taker.Symbol,
		BuyerUser:    buyerUser,
		SellerUser:   sellerUser,
		BuyerIsTaker: taker.Side == common.Buy,
		Price:        fill.Price,
		Quantity:     fill.Qty,
		TakerFee:     takerFee,
		MakerFee:     makerFee,
		FeeAccount:   w.gw.feeAccount,
	})
	if err != nil {
		w.halt(fmt.Errorf("inconsistent settlement on %s: %w", taker.Symbol, err))
		return false
	}

	w.debitReservation(taker, buyerUser, sellerUser, fill.Qty, fill.Price, takerFee, makerFee, true)
	w.debitReservation(maker, buyerUser, sellerUser, fill.Qty, fill.Price, takerFee, makerFee, false)

	trade := &common.Trade{
		TradeID:      fmt.Sprintf("%s-%d", taker.Symbol, w.gw.now()),
		Symbol:       taker.Symbol,
		Price:        fill.Price,
		Quantity:     fill.Qty,
		TakerOrderID: taker.OrderID,
		MakerOrderID: maker.OrderID,
		TakerUser:    taker.User,
		MakerUser:    maker.User,
		TakerFee:     takerFee,
		MakerFee:     makerFee,
		TimestampNs:  w.gw.now(),
	}
	w.gw.publisher.Trade(trade)
	w.book.LastPrice = fill.Price
	metrics.TradesExecuted.WithLabelValues(taker.Symbol.String()).Inc()

	w.publishOrderUpdate(maker)
	if maker.Status.Terminal() {
		w.releaseTrackedOrder(maker.OrderID)
	}
	return true
}

// debitReservation reduces a tracked order's remaining reservation by
// exactly what this fill consumed, mirroring the debit Settle just
// applied to the ledger (spec.md §4.1).
func (w *symbolWorker) debitReservation(order *common.Order, buyerUser, sellerUser string, qty, price, takerFee, makerFee decimal.Decimal, isTaker bool) {
	w.gw.indexMu.RLock()
	tracked, ok := w.gw.index[order.OrderID]
	w.gw.indexMu.RUnlock()
	if !ok {
		return
	}

	tracked.mu.Lock()
	defer tracked.mu.Unlock()

	if order.Side == common.Buy {
		fee := makerFee
		if isTaker {
			fee = takerFee
		}
		debit := qty.Mul(price).Add(fee)
		tracked.reserveRemaining = tracked.reserveRemaining.Sub(debit)
	} else {
		tracked.reserveRemaining = tracked.reserveRemaining.Sub(qty)
	}
	if tracked.reserveRemaining.LessThan(decimal.Zero) {
		tracked.reserveRemaining = decimal.Zero
	}
}

// finalizeTaker releases whatever reservation slack is left once the
// taker order itself reaches a terminal state (it never will again be
// matched against after this call returns, since it is the only order
// the matching loop was mutating this step).
func (w *symbolWorker) finalizeTaker(tracked *trackedOrder, outcome *book.MatchOutcome) {
	order := tracked.order
	w.publishOrderUpdate(order)
	if order.Status.Terminal() {
		w.releaseRemaining(tracked)
	}
}

func (w *symbolWorker) releaseTrackedOrder(orderID string) {
	w.gw.indexMu.RLock()
	tracked, ok := w.gw.index[orderID]
	w.gw.indexMu.RUnlock()
	if !ok {
		return
	}
	w.releaseRemaining(tracked)
}

func (w *symbolWorker) releaseRemaining(tracked *trackedOrder) {
	tracked.mu.Lock()
	remaining := tracked.reserveRemaining
	tracked.reserveRemaining = decimal.Zero
	user := tracked.order.User
	asset := tracked.reserveAsset
	tracked.mu.Unlock()

	if remaining.LessThanOrEqual(decimal.Zero) {
		return
	}
	if err := w.gw.ledger.Release(user, asset, remaining); err != nil {
		log.Error().Err(err).Str("user", user).Msg("failed releasing reservation")
	}
}

func (w *symbolWorker) publishOrderUpdate(order *common.Order) {
	w.gw.publisher.OrderUpdate(order.Symbol, publish.OrderUpdateFrom(order))
}

func (w *symbolWorker) publishBookDeltas(taker *common.Order, outcome *book.MatchOutcome) {
	seen := make(map[string]bool)
	touch := func(side common.Side, price decimal.Decimal) {
		key := fmt.Sprintf("%d:%s", side, price)
		if seen[key] {
			return
		}
		seen[key] = true
		w.publishLevelDelta(taker.Symbol, side, price)
	}
	for _, fill := range outcome.Fills {
		touch(fill.MakerOrder.Side, fill.Price)
	}
	for _, maker := range outcome.SelfTradePrevented {
		touch(maker.Side, maker.Price)
	}
	if outcome.Resting {
		touch(taker.Side, taker.Price)
	}
}

func (w *symbolWorker) publishLevelDelta(symbol common.Symbol, side common.Side, price decimal.Decimal) {
	delta := &publish.BookDelta{Symbol: symbol, Side: side, Price: price}
	level, ok := w.book.LevelAt(side, price)
	if !ok {
		delta.Op = publish.DeltaRemove
	} else {
		delta.Op = publish.DeltaUpsert
		delta.Qty = level.TotalQty()
	}
	w.gw.publisher.BookDelta(symbol, delta)
}

// evaluateStops resubmits every stop whose trigger condition the book's
// new LastPrice satisfies, in shelf order (spec.md §4.3).
func (w *symbolWorker) evaluateStops() {
	for _, fired := range w.book.Stops.Triggered(w.book.LastPrice) {
		triggered := fired.Order
		triggered.Type = fired.TriggerType
		outcome := w.book.Place(&triggered)
		if !w.settleOutcome(outcome) {
			return
		}

		w.gw.indexMu.RLock()
		tracked, ok := w.gw.index[triggered.OrderID]
		w.gw.indexMu.RUnlock()
		if ok {
			tracked.mu.Lock()
			*tracked.order = triggered
			tracked.mu.Unlock()
			w.finalizeTaker(tracked, outcome)
		}
		w.publishBookDeltas(&triggered, outcome)
	}
}
