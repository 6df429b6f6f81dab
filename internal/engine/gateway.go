// Package engine is the Gateway: order validation, funds reservation,
// duplicate client_order_id detection, rate limiting, and per-symbol
// dispatch to a single-consumer matching task (spec.md §5). It is
// grounded on the teacher's engine.Engine (PlaceOrder/Trade stubs) for
// the gateway shape, and on internal/worker.go's WorkerPool for the
// supervised-goroutine pattern — generalized from "N workers pulling
// from one shared task channel" to "one dedicated worker per symbol,
// one queue per symbol", which is what spec.md §5's single-consumer
// ownership model requires (one goroutine may own a Book).
package engine

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	tomb "gopkg.in/tomb.v2"

	"fenrir/internal/book"
	"fenrir/internal/collab"
	"fenrir/internal/common"
	"fenrir/internal/ledger"
	"fenrir/internal/metrics"
	"fenrir/internal/publish"
)

// trackedOrder is the Gateway's bookkeeping for one order beyond what
// common.Order itself carries: how much of its upfront reservation is
// still tied up. mu serializes the rare case of a concurrent Query read
// racing the owning symbol worker's write (spec.md §5: a symbol's
// worker is the sole writer; Query is a second, read-only, goroutine).
type trackedOrder struct {
	mu               sync.Mutex
	order            *common.Order
	reserveAsset     common.Asset
	reserveRemaining decimal.Decimal
}

func (t *trackedOrder) snapshot() common.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.order
}

// Gateway is the single entry point for order submission, cancellation
// and query. Concrete matching happens inside per-symbol workers it
// supervises; Gateway itself never touches a Book.
type Gateway struct {
	ledger     *ledger.Ledger
	publisher  *publish.Publisher
	kyc        collab.KycPolicy
	feeAccount string
	now        func() int64

	workers map[common.Symbol]*symbolWorker

	indexMu   sync.RWMutex
	index     map[string]*trackedOrder // order_id -> tracked
	clientIdx map[string]string        // user\x00client_order_id -> order_id

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int

	t *tomb.Tomb
}

// Config is one symbol's matching configuration plus its queue depth.
type Config struct {
	Symbol    common.SymbolConfig
	QueueSize int
}

func NewGateway(t *tomb.Tomb, configs []Config, led *ledger.Ledger, pub *publish.Publisher, kyc collab.KycPolicy, feeAccount string, rateLimit rate.Limit, rateBurst int, now func() int64) *Gateway {
	gw := &Gateway{
		ledger:     led,
		publisher:  pub,
		kyc:        kyc,
		feeAccount: feeAccount,
		now:        now,
		workers:    make(map[common.Symbol]*symbolWorker, len(configs)),
		index:      make(map[string]*trackedOrder),
		clientIdx:  make(map[string]string),
		limiters:   make(map[string]*rate.Limiter),
		rateLimit:  rateLimit,
		rateBurst:  rateBurst,
		t:          t,
	}
	for _, cfg := range configs {
		qsize := cfg.QueueSize
		if qsize <= 0 {
			qsize = 256
		}
		w := &symbolWorker{
			gw:    gw,
			book:  book.NewBook(cfg.Symbol),
			queue: make(chan any, qsize),
		}
		gw.workers[cfg.Symbol.Symbol] = w
		t.Go(func() error { return superviseWorker(t, w) })
	}
	return gw
}

// superviseWorker runs w under its own tomb instead of the shared
// process tomb t, so a dying worker never closes t.Dying() for every
// other symbol (spec.md §7: an inconsistency halts only the affected
// symbol). Process shutdown still reaches w: once t starts dying this
// stops w's tomb too, and superviseWorker only returns once w has.
func superviseWorker(t *tomb.Tomb, w *symbolWorker) error {
	var wt tomb.Tomb
	wt.Go(func() error { return w.run(&wt) })
	select {
	case <-t.Dying():
		wt.Kill(nil)
		return wt.Wait()
	case <-wt.Dead():
		return wt.Wait()
	}
}

// checkLimits enforces the intent against the tighter of the symbol's
// configured ceiling (common.SymbolConfig.MaxOrderNotional/MaxLeverage)
// and whatever g.kyc.Limits returns for the order's user (spec.md §6:
// "a returned limit below the intent rejects with Unauthorized"). A
// zero bound, from either source, means that source imposes no cap.
func (g *Gateway) checkLimits(order *common.Order, cfg common.SymbolConfig) error {
	maxNotional := cfg.MaxOrderNotional
	maxLeverage := cfg.MaxLeverage

	if g.kyc != nil {
		limits, err := g.kyc.Limits(order.User)
		if err != nil {
			return err
		}
		if limits.MaxOrderNotional.IsPositive() && (maxNotional.IsZero() || limits.MaxOrderNotional.LessThan(maxNotional)) {
			maxNotional = limits.MaxOrderNotional
		}
		if limits.MaxLeverage > 0 && (maxLeverage == 0 || limits.MaxLeverage < maxLeverage) {
			maxLeverage = limits.MaxLeverage
		}
	}

	if maxLeverage > 0 && order.Leverage > maxLeverage {
		return common.NewAPIError(common.CodeUnauthorized, "leverage exceeds account limit")
	}
	if maxNotional.IsPositive() {
		notional := order.Qty.Mul(order.Price)
		if order.Type == common.Market || order.Type == common.StopMarket {
			notional = order.QuoteBudget
		}
		if notional.GreaterThan(maxNotional) {
			return common.NewAPIError(common.CodeUnauthorized, "order notional exceeds account limit")
		}
	}
	return nil
}

func (g *Gateway) limiterFor(user string) *rate.Limiter {
	g.limiterMu.Lock()
	defer g.limiterMu.Unlock()
	l, ok := g.limiters[user]
	if !ok {
		l = rate.NewLimiter(g.rateLimit, g.rateBurst)
		g.limiters[user] = l
	}
	return l
}

// Submit validates, rate-limits, reserves funds for, and hands an order
// to its symbol's matching queue, then blocks for that symbol's worker
// to process it (spec.md §5: a caller observes the fully-resolved result
// of its own submission before Submit returns).
func (g *Gateway) Submit(order *common.Order) (*common.Order, error) {
	if (g.rateLimit > 0 || g.rateBurst > 0) && !g.limiterFor(order.User).Allow() {
		metrics.OrdersRejected.WithLabelValues(string(common.CodeRateLimited)).Inc()
		return nil, common.NewAPIError(common.CodeRateLimited, "submission rate exceeded")
	}

	w, ok := g.workers[order.Symbol]
	if !ok {
		metrics.OrdersRejected.WithLabelValues(string(common.CodeInvalidSymbol)).Inc()
		return nil, common.NewAPIError(common.CodeInvalidSymbol, fmt.Sprintf("unknown symbol %s", order.Symbol))
	}
	cfg := w.book.Symbol

	if err := validateOrder(order, cfg); err != nil {
		metrics.OrdersRejected.WithLabelValues(string(err.(*common.APIError).Code)).Inc()
		return nil, err
	}

	if err := g.checkLimits(order, cfg); err != nil {
		metrics.OrdersRejected.WithLabelValues(string(err.(*common.APIError).Code)).Inc()
		return nil, err
	}

	if order.ClientOrderID != "" {
		if existing, dup := g.checkDuplicate(order.User, order.ClientOrderID); dup {
			metrics.OrdersRejected.WithLabelValues(string(common.CodeDuplicateClientOrderID)).Inc()
			return nil, common.DuplicateClientOrderID(existing)
		}
	}

	reserveAsset, reserveAmount := reservationFor(order, cfg)
	if reserveAmount.GreaterThan(decimal.Zero) {
		if err := g.ledger.Reserve(order.User, reserveAsset, reserveAmount); err != nil {
			metrics.OrdersRejected.WithLabelValues(string(common.CodeInsufficientFunds)).Inc()
			return nil, err
		}
	}

	tracked := &trackedOrder{order: order, reserveAsset: reserveAsset, reserveRemaining: reserveAmount}
	g.register(order, tracked)

	respCh := make(chan error, 1)
	w.queue <- &submission{tracked: tracked, respCh: respCh}
	metrics.QueueDepth.WithLabelValues(order.Symbol.String()).Set(float64(len(w.queue)))
	err := <-respCh
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			metrics.OrdersRejected.WithLabelValues(string(apiErr.Code)).Inc()
		}
		return order, err
	}
	metrics.OrdersSubmitted.WithLabelValues(order.Symbol.String(), order.Side.String()).Inc()
	return order, nil
}

// Cancel unlinks a resting order from its book and releases whatever
// reservation remains. An unknown order_id fails with NotFound; an order
// already in a terminal state fails with AlreadyTerminal.
func (g *Gateway) Cancel(user, orderID string) (*common.Order, error) {
	g.indexMu.RLock()
	tracked, ok := g.index[orderID]
	g.indexMu.RUnlock()
	if !ok {
		return nil, common.NewAPIError(common.CodeNotFound, "unknown order_id")
	}

	snap := tracked.snapshot()
	if snap.User != user {
		return nil, common.NewAPIError(common.CodeUnauthorized, "order does not belong to caller")
	}
	if snap.Status.Terminal() {
		return nil, common.NewAPIError(common.CodeAlreadyTerminal, "order already in a terminal state")
	}

	w := g.workers[snap.Symbol]
	respCh := make(chan error, 1)
	w.queue <- &cancellation{orderID: orderID, tracked: tracked, respCh: respCh}
	err := <-respCh
	if err != nil {
		return nil, err
	}
	out := tracked.snapshot()
	return &out, nil
}

// BookSnapshot returns best-first price/size pairs for a symbol, used to
// seed a new book subscriber before it starts receiving deltas (spec.md
// §6 snapshot-then-delta). The read is routed through the symbol's own
// queue rather than touching the Book from this goroutine, preserving
// the single-writer/single-reader ownership rule (spec.md §5).
func (g *Gateway) BookSnapshot(symbolStr string) (bids, asks [][2]string, ok bool) {
	sym, err := common.ParseSymbol(symbolStr)
	if err != nil {
		return nil, nil, false
	}
	w, ok := g.workers[sym]
	if !ok {
		return nil, nil, false
	}
	respCh := make(chan snapshotResult, 1)
	w.queue <- &snapshotRequest{respCh: respCh}
	result := <-respCh
	return toStringPairs(result.bids), toStringPairs(result.asks), true
}

func toStringPairs(levels [][2]decimal.Decimal) [][2]string {
	out := make([][2]string, len(levels))
	for i, l := range levels {
		out[i] = [2]string{l[0].String(), l[1].String()}
	}
	return out
}

// Query returns a point-in-time snapshot of an order's state.
func (g *Gateway) Query(orderID string) (*common.Order, bool) {
	g.indexMu.RLock()
	tracked, ok := g.index[orderID]
	g.indexMu.RUnlock()
	if !ok {
		return nil, false
	}
	snap := tracked.snapshot()
	return &snap, true
}

func (g *Gateway) register(order *common.Order, tracked *trackedOrder) {
	g.indexMu.Lock()
	defer g.indexMu.Unlock()
	g.index[order.OrderID] = tracked
	if order.ClientOrderID != "" {
		g.clientIdx[clientKey(order.User, order.ClientOrderID)] = order.OrderID
	}
}

func (g *Gateway) checkDuplicate(user, clientOrderID string) (string, bool) {
	g.indexMu.RLock()
	defer g.indexMu.RUnlock()
	existing, ok := g.clientIdx[clientKey(user, clientOrderID)]
	return existing, ok
}

func clientKey(user, clientOrderID string) string {
	return user + "\x00" + clientOrderID
}

// reservationFor computes the asset and amount Submit must reserve
// before an order is allowed onto the matching queue (spec.md §4.1).
// Buy-side reservations include a fee buffer sized off the symbol's
// higher of its two fee rates, since which rate applies (taker or
// maker) is only known once the order actually matches; any unused
// buffer is released once the order reaches a terminal state.
func reservationFor(order *common.Order, cfg common.SymbolConfig) (common.Asset, decimal.Decimal) {
	if order.Side == common.Sell {
		return cfg.Symbol.Base, order.Qty
	}

	principal := order.Qty.Mul(order.Price)
	if order.Type == common.Market || order.Type == common.StopMarket {
		principal = order.QuoteBudget
	}
	feeRate := cfg.TakerFeeRate
	if cfg.MakerFeeRate.GreaterThan(feeRate) {
		feeRate = cfg.MakerFeeRate
	}
	buffer := principal.Mul(feeRate)
	return cfg.Symbol.Quote, principal.Add(buffer)
}

func validateOrder(order *common.Order, cfg common.SymbolConfig) error {
	if order.Qty.LessThanOrEqual(decimal.Zero) {
		return common.NewAPIError(common.CodeInvalidQty, "qty must be positive")
	}
	if !cfg.AlignedToStep(order.Qty) {
		return common.NewAPIError(common.CodeInvalidQty, "qty not aligned to symbol step")
	}
	switch order.Type {
	case common.Limit, common.StopLimit, common.IOC, common.FOK:
		if order.Price.LessThanOrEqual(decimal.Zero) {
			return common.NewAPIError(common.CodeInvalidPrice, "price must be positive")
		}
		if !cfg.AlignedToTick(order.Price) {
			return common.NewAPIError(common.CodeInvalidPrice, "price not aligned to symbol tick")
		}
	case common.Market, common.StopMarket:
		if order.Side == common.Buy && order.QuoteBudget.LessThanOrEqual(decimal.Zero) {
			return common.NewAPIError(common.CodeInvalidQty, "quote_budget required for market buy")
		}
	default:
		return common.NewAPIError(common.CodeUnknownType, "unrecognized order type")
	}
	if order.Type.IsStop() && order.StopPrice.LessThanOrEqual(decimal.Zero) {
		return common.NewAPIError(common.CodeInvalidPrice, "stop_price must be positive")
	}

	// IOC/FOK carry their time_in_force in order.Type, not order.TIF
	// (order.TIF is what the book actually consults); ToOrder normalizes
	// this at intake, so a mismatch here means a caller built an Order by
	// hand with an inconsistent pair.
	switch order.Type {
	case common.IOC:
		if order.TIF != common.TIFIOC {
			return common.NewAPIError(common.CodeUnknownType, "type=ioc requires time_in_force=ioc")
		}
	case common.FOK:
		if order.TIF != common.TIFFOK {
			return common.NewAPIError(common.CodeUnknownType, "type=fok requires time_in_force=fok")
		}
	}

	// post_only only means anything for an order that can rest; Market/
	// IOC/FOK never rest, so spec.md §4.2 step 1 rejects the combination
	// synchronously rather than silently ignoring the flag.
	if order.PostOnly {
		switch order.Type {
		case common.Market, common.StopMarket, common.IOC, common.FOK:
			return common.NewAPIError(common.CodeWouldCross, "post_only is incompatible with market/ioc/fok orders")
		}
	}

	if order.Leverage < 1 || order.Leverage > 100 {
		return common.NewAPIError(common.CodeInvalidQty, "leverage must be between 1 and 100")
	}

	return nil
}
