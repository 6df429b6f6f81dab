// Package publish turns matching results into the ordered, seq-numbered
// event log the bus fans out to subscribers. It is grounded on the
// teacher's engine.Trade, whose two FIXME comments ("fire execution
// report" and "log trade") mark exactly this package's job — generalized
// from two ad hoc wire writes into a typed event log with a single
// monotonic sequence per symbol (spec.md §4.4/§6).
package publish

import (
	"sync"

	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// EventKind discriminates the Event union.
type EventKind int

const (
	EventTrade EventKind = iota
	EventBookDelta
	EventOrderUpdate
	EventBalanceUpdate
	EventSymbolHalted
)

// DeltaOp describes how a BookDelta should be applied to a subscriber's
// local copy of the book (spec.md §6).
type DeltaOp int

const (
	DeltaUpsert DeltaOp = iota
	DeltaRemove
)

// BookDelta is one price level's change (spec.md §6). The bus sends no
// snapshot on connect; a subscriber's starting book comes from
// GET /books/{symbol}.
type BookDelta struct {
	Symbol common.Symbol
	Side   common.Side
	Op     DeltaOp
	Price  decimal.Decimal
	Qty    decimal.Decimal // new total size at Price; ignored on DeltaRemove
}

// OrderUpdate reports a status or fill change on one order (spec.md §6).
type OrderUpdate struct {
	OrderID       string
	ClientOrderID string
	User          string
	Symbol        common.Symbol
	Status        common.OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
}

// BalanceUpdate reports a user's new balance for one asset (spec.md §6).
type BalanceUpdate struct {
	User      string
	Asset     common.Asset
	Available decimal.Decimal
	Reserved  decimal.Decimal
}

// SymbolHaltedPayload announces that a symbol's worker has stopped
// accepting orders after an internal inconsistency (spec.md §7). Every
// subsequent Submit/Cancel on the symbol fails with CodeSymbolHalted
// until the process is restarted.
type SymbolHaltedPayload struct {
	Symbol common.Symbol
	Reason string
}

// Event is one committed entry in a symbol's event log. Exactly one of
// the typed fields is populated, selected by Kind.
type Event struct {
	Kind EventKind
	Seq  int64 // monotonic per symbol, assigned at commit time
	Ts   int64 // unix nanos, assigned at commit time

	Trade         *common.Trade
	BookDelta     *BookDelta
	OrderUpdate   *OrderUpdate
	BalanceUpdate *BalanceUpdate
	SymbolHalted  *SymbolHaltedPayload
}

// Sink receives committed events. The bus implements this to fan events
// out to subscribers; tests can supply a slice-collecting stub.
type Sink interface {
	Publish(Event)
}

// Publisher assigns the monotonic per-symbol sequence number under one
// publisher-wide lock that covers only seq assignment; the sink is
// called outside it. A multi-event outcome (one trade producing two
// OrderUpdates and two BookDeltas) reaches the sink in a fixed, gap-free
// order because all of a symbol's events are committed from that
// symbol's single worker goroutine.
type Publisher struct {
	mu   sync.Mutex
	seqs map[common.Symbol]int64
	sink Sink
	now  func() int64
}

// NewPublisher builds a Publisher. now supplies the event timestamp
// (unix nanos) and is injected so tests can control it.
func NewPublisher(sink Sink, now func() int64) *Publisher {
	return &Publisher{seqs: make(map[common.Symbol]int64), sink: sink, now: now}
}

// SeedSeq sets a symbol's next sequence number to resume one past seq,
// used on restart once the WAL has been replayed to find the last
// committed seq per symbol (spec.md §6: sequence numbers must never
// reset or repeat across a restart while subscribers are reconnecting).
func (p *Publisher) SeedSeq(symbol common.Symbol, seq int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq > p.seqs[symbol] {
		p.seqs[symbol] = seq
	}
}

func (p *Publisher) next(symbol common.Symbol) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seqs[symbol]++
	return p.seqs[symbol]
}

func (p *Publisher) commit(symbol common.Symbol, kind EventKind, trade *common.Trade, delta *BookDelta, order *OrderUpdate, balance *BalanceUpdate) {
	p.sink.Publish(Event{
		Kind:          kind,
		Seq:           p.next(symbol),
		Ts:            p.now(),
		Trade:         trade,
		BookDelta:     delta,
		OrderUpdate:   order,
		BalanceUpdate: balance,
	})
}

func (p *Publisher) Trade(t *common.Trade) {
	p.commit(t.Symbol, EventTrade, t, nil, nil, nil)
}

func (p *Publisher) BookDelta(symbol common.Symbol, d *BookDelta) {
	p.commit(symbol, EventBookDelta, nil, d, nil, nil)
}

func (p *Publisher) OrderUpdate(symbol common.Symbol, u *OrderUpdate) {
	p.commit(symbol, EventOrderUpdate, nil, nil, u, nil)
}

func (p *Publisher) BalanceUpdate(symbol common.Symbol, b *BalanceUpdate) {
	p.commit(symbol, EventBalanceUpdate, nil, nil, nil, b)
}

// SymbolHalted commits a halt announcement for symbol. Unlike the other
// events it does not imply any prior matching activity, so it is still
// the first seq a brand-new symbol worker could ever emit.
func (p *Publisher) SymbolHalted(symbol common.Symbol, reason string) {
	p.sink.Publish(Event{
		Kind:         EventSymbolHalted,
		Seq:          p.next(symbol),
		Ts:           p.now(),
		SymbolHalted: &SymbolHaltedPayload{Symbol: symbol, Reason: reason},
	})
}

// OrderUpdateFrom builds the OrderUpdate event payload for an order's
// current state, used after every fill, rest, or terminal transition.
func OrderUpdateFrom(o *common.Order) *OrderUpdate {
	return &OrderUpdate{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		User:          o.User,
		Symbol:        o.Symbol,
		Status:        o.Status,
		FilledQty:     o.FilledQty,
		AvgFillPrice:  o.AvgFillPrice,
	}
}
