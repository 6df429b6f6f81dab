package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

type collectingSink struct {
	events []Event
}

func (s *collectingSink) Publish(e Event) { s.events = append(s.events, e) }

func fixedClock(ts int64) func() int64 {
	return func() int64 { return ts }
}

func TestPublisher_SeqMonotonicPerSymbol(t *testing.T) {
	sink := &collectingSink{}
	p := NewPublisher(sink, fixedClock(42))

	symA, _ := common.ParseSymbol("BTC/USDT")
	symB, _ := common.ParseSymbol("ETH/USDT")

	p.BookDelta(symA, &BookDelta{Symbol: symA})
	p.BookDelta(symA, &BookDelta{Symbol: symA})
	p.BookDelta(symB, &BookDelta{Symbol: symB})

	require.Len(t, sink.events, 3)
	assert.EqualValues(t, 1, sink.events[0].Seq)
	assert.EqualValues(t, 2, sink.events[1].Seq)
	assert.EqualValues(t, 1, sink.events[2].Seq, "symB has its own sequence")
}

func TestPublisher_StampsTimestampAndKind(t *testing.T) {
	sink := &collectingSink{}
	p := NewPublisher(sink, fixedClock(1000))

	sym, _ := common.ParseSymbol("BTC/USDT")
	trade := &common.Trade{Symbol: sym, TradeID: "t1"}
	p.Trade(trade)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, EventTrade, ev.Kind)
	assert.EqualValues(t, 1000, ev.Ts)
	assert.Same(t, trade, ev.Trade)
}

func TestOrderUpdateFrom(t *testing.T) {
	sym, _ := common.ParseSymbol("BTC/USDT")
	order := &common.Order{
		OrderID: "o1",
		User:    "alice",
		Symbol:  sym,
		Status:  common.PartiallyFilled,
	}
	update := OrderUpdateFrom(order)
	assert.Equal(t, "o1", update.OrderID)
	assert.Equal(t, "alice", update.User)
	assert.Equal(t, common.PartiallyFilled, update.Status)
}
