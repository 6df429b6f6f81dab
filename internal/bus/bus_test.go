package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
	"fenrir/internal/publish"
)

func TestSubscribe_ReceivesPublishedEvent(t *testing.T) {
	b := New(4)
	sym, _ := common.ParseSymbol("BTC/USDT")

	sub := b.Subscribe(BookChannel(sym))
	defer sub.Unsubscribe()

	b.Publish(publish.Event{
		Kind:      publish.EventBookDelta,
		BookDelta: &publish.BookDelta{Symbol: sym},
	})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, publish.EventBookDelta, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_TradeFansOutToBothUsersOrderChannels(t *testing.T) {
	b := New(4)
	sym, _ := common.ParseSymbol("BTC/USDT")

	takerSub := b.Subscribe(OrdersChannel("bob"))
	defer takerSub.Unsubscribe()
	makerSub := b.Subscribe(OrdersChannel("alice"))
	defer makerSub.Unsubscribe()

	b.Publish(publish.Event{
		Kind:  publish.EventTrade,
		Trade: &common.Trade{Symbol: sym, TakerUser: "bob", MakerUser: "alice"},
	})

	for _, sub := range []*Subscription{takerSub, makerSub} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, publish.EventTrade, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestFanout_EvictsOnFullQueueRatherThanBlocking(t *testing.T) {
	b := New(1)
	sym, _ := common.ParseSymbol("BTC/USDT")
	sub := b.Subscribe(BookChannel(sym))

	for i := 0; i < 5; i++ {
		b.Publish(publish.Event{Kind: publish.EventBookDelta, BookDelta: &publish.BookDelta{Symbol: sym}})
	}

	select {
	case <-sub.Lagged():
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to be evicted for lag")
	}
	assert.Equal(t, 0, b.SubscriberCount(BookChannel(sym)))
}

func TestUnsubscribe_RemovesFromChannel(t *testing.T) {
	b := New(4)
	sym, _ := common.ParseSymbol("BTC/USDT")
	sub := b.Subscribe(BookChannel(sym))
	require.Equal(t, 1, b.SubscriberCount(BookChannel(sym)))

	sub.Unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount(BookChannel(sym)))
}
