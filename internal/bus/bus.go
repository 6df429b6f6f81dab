// Package bus fans committed events out to subscribers: book:{symbol},
// trades:{symbol}, orders:{user}, balances:{user} (spec.md §6). It is
// grounded on the teacher's Server.clientSessions map plus
// ReportTrade/ReportError fan-out in internal/net/server.go, generalized
// from "one map of all sessions, broadcast by iterating" into
// channel-scoped subscriber sets with bounded, non-blocking per-
// subscriber queues — publishing must never block a symbol's matching
// worker (spec.md §5).
package bus

import (
	"sync"

	"github.com/rs/zerolog/log"

	"fenrir/internal/common"
	"fenrir/internal/metrics"
	"fenrir/internal/publish"
)

// Subscription is a single subscriber's view of one channel. Events and
// Lagged are both closed when the bus evicts the subscriber for lag;
// Unsubscribe only removes the subscription and closes neither.
type Subscription struct {
	channel string
	events  chan publish.Event
	lagged  chan struct{}

	bus *Bus
}

func (s *Subscription) Events() <-chan publish.Event { return s.events }
func (s *Subscription) Lagged() <-chan struct{}       { return s.lagged }

// Unsubscribe removes this subscription from its channel. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

type channel struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Bus is the process-wide event fan-out. It implements publish.Sink.
type Bus struct {
	queueSize int

	mu       sync.RWMutex
	channels map[string]*channel
}

func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{queueSize: queueSize, channels: make(map[string]*channel)}
}

func BookChannel(symbol common.Symbol) string   { return "book:" + symbol.String() }
func TradesChannel(symbol common.Symbol) string { return "trades:" + symbol.String() }
func OrdersChannel(user string) string          { return "orders:" + user }
func BalancesChannel(user string) string        { return "balances:" + user }

func (b *Bus) channelFor(name string) *channel {
	b.mu.RLock()
	ch, ok := b.channels[name]
	b.mu.RUnlock()
	if ok {
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok = b.channels[name]; ok {
		return ch
	}
	ch = &channel{subs: make(map[*Subscription]struct{})}
	b.channels[name] = ch
	return ch
}

// Subscribe opens a new subscription to channelName. Callers should
// fetch a snapshot of whatever state the channel streams deltas for
// (book depth, order state, balance) before or immediately after
// subscribing, and reconcile using the deltas that follow (spec.md §6
// snapshot-then-delta).
func (b *Bus) Subscribe(channelName string) *Subscription {
	ch := b.channelFor(channelName)
	sub := &Subscription{
		channel: channelName,
		events:  make(chan publish.Event, b.queueSize),
		lagged:  make(chan struct{}),
		bus:     b,
	}
	ch.mu.Lock()
	ch.subs[sub] = struct{}{}
	ch.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	ch := b.channelFor(sub.channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if _, ok := ch.subs[sub]; !ok {
		return
	}
	delete(ch.subs, sub)
}

// evict closes a subscriber's channels and removes it from its channel's
// set, signalling Lagged() so the transport layer can tell the client
// to reconnect and re-snapshot.
func (b *Bus) evict(ch *channel, sub *Subscription) {
	delete(ch.subs, sub)
	close(sub.lagged)
	close(sub.events)
	metrics.SubscribersEvicted.WithLabelValues(sub.channel).Inc()
}

// Publish implements publish.Sink: it routes one event to the channel(s)
// its kind and payload address, and evicts any subscriber whose queue is
// already full rather than blocking (spec.md §6 backpressure).
func (b *Bus) Publish(e publish.Event) {
	switch e.Kind {
	case publish.EventTrade:
		b.fanout(TradesChannel(e.Trade.Symbol), e)
		b.fanout(OrdersChannel(e.Trade.TakerUser), e)
		b.fanout(OrdersChannel(e.Trade.MakerUser), e)
	case publish.EventBookDelta:
		b.fanout(BookChannel(e.BookDelta.Symbol), e)
	case publish.EventOrderUpdate:
		b.fanout(OrdersChannel(e.OrderUpdate.User), e)
	case publish.EventBalanceUpdate:
		b.fanout(BalancesChannel(e.BalanceUpdate.User), e)
	case publish.EventSymbolHalted:
		b.fanout(BookChannel(e.SymbolHalted.Symbol), e)
		b.fanout(TradesChannel(e.SymbolHalted.Symbol), e)
	default:
		log.Error().Int("kind", int(e.Kind)).Msg("bus: unknown event kind")
	}
}

func (b *Bus) fanout(channelName string, e publish.Event) {
	ch := b.channelFor(channelName)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for sub := range ch.subs {
		select {
		case sub.events <- e:
			metrics.SubscriberLag.WithLabelValues(channelName).Set(float64(len(sub.events)))
		default:
			log.Warn().Str("channel", channelName).Msg("subscriber lagged, evicting")
			b.evict(ch, sub)
		}
	}
}

// SubscriberCount reports how many subscriptions a channel currently
// has, used by internal/metrics.
func (b *Bus) SubscriberCount(channelName string) int {
	ch := b.channelFor(channelName)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}
