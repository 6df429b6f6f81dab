// Package metrics exposes Prometheus counters and gauges for orders,
// trades, queue depth and subscriber lag, grounded on
// fd1az-arbitrage-bot's use of github.com/prometheus/client_golang for
// its own trading metrics. The teacher has no metrics surface at all.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fenrir",
		Name:      "orders_submitted_total",
		Help:      "Orders accepted by the gateway, by symbol and side.",
	}, []string{"symbol", "side"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fenrir",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by the gateway or book, by error code.",
	}, []string{"code"})

	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fenrir",
		Name:      "trades_executed_total",
		Help:      "Trades committed, by symbol.",
	}, []string{"symbol"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fenrir",
		Name:      "symbol_queue_depth",
		Help:      "Pending submissions/cancellations queued for a symbol's worker.",
	}, []string{"symbol"})

	BookDepthLevels = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fenrir",
		Name:      "book_depth_levels",
		Help:      "Distinct resting price levels, by symbol and side.",
	}, []string{"symbol", "side"})

	SubscriberLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fenrir",
		Name:      "bus_subscriber_pending_events",
		Help:      "Events queued but not yet delivered to a subscriber.",
	}, []string{"channel"})

	SubscribersEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fenrir",
		Name:      "bus_subscribers_evicted_total",
		Help:      "Subscribers evicted for falling too far behind.",
	}, []string{"channel"})
)
