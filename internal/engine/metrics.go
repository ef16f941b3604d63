package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus instruments. Purely observational —
// nothing here gates or alters a matching decision.
type Metrics struct {
	FeedMessages *prometheus.CounterVec
	TradeQty     prometheus.Histogram
	TradePrice   prometheus.Histogram
	BreakerTrips prometheus.Counter
}

// NewMetrics builds and registers the engine's instruments against reg.
// Pass a fresh prometheus.NewRegistry() in tests to avoid collisions with
// the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FeedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_feed_messages_total",
			Help: "Feed messages emitted, by message type.",
		}, []string{"type"}),
		TradeQty: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_trade_quantity",
			Help:    "Quantity of each executed trade.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TradePrice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_trade_price",
			Help:    "Executed trade price.",
			Buckets: prometheus.LinearBuckets(0, 50, 20),
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_circuit_breaker_trips_total",
			Help: "Number of times the circuit breaker has tripped.",
		}),
	}
	reg.MustRegister(m.FeedMessages, m.TradeQty, m.TradePrice, m.BreakerTrips)
	return m
}
