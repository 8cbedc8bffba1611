package matching

import (
	"github.com/prometheus/client_golang/prometheus"

	"orderbook/internal/model"
)

// metrics wraps the engine's prometheus collectors. They're created on a
// registry handed in by the caller (WithMetricsRegistry) or a private one
// otherwise; serving /metrics over HTTP is the caller's concern.
type metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	tradesTotal     prometheus.Counter
	tradeQuantity   prometheus.Histogram
	expirations     prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		registry: reg,
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_orders_submitted_total",
			Help: "Orders submitted to the matching engine, by order type.",
		}, []string{"order_type"}),
		tradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderbook_trades_total",
			Help: "Trades executed by the matching engine.",
		}),
		tradeQuantity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderbook_trade_quantity",
			Help:    "Quantity filled per trade.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderbook_gtd_expirations_total",
			Help: "GTD orders removed by the lazy expiry sweep or background reaper.",
		}),
	}
	m.registry.MustRegister(m.ordersSubmitted, m.tradesTotal, m.tradeQuantity, m.expirations)
	return m
}

func (m *metrics) observeSubmit(t model.OrderType) {
	m.ordersSubmitted.WithLabelValues(t.String()).Inc()
}

func (m *metrics) observeTrade(qty uint64) {
	m.tradesTotal.Inc()
	m.tradeQuantity.Observe(float64(qty))
}

func (m *metrics) observeExpiry(n int) {
	if n <= 0 {
		return
	}
	m.expirations.Add(float64(n))
}
