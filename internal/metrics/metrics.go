package metrics

import (
	"net/http"
	"time"

	"fulcrum/internal/common"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's prometheus instruments on a private
// registry so parallel tests never collide on collector names. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ordersTotal    *prometheus.CounterVec
	tradesTotal    prometheus.Counter
	tradedQuantity prometheus.Counter
	cancelsTotal   *prometheus.CounterVec
	matchLatency   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ordersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulcrum_orders_total",
		Help: "Orders accepted by the matching engine.",
	}, []string{"side"})
	m.tradesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fulcrum_trades_total",
		Help: "Trades executed.",
	})
	m.tradedQuantity = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fulcrum_traded_quantity_total",
		Help: "Total quantity traded.",
	})
	m.cancelsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulcrum_cancels_total",
		Help: "Cancellation attempts by result.",
	}, []string{"result"})
	m.matchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulcrum_match_latency_seconds",
		Help:    "ProcessOrder wall time.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	})

	m.registry.MustRegister(
		m.ordersTotal,
		m.tradesTotal,
		m.tradedQuantity,
		m.cancelsTotal,
		m.matchLatency,
	)
	return m
}

// RegisterBookGauges wires gauges that read live book and pool state.
func (m *Metrics) RegisterBookGauges(available, capacity, activeOrders, bidLevels, askLevels func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fulcrum_pool_available_slots",
			Help: "Free order slots in the pool.",
		}, available),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fulcrum_pool_capacity_slots",
			Help: "Total order slots in the pool.",
		}, capacity),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fulcrum_active_orders",
			Help: "Orders currently resting in the book.",
		}, activeOrders),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fulcrum_bid_levels",
			Help: "Mapped bid price levels.",
		}, bidLevels),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fulcrum_ask_levels",
			Help: "Mapped ask price levels.",
		}, askLevels),
	)
}

func (m *Metrics) RecordOrder(side common.Side) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(side.String()).Inc()
}

func (m *Metrics) RecordTrades(trades []common.Trade) {
	if m == nil || len(trades) == 0 {
		return
	}
	var qty uint64
	for _, t := range trades {
		qty += t.Quantity
	}
	m.tradesTotal.Add(float64(len(trades)))
	m.tradedQuantity.Add(float64(qty))
}

func (m *Metrics) RecordCancel(ok bool) {
	if m == nil {
		return
	}
	result := "not_found"
	if ok {
		result = "cancelled"
	}
	m.cancelsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMatchLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.matchLatency.Observe(d.Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
