package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "store"

// Metrics groups the collectors of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	StockMutations   *prometheus.CounterVec
	StockLevel       *prometheus.GaugeVec
	CartOperations   *prometheus.CounterVec
	Checkouts        *prometheus.CounterVec
	CheckoutLatency  prometheus.Histogram
	OrderTransitions *prometheus.CounterVec
	OutboxPublished  *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPLatencyMS    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StockMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "stock_mutations_total",
			Help:      "Stock ledger mutations by operation.",
		}, []string{"op"}),
		StockLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "stock_quantity",
			Help:      "Last known quantity per product.",
		}, []string{"product_id"}),
		CartOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "operations_total",
			Help:      "Cart operations by name and result.",
		}, []string{"op", "result"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result code.",
		}, []string{"result"}),
		CheckoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_ms",
			Help:      "Checkout latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions by target status.",
		}, []string{"to"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events handed to the sink by result.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		HTTPLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.StockMutations,
		m.StockLevel,
		m.CartOperations,
		m.Checkouts,
		m.CheckoutLatency,
		m.OrderTransitions,
		m.OutboxPublished,
		m.HTTPRequests,
		m.HTTPLatencyMS,
	)
	return m
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) StockChanged(op, productID string, quantity int) {
	if m == nil {
		return
	}
	m.StockMutations.WithLabelValues(op).Inc()
	m.StockLevel.WithLabelValues(productID).Set(float64(quantity))
}

func (m *Metrics) CartOperation(op string, err error) {
	if m == nil {
		return
	}
	m.CartOperations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) CheckoutDone(code string, started time.Time) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(code).Inc()
	m.CheckoutLatency.Observe(float64(time.Since(started).Milliseconds()))
}

func (m *Metrics) OrderTransition(to string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) OutboxResult(err error) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPLatencyMS.WithLabelValues(method).Observe(float64(time.Since(started).Milliseconds()))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
