package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bakery"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// StockMetrics tracks the reservation ledger and order lifecycle.
type StockMetrics struct {
	Reservations        *prometheus.CounterVec
	ExpiredReservations prometheus.Counter
	OrderTransitions    *prometheus.CounterVec
	Checkouts           *prometheus.CounterVec
}

func NewStockMetrics(reg prometheus.Registerer) *StockMetrics {
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "reservations_total",
		Help:      "Reservation attempts by result.",
	}, []string{"result"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "reservations_expired_total",
		Help:      "Reservations released by the expiry sweep.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Order status transitions by target status.",
	}, []string{"to"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "checkouts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})

	reg.MustRegister(reservations, expired, transitions, checkouts)
	return &StockMetrics{
		Reservations:        reservations,
		ExpiredReservations: expired,
		OrderTransitions:    transitions,
		Checkouts:           checkouts,
	}
}

// Discard returns metrics registered on a throwaway registry, for tests and
// callers that do not expose /metrics.
func Discard() *StockMetrics {
	return NewStockMetrics(prometheus.NewRegistry())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
