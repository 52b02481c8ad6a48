package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	Transitions       *prometheus.CounterVec
	Confirmations     *prometheus.CounterVec
	Conflicts         prometheus.Counter
	GatewayLatencyMS  *prometheus.HistogramVec
	ShippingLatencyMS prometheus.Histogram
}

var bucketsMS = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// New registers every collector on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   bucketsMS,
		}, []string{"handler"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: service,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by target status.",
		}, []string{"status"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: service,
			Name:      "payment_confirmations_total",
			Help:      "Gateway confirmations by outcome.",
		}, []string{"outcome"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: service,
			Name:      "reconciliation_conflicts_total",
			Help:      "Payments that arrived for orders that could not accept them.",
		}),
		GatewayLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: service,
			Name:      "gateway_call_duration_ms",
			Help:      "Payment gateway call latency in milliseconds.",
			Buckets:   bucketsMS,
		}, []string{"op", "ok"}),
		ShippingLatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: service,
			Name:      "shipping_quote_duration_ms",
			Help:      "Shipping quote latency in milliseconds, per attempt.",
			Buckets:   bucketsMS,
		}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Transitions, m.Confirmations, m.Conflicts, m.GatewayLatencyMS, m.ShippingLatencyMS)
	return m
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Confirmation(outcome string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) Gateway(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.GatewayLatencyMS.WithLabelValues(op, strconv.FormatBool(err == nil)).Observe(ms(start))
}

func (m *Metrics) Shipping(start time.Time) {
	if m == nil {
		return
	}
	m.ShippingLatencyMS.Observe(ms(start))
}

func (m *Metrics) Request(handler string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(ms(start))
}

func ms(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
