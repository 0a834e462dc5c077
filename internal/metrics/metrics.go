// Package metrics exposes the Prometheus collectors for the settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qrpay"

// Metrics groups every collector the service reports. A nil *Metrics is valid
// and records nothing, so components can be built without observability.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OrdersCreated     *prometheus.CounterVec
	OrderTransitions  *prometheus.CounterVec
	SlotAttempts      prometheus.Histogram
	SlotExhausted     prometheus.Counter
	PushOutcomes      *prometheus.CounterVec
	Heartbeats        *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	DeliveriesPending prometheus.Gauge
	SweepRuns         *prometheus.CounterVec
	SweepExpired      prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers all collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		OrdersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by payment type.",
		}, []string{"type"}),
		OrderTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order state transitions, by target state.",
		}, []string{"to"}),
		SlotAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_reserve_attempts",
			Help:      "Candidate amounts probed per successful reservation.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		SlotExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_exhausted_total",
			Help:      "Reservations rejected because no amount was free.",
		}),
		PushOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_outcomes_total",
			Help:      "Payment pushes, by outcome.",
		}, []string{"outcome"}),
		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Monitor heartbeats, by result.",
		}, []string{"result"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Merchant callbacks, by kind and result.",
		}, []string{"kind", "result"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Latency of a single callback attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "strategy"}),
		DeliveriesPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deliveries_in_flight",
			Help:      "Detached notifications not yet finished.",
		}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Expiry sweeps, by result.",
		}, []string{"result"}),
		SweepExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_expired_orders_total",
			Help:      "Orders expired by the sweeper.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) OrderCreated(paymentType int) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(strconv.Itoa(paymentType)).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) SlotReserved(attempts int) {
	if m == nil {
		return
	}
	m.SlotAttempts.Observe(float64(attempts))
}

func (m *Metrics) SlotExhaustedInc() {
	if m == nil {
		return
	}
	m.SlotExhausted.Inc()
}

func (m *Metrics) Push(outcome string) {
	if m == nil {
		return
	}
	m.PushOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Heartbeat(ok bool) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Delivery(kind string, confirmed bool) {
	if m == nil {
		return
	}
	label := "unconfirmed"
	if confirmed {
		label = "confirmed"
	}
	m.Deliveries.WithLabelValues(kind, label).Inc()
}

func (m *Metrics) DeliveryAttempt(kind, strategy string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DeliveryDuration.WithLabelValues(kind, strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) DeliveryStarted() {
	if m == nil {
		return
	}
	m.DeliveriesPending.Inc()
}

func (m *Metrics) DeliveryFinished() {
	if m == nil {
		return
	}
	m.DeliveriesPending.Dec()
}

func (m *Metrics) Sweep(expired int, err error) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result(err == nil)).Inc()
	m.SweepExpired.Add(float64(expired))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
