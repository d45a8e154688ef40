package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	reservations    *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	expired         prometheus.Counter
	sweeps          *prometheus.CounterVec
	provider        *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_reservations_total",
			Help: "Reservation requests by result.",
		}, []string{"result"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_reconciliations_total",
			Help: "Payment outcomes applied, by outcome and result.",
		}, []string{"outcome", "result"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raffle_expired_tickets_total",
			Help: "Tickets returned to the pool by the expiry sweep.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_sweeps_total",
			Help: "Expiry sweeps by result.",
		}, []string{"result"}),
		provider: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raffle_payment_provider_seconds",
			Help:    "Latency of payment provider calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.reservations, m.reconciliations, m.expired, m.sweeps, m.provider)
	return m
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconciliation(outcome, result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome, result).Inc()
}

func (m *Metrics) Sweep(result string, released int) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.expired.Add(float64(released))
}

// ProviderCall observes one provider round trip started at start.
func (m *Metrics) ProviderCall(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.provider.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
