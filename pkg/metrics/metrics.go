// Package metrics exposes the ledger's Prometheus counters. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loanledger"

// Anomaly kinds.
const (
	AnomalyPrepaidRemainder    = "prepaid_remainder"
	AnomalyNonPositiveInterest = "non_positive_monthly_interest"
)

type Metrics struct {
	registry *prometheus.Registry

	Anomalies            *prometheus.CounterVec
	PeriodsCreated       prometheus.Counter
	PeriodsPosted        prometheus.Counter
	CheckpointRejections prometheus.Counter
}

// New registers the ledger collectors, plus Go and process collectors, on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_anomalies_total",
			Help:      "Reconciliation anomalies logged for manual review.",
		}, []string{"kind"}),
		PeriodsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_periods_created_total",
			Help:      "Interest schedule periods created by schedule generation.",
		}),
		PeriodsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_periods_posted_total",
			Help:      "Interest schedule periods transitioned to posted.",
		}),
		CheckpointRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_rejections_total",
			Help:      "Loan creations rejected because the checkpoint was not zero.",
		}),
	}
	reg.MustRegister(
		m.Anomalies, m.PeriodsCreated, m.PeriodsPosted, m.CheckpointRejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Anomaly(kind string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) PeriodsCreatedAdd(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PeriodsCreated.Add(float64(n))
}

func (m *Metrics) PeriodPosted() {
	if m == nil {
		return
	}
	m.PeriodsPosted.Inc()
}

func (m *Metrics) CheckpointRejected() {
	if m == nil {
		return
	}
	m.CheckpointRejections.Inc()
}
