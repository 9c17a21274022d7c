// Package metrics defines the Prometheus metrics of the SID manager and
// the flex-algo arbitrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultOK        = "ok"
	ResultNotFound  = "not_found"
	ResultMismatch  = "prefix_mismatch"
	ResultDuplicate = "duplicate"
	ResultExhausted = "exhausted"
	ResultError     = "error"
)

// Metrics groups every metric. A nil *Metrics records nothing.
type Metrics struct {
	Allocations   *prometheus.CounterVec
	Releases      *prometheus.CounterVec
	Locators      prometheus.Gauge
	Functions     prometheus.Gauge
	Clients       prometheus.Gauge
	Reconciles    *prometheus.CounterVec
	Participating *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg. A nil reg means the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Allocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srv6_function_allocations_total",
				Help: "Total number of function allocation requests by result.",
			},
			[]string{"locator", "result"},
		),
		Releases: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srv6_function_releases_total",
				Help: "Total number of function release requests by result.",
			},
			[]string{"locator", "result"},
		),
		Locators: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "srv6_locators",
				Help: "Number of configured locators.",
			},
		),
		Functions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "srv6_functions",
				Help: "Number of allocated functions.",
			},
		),
		Clients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "srv6_clients",
				Help: "Number of connected protocol clients.",
			},
		),
		Reconciles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flexalgo_reconciles_total",
				Help: "Total number of participation reconciliations by outcome.",
			},
			[]string{"area", "changed"},
		),
		Participating: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flexalgo_participating_algorithms",
				Help: "Number of flexible algorithms the area participates in.",
			},
			[]string{"area"},
		),
	}
}

func (m *Metrics) Allocation(locator, result string) {
	if m == nil {
		return
	}
	m.Allocations.WithLabelValues(locator, result).Inc()
}

func (m *Metrics) Release(locator, result string) {
	if m == nil {
		return
	}
	m.Releases.WithLabelValues(locator, result).Inc()
}

// Registry sets the locator and function gauges.
func (m *Metrics) Registry(locators, functions int) {
	if m == nil {
		return
	}
	m.Locators.Set(float64(locators))
	m.Functions.Set(float64(functions))
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.Clients.Set(float64(n))
}

func (m *Metrics) Reconcile(area string, changed bool, participating int) {
	if m == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.Reconciles.WithLabelValues(area, label).Inc()
	m.Participating.WithLabelValues(area).Set(float64(participating))
}
