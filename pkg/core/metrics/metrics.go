// Package metrics exports run telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgar_reconciler/pkg/models"
)

const namespace = "edgar_reconciler"

// Registry holds the reconciler's collectors on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	Runs          *prometheus.CounterVec
	Facts         *prometheus.CounterVec
	CIKLookups    *prometheus.CounterVec
	Upstream      *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage", "result"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Reconciliation runs by outcome",
			},
			[]string{"result"},
		),
		Facts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "facts_total",
				Help:      "Facts processed per stage",
			},
			[]string{"stage"},
		),
		CIKLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cik_lookups_total",
				Help:      "Ticker to CIK lookups by result",
			},
			[]string{"result"},
		),
		Upstream: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "SEC requests by status class",
			},
			[]string{"status"},
		),
	}

	r.reg.MustRegister(r.StageDuration, r.Runs, r.Facts, r.CIKLookups, r.Upstream)
	return r
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveStage records one stage execution.
func (r *Registry) ObserveStage(stage models.Stage, ok bool, d time.Duration) {
	r.StageDuration.WithLabelValues(string(stage), result(ok)).Observe(d.Seconds())
}

func (r *Registry) ObserveRun(ok bool) {
	r.Runs.WithLabelValues(result(ok)).Inc()
}

func (r *Registry) AddFacts(stage models.Stage, n int) {
	if n > 0 {
		r.Facts.WithLabelValues(string(stage)).Add(float64(n))
	}
}

// CIKLookup matches the identifier cache's observer signature.
func (r *Registry) CIKLookup(res string) {
	r.CIKLookups.WithLabelValues(res).Inc()
}

// UpstreamResponse matches the EDGAR client's response hook signature.
func (r *Registry) UpstreamResponse(status string) {
	r.Upstream.WithLabelValues(status).Inc()
}

// Gatherer exposes the registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
