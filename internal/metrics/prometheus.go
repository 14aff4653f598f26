package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	runsInFlight prom.Gauge
	runs         *prom.CounterVec
	duration     prom.Histogram
	renamed      prom.Counter
	restored     prom.Counter
}

// NewPrometheusRecorder constructs and registers the sync metrics with
// the given registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	r := &PrometheusRecorder{
		runsInFlight: prom.NewGauge(prom.GaugeOpts{
			Name: "nbsyncd_runs_in_flight",
			Help: "Reconciliation runs currently in progress.",
		}),
		runs: prom.NewCounterVec(prom.CounterOpts{
			Name: "nbsyncd_runs_total",
			Help: "Completed reconciliation runs by outcome.",
		}, []string{"outcome"}),
		duration: prom.NewHistogram(prom.HistogramOpts{
			Name:    "nbsyncd_run_duration_seconds",
			Help:    "Wall-clock duration of reconciliation runs.",
			Buckets: prom.ExponentialBuckets(0.1, 2, 12),
		}),
		renamed: prom.NewCounter(prom.CounterOpts{
			Name: "nbsyncd_files_renamed_total",
			Help: "Local files renamed to timestamped backups.",
		}),
		restored: prom.NewCounter(prom.CounterOpts{
			Name: "nbsyncd_files_restored_total",
			Help: "Locally deleted files restored from upstream.",
		}),
	}
	reg.MustRegister(r.runsInFlight, r.runs, r.duration, r.renamed, r.restored)
	return r
}

func (r *PrometheusRecorder) RunStarted() { r.runsInFlight.Inc() }

func (r *PrometheusRecorder) RunFinished(outcome string, seconds float64) {
	r.runsInFlight.Dec()
	r.runs.WithLabelValues(outcome).Inc()
	r.duration.Observe(seconds)
}

func (r *PrometheusRecorder) FilesRenamed(n int)  { r.renamed.Add(float64(n)) }
func (r *PrometheusRecorder) FilesRestored(n int) { r.restored.Add(float64(n)) }

// Handler returns an http.Handler serving the registry in the
// Prometheus exposition format.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
