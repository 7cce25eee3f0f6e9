// Package metrics exposes Prometheus instrumentation for sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emi_offers"

// Recorder records sync outcomes. A nil Recorder discards everything.
type Recorder struct {
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	files       prometheus.Counter
	rows        prometheus.Counter
	skipped     prometheus.Counter
	lastSuccess prometheus.Gauge
}

// New registers the sync collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by terminal state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of a sync run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		files: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_reconciled_total",
			Help:      "Offers files committed to the store.",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Offer rows upserted.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Malformed offer rows skipped during parsing.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last sync run that reached done.",
		}),
	}
	reg.MustRegister(r.runs, r.duration, r.files, r.rows, r.skipped, r.lastSuccess)
	return r
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(state string, elapsed time.Duration, finishedAt time.Time, succeeded bool) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(state).Inc()
	r.duration.Observe(elapsed.Seconds())
	if succeeded {
		r.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// FileReconciled records one committed file.
func (r *Recorder) FileReconciled(rows, skipped int) {
	if r == nil {
		return
	}
	r.files.Inc()
	r.rows.Add(float64(rows))
	r.skipped.Add(float64(skipped))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
