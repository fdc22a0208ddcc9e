package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the updater's Prometheus collectors on a private registry.
type Recorder struct {
	reg *prometheus.Registry

	crmRequests *prometheus.CounterVec
	phaseItems  *prometheus.GaugeVec
	fetchFails  *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	imported    *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		crmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workdays_crm_requests_total",
			Help: "CRM API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		phaseItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workdays_phase_items",
			Help: "Items produced by each phase of the last run.",
		}, []string{"phase"}),
		fetchFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workdays_item_failures_total",
			Help: "Items dropped from a phase because their fetch failed.",
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workdays_runs_total",
			Help: "Updater runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workdays_run_duration_seconds",
			Help:    "Wall time of updater runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		imported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workdays_sink_records_total",
			Help: "Records sent to the analytics sink by kind.",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(r.crmRequests, r.phaseItems, r.fetchFails, r.runs, r.runDuration, r.imported)
	return r
}

func (r *Recorder) ObserveCRMRequest(endpoint, outcome string) {
	r.crmRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (r *Recorder) PhaseItems(phase string, n int) {
	r.phaseItems.WithLabelValues(phase).Set(float64(n))
}

func (r *Recorder) ItemFailed(phase string) {
	r.fetchFails.WithLabelValues(phase).Inc()
}

func (r *Recorder) RunFinished(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.runs.WithLabelValues(result).Inc()
	r.runDuration.Observe(d.Seconds())
}

func (r *Recorder) Imported(kind string, n int) {
	r.imported.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
