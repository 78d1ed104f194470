// Package metrics exposes Prometheus instruments for the proxy pool and
// the download pipeline.
//
// A nil *Recorder is valid and records nothing, so components can be
// built without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidyodl"

// Recorder owns a dedicated registry and every instrument registered on it.
type Recorder struct {
	registry *prometheus.Registry

	proxyCandidates prometheus.Gauge
	proxyLive       prometheus.Gauge
	probeDuration   *prometheus.HistogramVec
	failovers       prometheus.Counter

	jobTransitions *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobAttempts    prometheus.Histogram
}

// New creates a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		proxyCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "candidates",
			Help:      "Number of configured relay proxy candidates.",
		}),
		proxyLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "live",
			Help:      "Number of proxies in the live subset.",
		}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "probe_duration_seconds",
			Help:      "Health probe round-trip time by result.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"result"}),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failovers_total",
			Help:      "Proxies evicted from the live subset after a proxy-attributable failure.",
		}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "transitions_total",
			Help:      "Job state machine transitions by target state.",
		}, []string{"state"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"kind", "state"}),
		jobAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "attempts",
			Help:      "Attempts used by finished jobs.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.proxyCandidates,
		r.proxyLive,
		r.probeDuration,
		r.failovers,
		r.jobTransitions,
		r.jobsFinished,
		r.jobAttempts,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetPoolSize records the candidate and live counts after a probe cycle
// or an eviction.
func (r *Recorder) SetPoolSize(candidates, live int) {
	if r == nil {
		return
	}
	r.proxyCandidates.Set(float64(candidates))
	r.proxyLive.Set(float64(live))
}

// ObserveProbe records one health probe. result is "live", "timeout" or "failure".
func (r *Recorder) ObserveProbe(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.probeDuration.WithLabelValues(result).Observe(d.Seconds())
}

// IncFailover counts one eviction.
func (r *Recorder) IncFailover() {
	if r == nil {
		return
	}
	r.failovers.Inc()
}

// ObserveTransition counts a job entering state.
func (r *Recorder) ObserveTransition(state string) {
	if r == nil {
		return
	}
	r.jobTransitions.WithLabelValues(state).Inc()
}

// ObserveFinished counts a job reaching a terminal state.
func (r *Recorder) ObserveFinished(kind, state string, attempts int) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(kind, state).Inc()
	r.jobAttempts.Observe(float64(attempts))
}
