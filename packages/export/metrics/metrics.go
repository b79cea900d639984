// Package metrics exports test run activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

const (
	namespace = "hitsuite"
	unmatched = "unmatched"
)

// Recorder implements testrun.Observer. Each Recorder owns its registry so
// several engines, or tests, never collide on registration.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal     prometheus.Counter
	runsInFlight  prometheus.Gauge
	eventsTotal   *prometheus.CounterVec
	entryDuration *prometheus.HistogramVec
	runDuration   prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewRecorder creates a recorder with Go runtime and process collectors
// registered alongside the run metrics.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of test runs started.",
		}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Number of test runs currently executing.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of entry events emitted, by state.",
		}, []string{"state"}),
		entryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entry_duration_seconds",
			Help:      "Time from an entry's STARTED event to its terminal event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished test runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.runsTotal,
		r.runsInFlight,
		r.eventsTotal,
		r.entryDuration,
		r.runDuration,
		r.httpRequestsTotal,
		r.httpRequestDuration,
	)
	return r
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RunStarted(*testrun.Spec) {
	r.runsTotal.Inc()
	r.runsInFlight.Inc()
}

func (r *Recorder) EventPublished(ev testrun.Event) {
	r.eventsTotal.WithLabelValues(string(ev.State)).Inc()
}

func (r *Recorder) RunFinished(s testrun.Summary) {
	r.runsInFlight.Dec()
	r.runDuration.Observe(s.Duration.Seconds())
	for _, e := range s.Entries {
		r.entryDuration.WithLabelValues(string(e.State)).Observe(e.Duration.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware records request count and duration for every HTTP request,
// labelled by chi route pattern to keep cardinality bounded.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(req)
		r.httpRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
		r.httpRequestDuration.WithLabelValues(req.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}
