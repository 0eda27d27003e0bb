package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures how an instance context lookup was satisfied.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a live resolved entry was reused.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupShared indicates the caller joined a build already in flight.
	CacheLookupShared CacheLookupOutcome = "shared"
	// CacheLookupMiss indicates no live entry existed and a build was started.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupForced indicates the caller requested a reload.
	CacheLookupForced CacheLookupOutcome = "forced"
)

// CacheBuildOutcome captures the result of an instance context build.
type CacheBuildOutcome string

const (
	// CacheBuildSuccess indicates the build resolved and the entry was kept.
	CacheBuildSuccess CacheBuildOutcome = "success"
	// CacheBuildFailure indicates the build failed and the entry was evicted.
	CacheBuildFailure CacheBuildOutcome = "failure"
)

// Recorder publishes Prometheus metrics for the plugin runtime.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	gatewayCalls   *prometheus.CounterVec
	gatewayRetries *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec

	cacheLookups  *prometheus.CounterVec
	cacheBuilds   *prometheus.CounterVec
	cacheBuildDur *prometheus.HistogramVec
	cacheEntries  *prometheus.GaugeVec

	admissionRejections *prometheus.CounterVec
	schedulingLag       prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginrt",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Plugin route requests by kind, route, and response status.",
	}, []string{"kind", "route", "status_code"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pluginrt",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for plugin route requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"kind", "route"})

	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginrt",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Completed gateway calls by method and final outcome.",
	}, []string{"method", "outcome"})

	gatewayRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginrt",
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Gateway attempts that were retried, by method and reason.",
	}, []string{"method", "reason"})

	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pluginrt",
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Latency distribution for gateway calls including retries.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "outcome"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginrt",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Instance context cache lookups by cache and outcome.",
	}, []string{"cache", "result"})

	cacheBuilds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginrt",
		Subsystem: "cache",
		Name:      "builds_total",
		Help:      "Instance context builds by cache and outcome.",
	}, []string{"cache", "result"})

	cacheBuildDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pluginrt",
		Subsystem: "cache",
		Name:      "build_duration_seconds",
		Help:      "Latency distribution for instance context builds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"cache", "result"})

	cacheEntries := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pluginrt",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Instance contexts held by each cache after the last janitor sweep.",
	}, []string{"cache"})

	admissionRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginrt",
		Subsystem: "admission",
		Name:      "rejections_total",
		Help:      "Requests rejected while the process was overloaded.",
	}, []string{"route"})

	schedulingLag := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pluginrt",
		Subsystem: "admission",
		Name:      "scheduling_lag_seconds",
		Help:      "Most recent smoothed scheduling lag measured by the admission sampler.",
	})

	reg.MustRegister(
		requests, requestLatency,
		gatewayCalls, gatewayRetries, gatewayLatency,
		cacheLookups, cacheBuilds, cacheBuildDur, cacheEntries,
		admissionRejections, schedulingLag,
	)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:            reg,
		handler:             handler,
		requests:            requests,
		requestLatency:      requestLatency,
		gatewayCalls:        gatewayCalls,
		gatewayRetries:      gatewayRetries,
		gatewayLatency:      gatewayLatency,
		cacheLookups:        cacheLookups,
		cacheBuilds:         cacheBuilds,
		cacheBuildDur:       cacheBuildDur,
		cacheEntries:        cacheEntries,
		admissionRejections: admissionRejections,
		schedulingLag:       schedulingLag,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the status and latency of a plugin route request.
func (r *Recorder) ObserveRequest(kind, route string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	kindLabel := normalizeLabel(kind)
	routeLabel := normalizeLabel(route)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(kindLabel, routeLabel, statusLabel).Inc()
	r.requestLatency.WithLabelValues(kindLabel, routeLabel).Observe(duration.Seconds())
}

// ObserveGatewayCall records the final outcome of a gateway call.
func (r *Recorder) ObserveGatewayCall(method, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	methodLabel := normalizeLabel(strings.ToUpper(method))
	outcomeLabel := normalizeLabel(outcome)
	r.gatewayCalls.WithLabelValues(methodLabel, outcomeLabel).Inc()
	r.gatewayLatency.WithLabelValues(methodLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveGatewayRetry records one retried gateway attempt.
func (r *Recorder) ObserveGatewayRetry(method, reason string) {
	if r == nil {
		return
	}
	r.gatewayRetries.WithLabelValues(normalizeLabel(strings.ToUpper(method)), normalizeLabel(reason)).Inc()
}

// ObserveCacheLookup records how a cache lookup was satisfied.
func (r *Recorder) ObserveCacheLookup(cache string, result CacheLookupOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.cacheLookups.WithLabelValues(normalizeLabel(cache), resultLabel).Inc()
}

// ObserveCacheBuild records the result and duration of an instance context build.
func (r *Recorder) ObserveCacheBuild(cache string, result CacheBuildOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	cacheLabel := normalizeLabel(cache)
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheBuildFailure)
	}
	r.cacheBuilds.WithLabelValues(cacheLabel, resultLabel).Inc()
	r.cacheBuildDur.WithLabelValues(cacheLabel, resultLabel).Observe(duration.Seconds())
}

// ObserveCacheEntries publishes how many instance contexts a cache holds.
func (r *Recorder) ObserveCacheEntries(cache string, entries int) {
	if r == nil {
		return
	}
	r.cacheEntries.WithLabelValues(normalizeLabel(cache)).Set(float64(entries))
}

// ObserveAdmissionRejection records a request shed by the admission gate.
func (r *Recorder) ObserveAdmissionRejection(route string) {
	if r == nil {
		return
	}
	r.admissionRejections.WithLabelValues(normalizeLabel(route)).Inc()
}

// SetSchedulingLag publishes the latest lag sample.
func (r *Recorder) SetSchedulingLag(lag time.Duration) {
	if r == nil {
		return
	}
	r.schedulingLag.Set(lag.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
