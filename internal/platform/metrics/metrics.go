package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recorder core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	reconcilePasses   prometheus.Counter
	validationFailed  *prometheus.CounterVec
	stageApplies      *prometheus.CounterVec
	engineRestarts    prometheus.Counter
	restartsSkipped   prometheus.Counter
	engineCrashes     prometheus.Counter
	listingErrors     *prometheus.CounterVec
	videosListed      prometheus.Gauge
	recorderStatus    prometheus.Gauge
	activitiesHandled *prometheus.CounterVec
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		reconcilePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_reconcile_passes_total",
			Help: "Total number of reconciliation passes executed",
		}),
		validationFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_validation_failures_total",
			Help: "Stage validation failures by stage",
		}, []string{"stage"}),
		stageApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_stage_applies_total",
			Help: "Stage apply calls by stage and result",
		}, []string{"stage", "result"}),
		engineRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_engine_restarts_total",
			Help: "Periodic buffer restarts performed",
		}),
		restartsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_engine_restarts_skipped_total",
			Help: "Periodic buffer restarts skipped because they were unsafe",
		}),
		engineCrashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_engine_crashes_total",
			Help: "Engine crashes recovered from",
		}),
		listingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_listing_errors_total",
			Help: "Videos excluded from a listing because of storage errors, by origin",
		}, []string{"origin"}),
		videosListed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_videos_listed",
			Help: "Top-level entries returned by the last listing",
		}),
		recorderStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_status",
			Help: "Current derived recorder status (enum ordinal)",
		}),
		activitiesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_activities_force_ended_total",
			Help: "Activities force-ended because the game process stopped, by flavour",
		}, []string{"flavour"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.reconcilePasses,
		m.validationFailed,
		m.stageApplies,
		m.engineRestarts,
		m.restartsSkipped,
		m.engineCrashes,
		m.listingErrors,
		m.videosListed,
		m.recorderStatus,
		m.activitiesHandled,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// IncReconcilePasses counts one reconciliation pass.
func (m *Metrics) IncReconcilePasses() {
	if m != nil {
		m.reconcilePasses.Inc()
	}
}

// IncValidationFailures counts a validation failure of the named stage.
func (m *Metrics) IncValidationFailures(stage string) {
	if m != nil {
		m.validationFailed.WithLabelValues(stage).Inc()
	}
}

// ObserveStageApply counts an apply of the named stage.
func (m *Metrics) ObserveStageApply(stage string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stageApplies.WithLabelValues(stage, result).Inc()
}

// IncEngineRestarts counts a performed periodic restart.
func (m *Metrics) IncEngineRestarts() {
	if m != nil {
		m.engineRestarts.Inc()
	}
}

// IncRestartsSkipped counts a skipped periodic restart.
func (m *Metrics) IncRestartsSkipped() {
	if m != nil {
		m.restartsSkipped.Inc()
	}
}

// IncEngineCrashes counts a recovered engine crash.
func (m *Metrics) IncEngineCrashes() {
	if m != nil {
		m.engineCrashes.Inc()
	}
}

// IncListingErrors counts a video excluded from a listing.
func (m *Metrics) IncListingErrors(origin string) {
	if m != nil {
		m.listingErrors.WithLabelValues(origin).Inc()
	}
}

// SetVideosListed records the size of the last listing.
func (m *Metrics) SetVideosListed(n int) {
	if m != nil {
		m.videosListed.Set(float64(n))
	}
}

// SetStatus records the current status ordinal.
func (m *Metrics) SetStatus(ordinal int) {
	if m != nil {
		m.recorderStatus.Set(float64(ordinal))
	}
}

// IncForceEnded counts an activity force-ended on process stop.
func (m *Metrics) IncForceEnded(flavour string) {
	if m != nil {
		m.activitiesHandled.WithLabelValues(flavour).Inc()
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
