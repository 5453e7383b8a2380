package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	compileDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}
)

// Submission outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeInvalid = "invalid"
	OutcomeSkipped = "skipped"
)

// Metrics holds the panel's Prometheus instruments.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec

	NavigationCompilesTotal   *prometheus.CounterVec
	NavigationCompileDuration prometheus.Histogram

	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge

	SessionsTotal *prometheus.CounterVec

	DefinitionReloadTotal    *prometheus.CounterVec
	FormsLoaded              prometheus.Gauge
	OpenAPIOperationsIndexed prometheus.Gauge
}

// InitMetrics creates and registers every instrument with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_form_submissions_total",
			Help: "Form submissions by outcome. Skipped counts submits ignored while one was in flight.",
		}, []string{"form_id", "outcome"}),
		SubmissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panel_form_submission_duration_seconds",
			Help:    "Time from submit to settlement in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"form_id"}),

		NavigationCompilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_navigation_compiles_total",
			Help: "Navigation compilations by status.",
		}, []string{"status"}),
		NavigationCompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "panel_navigation_compile_duration_seconds",
			Help:    "Navigation compilation duration in seconds.",
			Buckets: compileDurationBuckets,
		}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_backend_requests_total",
			Help: "Requests sent to the federated server.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panel_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panel_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_sessions_total",
			Help: "Session lifecycle events (login, logout, revoked).",
		}, []string{"event"}),

		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_definition_reload_total",
			Help: "Definition reloads by status.",
		}, []string{"status"}),
		FormsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panel_forms_loaded",
			Help: "Number of loaded form definitions.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panel_openapi_operations_indexed",
			Help: "Number of indexed backend operations.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SubmissionsTotal,
		m.SubmissionDuration,
		m.NavigationCompilesTotal,
		m.NavigationCompileDuration,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.SessionsTotal,
		m.DefinitionReloadTotal,
		m.FormsLoaded,
		m.OpenAPIOperationsIndexed,
	)
	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordSubmission records a settled, rejected, or skipped submission.
// duration is ignored for skipped and invalid submissions.
func (m *Metrics) RecordSubmission(formID, outcome string, duration time.Duration) {
	m.SubmissionsTotal.WithLabelValues(formID, outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeError {
		m.SubmissionDuration.WithLabelValues(formID).Observe(duration.Seconds())
	}
}

// RecordNavigationCompile records a navigation compilation.
func (m *Metrics) RecordNavigationCompile(duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.NavigationCompilesTotal.WithLabelValues(status).Inc()
	m.NavigationCompileDuration.Observe(duration.Seconds())
}

// RecordBackendRequest records one attempt against the backend. Status 0
// means no response was received.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "none"
	}
	m.BackendRequestsTotal.WithLabelValues(operation, label).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the breaker gauge (0=closed,
// 1=half-open, 2=open).
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	m.BackendCircuitBreakerState.Set(state)
}

// RecordSession records a session lifecycle event.
func (m *Metrics) RecordSession(event string) {
	m.SessionsTotal.WithLabelValues(event).Inc()
}

// RecordDefinitionReload records a reload outcome.
func (m *Metrics) RecordDefinitionReload(err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetFormsLoaded sets the number of loaded forms.
func (m *Metrics) SetFormsLoaded(n int) {
	m.FormsLoaded.Set(float64(n))
}

// SetOpenAPIOperationsIndexed sets the number of indexed operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(n int) {
	m.OpenAPIOperationsIndexed.Set(float64(n))
}

// MetricsMiddleware records request metrics labelled with chi's route pattern
// rather than the raw path, keeping label cardinality bounded.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern, falling back to the raw path.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// statusWriter captures the response status.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Flush lets streaming handlers flush through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
