// Package metrics exposes the Prometheus instruments of the API and its
// background workers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stratus"

// Idempotency outcomes.
const (
	IdempotencyReplayed = "replayed"
	IdempotencyReused   = "reused"
	IdempotencyInFlight = "in_flight"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by method, route pattern and status.",
	}, []string{"method", "route", "status"})

	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 9),
	}, []string{"method", "route"})

	notificationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notify", Name: "outcomes_total",
		Help: "Per-recipient notification outcomes.",
	}, []string{"type", "status"})

	providerSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "notify", Name: "provider_sends_total",
		Help: "Provider send attempts.",
	}, []string{"provider", "result"})

	providerSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "notify", Name: "provider_send_seconds",
		Help:    "Time spent in one provider send.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 8),
	}, []string{"provider"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "notify", Name: "circuit_state",
		Help: "Provider circuit position: 0 closed, 1 open, 2 half-open.",
	}, []string{"provider"})

	auditFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "audit", Name: "write_failures_total",
		Help: "Audit entries that could not be persisted.",
	}, []string{"entity"})

	jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "jobs", Name: "finished_total",
		Help: "Background jobs by name and result.",
	}, []string{"job", "result"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "jobs", Name: "running",
		Help: "Background jobs currently running.",
	})

	queueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "jobs", Name: "sqs_in_flight",
		Help: "Job messages received from SQS and not yet acknowledged.",
	})

	idempotency = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "api", Name: "idempotency_total",
		Help: "Idempotency-Key requests short-circuited by outcome.",
	}, []string{"outcome"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "api", Name: "rate_limited_total",
		Help: "Requests rejected by the per-organization rate limit.",
	}, []string{"organization_id"})

	dbConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "store", Name: "db_connections",
		Help: "Acquired database connections.",
	})

	redisConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "store", Name: "redis_connections",
		Help: "Open Redis pool connections.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by chi route
// pattern, so ids in paths do not grow the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		requestSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordNotificationOutcome(notifType, status string) {
	notificationOutcomes.WithLabelValues(notifType, status).Inc()
}

func RecordProviderSend(provider string, ok bool, took time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	providerSends.WithLabelValues(provider, result).Inc()
	providerSeconds.WithLabelValues(provider).Observe(took.Seconds())
}

// SetBreakerState publishes a provider circuit position.
func SetBreakerState(provider string, state int) {
	breakerState.WithLabelValues(provider).Set(float64(state))
}

func RecordAuditFailure(entity string) {
	auditFailures.WithLabelValues(entity).Inc()
}

func RecordJob(job, result string) {
	jobs.WithLabelValues(job, result).Inc()
}

// JobStarted and JobFinished bracket every background job.
func JobStarted()  { jobsRunning.Inc() }
func JobFinished() { jobsRunning.Dec() }

func SetSQSMessagesInFlight(n int) {
	queueInFlight.Set(float64(n))
}

// RecordIdempotency counts a request answered without running the handler.
func RecordIdempotency(outcome string) {
	idempotency.WithLabelValues(outcome).Inc()
}

func RecordRateLimitRejection(orgID string) {
	rateLimited.WithLabelValues(orgID).Inc()
}

func SetDBConnections(n int) {
	dbConns.Set(float64(n))
}

func SetRedisConnections(n int) {
	redisConns.Set(float64(n))
}
