package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qatmarket"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	intents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "intents_total",
			Help:      "Executed intents by outcome.",
		},
		[]string{"intent", "outcome"},
	)

	intentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "intent_duration_seconds",
			Help:      "Duration of intent execution including lock wait and retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"intent"},
	)

	intentRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "conflict_retries_total",
			Help:      "Units retried after a concurrency conflict.",
		},
		[]string{"intent"},
	)

	integrityFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "integrity_faults_total",
			Help:      "Wallets frozen after a balance or chain mismatch.",
		},
	)

	reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reconciled_wallets_total",
			Help:      "Wallets checked by reconciliation by result.",
		},
		[]string{"result"},
	)

	pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "pushes_total",
			Help:      "Events handed to live sessions by delivery path.",
		},
		[]string{"path"},
	)

	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Pushes dropped; clients reconcile through the unread pull.",
		},
		[]string{"reason"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently registered live sessions.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		intents,
		intentDuration,
		intentRetries,
		integrityFaults,
		reconciled,
		pushes,
		dropped,
		sessionsActive,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordIntent records one finished Execute call.
func RecordIntent(intent, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "ok"
	}
	intents.WithLabelValues(intent, outcome).Inc()
	intentDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

func RecordRetry(intent string) {
	intentRetries.WithLabelValues(intent).Inc()
}

func RecordIntegrityFault() {
	integrityFaults.Inc()
}

func RecordReconcile(consistent bool) {
	result := "consistent"
	if !consistent {
		result = "mismatch"
	}
	reconciled.WithLabelValues(result).Inc()
}

// RecordPush counts delivered pushes; path is "local" or "relay".
func RecordPush(path string) {
	pushes.WithLabelValues(path).Inc()
}

// RecordDrop counts pushes dropped; reason is e.g. "hub_queue" or "session_queue".
func RecordDrop(reason string) {
	dropped.WithLabelValues(reason).Inc()
}

func SessionOpened() { sessionsActive.Inc() }

func SessionClosed() { sessionsActive.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath replaces id segments so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = ":id"
			continue
		}
		if isDigits(p) {
			parts[i] = ":code"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
