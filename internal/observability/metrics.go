package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gclink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"server", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gclink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "route", "status"},
	)
	framesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gclink",
			Subsystem: "coordinator",
			Name:      "frames_total",
			Help:      "Coordinator frames dispatched by kind.",
		},
		[]string{"app", "kind"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gclink",
			Subsystem: "coordinator",
			Name:      "decode_errors_total",
			Help:      "Coordinator frames discarded as undecodable.",
		},
		[]string{"app"},
	)
	heartbeatFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gclink",
			Subsystem: "coordinator",
			Name:      "heartbeat_failures_total",
			Help:      "Heartbeat frames that could not be sent.",
		},
		[]string{"app"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gclink",
			Subsystem: "coordinator",
			Name:      "state",
			Help:      "Coordinator session state (0 disconnected, 1 handshake, 2 connected, 3 ready).",
		},
		[]string{"app"},
	)
	waiters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gclink",
			Subsystem: "correlator",
			Name:      "waiters_total",
			Help:      "Correlator waiters by kind and outcome.",
		},
		[]string{"app", "kind", "outcome"},
	)
	cachedObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gclink",
			Subsystem: "inventory",
			Name:      "objects",
			Help:      "Objects mirrored in the inventory cache.",
		},
		[]string{"app"},
	)
	driftRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gclink",
			Subsystem: "inventory",
			Name:      "drift_repairs_total",
			Help:      "Snapshot refetches triggered by unknown objects, by outcome.",
		},
		[]string{"app", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesDispatched, decodeErrors, heartbeatFailures, sessionState,
			waiters, cachedObjects, driftRepairs,
		)
	})
}

func appLabel(app uint32) string {
	return strconv.FormatUint(uint64(app), 10)
}

func RecordHTTPRequest(server, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(app uint32, kind string) {
	RegisterMetrics()
	framesDispatched.WithLabelValues(appLabel(app), kind).Inc()
}

func RecordDecodeError(app uint32) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(appLabel(app)).Inc()
}

func RecordHeartbeatFailure(app uint32) {
	RegisterMetrics()
	heartbeatFailures.WithLabelValues(appLabel(app)).Inc()
}

func SetSessionState(app uint32, state int) {
	RegisterMetrics()
	sessionState.WithLabelValues(appLabel(app)).Set(float64(state))
}

func RecordWaiter(app uint32, kind, outcome string) {
	RegisterMetrics()
	waiters.WithLabelValues(appLabel(app), kind, outcome).Inc()
}

func SetCachedObjects(app uint32, n int) {
	RegisterMetrics()
	cachedObjects.WithLabelValues(appLabel(app)).Set(float64(n))
}

func RecordDriftRepair(app uint32, outcome string) {
	RegisterMetrics()
	driftRepairs.WithLabelValues(appLabel(app), outcome).Inc()
}
