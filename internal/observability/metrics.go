package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	diagRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcudiag",
			Subsystem: "executor",
			Name:      "requests_total",
			Help:      "Diagnostic requests completed, by service and outcome.",
		},
		[]string{"service", "outcome"},
	)
	diagDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tcudiag",
			Subsystem: "executor",
			Name:      "request_duration_seconds",
			Help:      "Time from dispatch to completion of a diagnostic request.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "outcome"},
	)
	diagRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcudiag",
			Subsystem: "executor",
			Name:      "retries_total",
			Help:      "Requests resent after a response timeout.",
		},
		[]string{"service"},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tcudiag",
			Subsystem: "executor",
			Name:      "session_state",
			Help:      "Current session state (0 disconnected, 1 connecting, 2 established, 3 awaiting, 4 error).",
		},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tcudiag",
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Requests waiting behind the in-flight one.",
		},
	)
	busBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcudiag",
			Subsystem: "bus",
			Name:      "bytes_total",
			Help:      "Diagnostic payload bytes seen on the transport.",
		},
		[]string{"direction"},
	)
	busFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcudiag",
			Subsystem: "bus",
			Name:      "frames_total",
			Help:      "Diagnostic frames seen on the transport.",
		},
		[]string{"direction"},
	)
	busRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tcudiag",
			Subsystem: "bus",
			Name:      "bytes_per_second",
			Help:      "Sliding-window payload rate.",
		},
		[]string{"direction"},
	)
	traceEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tcudiag",
			Subsystem: "trace",
			Name:      "entries_total",
			Help:      "Trace entries recorded.",
		},
	)
	liveSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcudiag",
			Subsystem: "livedata",
			Name:      "samples_total",
			Help:      "Live data polls by identifier and result.",
		},
		[]string{"identifier", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcudiag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tcudiag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			diagRequests, diagDuration, diagRetries, sessionState, queueDepth,
			busBytes, busFrames, busRate, traceEntries, liveSamples,
			httpRequests, httpDuration,
		)
	})
}

func RecordRequest(service, outcome string, duration time.Duration) {
	RegisterMetrics()
	diagRequests.WithLabelValues(service, outcome).Inc()
	diagDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func RecordRetry(service string) {
	RegisterMetrics()
	diagRetries.WithLabelValues(service).Inc()
}

func SetSessionState(state int) {
	RegisterMetrics()
	sessionState.Set(float64(state))
}

func SetQueueDepth(n int) {
	RegisterMetrics()
	queueDepth.Set(float64(n))
}

func RecordBusFrame(direction string, size int) {
	RegisterMetrics()
	busFrames.WithLabelValues(direction).Inc()
	busBytes.WithLabelValues(direction).Add(float64(size))
}

func SetBusRate(direction string, bytesPerSecond float64) {
	RegisterMetrics()
	busRate.WithLabelValues(direction).Set(bytesPerSecond)
}

func RecordTraceEntry() {
	RegisterMetrics()
	traceEntries.Inc()
}

func RecordLiveSample(identifier uint8, result string) {
	RegisterMetrics()
	liveSamples.WithLabelValues("0x"+strconv.FormatUint(uint64(identifier), 16), result).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
