package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_gateway_active_sessions",
		Help: "Number of dictation sessions currently open",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_sessions_total",
		Help: "Total dictation sessions by terminal outcome",
	}, []string{"outcome"}) // completed, failed, evicted

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_gateway_session_duration_seconds",
		Help:    "Wall-clock duration of dictation sessions",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	})

	chunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_gateway_audio_chunks_total",
		Help: "Audio chunks accepted for transcription",
	})

	duplicateChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_gateway_duplicate_chunks_total",
		Help: "Audio chunks dropped as redelivered duplicates",
	})

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_audio_bytes_total",
		Help: "Audio bytes processed",
	}, []string{"direction"}) // in, stored

	transcriptionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_transcription_results_total",
		Help: "Transcription results relayed to clients",
	}, []string{"kind"}) // partial, final

	heartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_gateway_heartbeats_total",
		Help: "Heartbeat frames sent to connected clients",
	})

	storageUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_storage_uploads_total",
		Help: "Recording uploads by status",
	}, []string{"status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_errors_total",
		Help: "Errors by code and component",
	}, []string{"code", "component"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dictation_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordSessionStart marks a session open.
func RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd marks a session closed with its terminal outcome.
func RecordSessionEnd(outcome string, started time.Time) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(started).Seconds())
}

// RecordChunk counts one accepted audio chunk.
func RecordChunk(bytes int) {
	chunksReceived.Inc()
	audioBytes.WithLabelValues("in").Add(float64(bytes))
}

// RecordDuplicateChunk counts a redelivered chunk that was dropped.
func RecordDuplicateChunk() {
	duplicateChunks.Inc()
}

// RecordStoredBytes counts bytes written to the object store.
func RecordStoredBytes(bytes int) {
	audioBytes.WithLabelValues("stored").Add(float64(bytes))
}

// RecordTranscriptionResult counts one relayed result.
func RecordTranscriptionResult(partial bool) {
	kind := "final"
	if partial {
		kind = "partial"
	}
	transcriptionResults.WithLabelValues(kind).Inc()
}

// RecordHeartbeat counts one heartbeat frame.
func RecordHeartbeat() {
	heartbeatsSent.Inc()
}

// RecordStorageUpload counts one upload attempt outcome.
func RecordStorageUpload(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	storageUploads.WithLabelValues(status).Inc()
}

// RecordError counts an error by wire code and emitting component.
func RecordError(code, component string) {
	errorsTotal.WithLabelValues(code, component).Inc()
}

// UpdateCircuitBreakerState publishes a breaker state change.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures counts a breaker-recorded failure.
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
