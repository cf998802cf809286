package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ai_chat_active_connections",
		Help: "Number of active WebSocket connections",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ai_chat_calls_total",
		Help: "Total number of voice calls started",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ai_chat_call_duration_seconds",
		Help:    "Duration of voice calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Relay metrics
	relayBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_chat_relay_bytes_total",
		Help: "Total bytes relayed between client and upstream",
	}, []string{"direction"}) // direction: "in" or "out"

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_chat_upstream_requests_total",
		Help: "Total number of upstream chat-completions requests",
	}, []string{"status"})

	upstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ai_chat_upstream_first_byte_seconds",
		Help:    "Latency until the first upstream response byte",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Audio flush metrics
	audioFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_chat_audio_flushes_total",
		Help: "Total number of buffered call audio flushes to upstream",
	}, []string{"reason"}) // reason: "chunks", "interval", "silence"

	flushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ai_chat_flush_batch_chunks",
		Help:    "Number of audio chunks merged per upstream flush",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_chat_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ai_chat_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// ConnMetrics tracks metrics for a single WebSocket connection
type ConnMetrics struct {
	connectionID      string
	callStartTime     time.Time
	upstreamStartTime time.Time
	mu                sync.Mutex
}

// NewConnMetrics creates a metrics tracker for a connection
func NewConnMetrics(connectionID string) *ConnMetrics {
	activeConnections.Inc()
	return &ConnMetrics{connectionID: connectionID}
}

// RecordConnectionClosed records the end of the connection
func (m *ConnMetrics) RecordConnectionClosed() {
	activeConnections.Dec()
}

// RecordCallStart records the start of a voice call
func (m *ConnMetrics) RecordCallStart() {
	m.mu.Lock()
	m.callStartTime = time.Now()
	m.mu.Unlock()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a voice call
func (m *ConnMetrics) RecordCallEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.callStartTime.IsZero() {
		callDuration.Observe(time.Since(m.callStartTime).Seconds())
		m.callStartTime = time.Time{}
	}
}

// RecordUpstreamStart records the start of an upstream request
func (m *ConnMetrics) RecordUpstreamStart() {
	m.mu.Lock()
	m.upstreamStartTime = time.Now()
	m.mu.Unlock()
}

// RecordUpstreamFirstByte records latency until the first upstream byte
func (m *ConnMetrics) RecordUpstreamFirstByte() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.upstreamStartTime.IsZero() {
		upstreamLatency.Observe(time.Since(m.upstreamStartTime).Seconds())
		m.upstreamStartTime = time.Time{}
	}
}

// RecordFlush records an upstream audio flush and its batch size
func (m *ConnMetrics) RecordFlush(reason string, chunks int) {
	audioFlushes.WithLabelValues(reason).Inc()
	flushBatchSize.Observe(float64(chunks))
}

// RecordRelayBytes records bytes relayed on this connection
func (m *ConnMetrics) RecordRelayBytes(direction string, bytes int64) {
	relayBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error for this connection
func (m *ConnMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordUpstreamRequest records the outcome of an upstream request
func RecordUpstreamRequest(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	upstreamRequests.WithLabelValues(status).Inc()
}

// RecordRelayBytes records bytes relayed outside a connection context
func RecordRelayBytes(direction string, bytes int64) {
	relayBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error outside a connection context
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
