// Package observability provides runtime wrappers (adaptive timeouts,
// circuit breakers, adaptive pollers, and a collapsed observable client)
// shared by the pool, broker, typed, and facade packages.
package observability

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnectionType identifies what kind of broker connection is being
// observed.
type ConnectionType string

const (
	ConnectionTypeProducer ConnectionType = "producer"
	ConnectionTypeConsumer ConnectionType = "consumer"
	ConnectionTypeRegistry ConnectionType = "registry"
)

// OperationType identifies the operation being observed.
type OperationType string

const (
	OperationTypePoll    OperationType = "poll"
	OperationTypePublish OperationType = "publish"
	OperationTypeConsume OperationType = "consume"
	OperationTypeRent    OperationType = "rent"
)

// ConnectionMetrics tracks local (non-Prometheus) metrics for a single
// external connection: counts, latency, errors, and circuit-breaker state.
// Exposed for GetHealthStatus/Diagnostics; Prometheus metrics live
// separately in internal/adapter/observability.
type ConnectionMetrics struct {
	mu sync.RWMutex

	ConnectionType ConnectionType
	OperationType  OperationType
	Endpoint       string

	TotalRequests   int64
	SuccessRequests int64
	FailureRequests int64
	TimeoutRequests int64

	TotalLatency time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration
	AvgLatency   time.Duration

	ErrorCounts map[string]int64

	FirstRequest time.Time
	LastRequest  time.Time
	LastSuccess  time.Time
	LastFailure  time.Time
}

// NewConnectionMetrics creates new connection metrics.
func NewConnectionMetrics(connType ConnectionType, opType OperationType, endpoint string) *ConnectionMetrics {
	return &ConnectionMetrics{
		ConnectionType: connType,
		OperationType:  opType,
		Endpoint:       endpoint,
		MinLatency:     time.Hour,
		ErrorCounts:    make(map[string]int64),
	}
}

// RecordRequest records a request start.
func (cm *ConnectionMetrics) RecordRequest() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.TotalRequests++
	if cm.FirstRequest.IsZero() {
		cm.FirstRequest = time.Now()
	}
	cm.LastRequest = time.Now()
}

// RecordSuccess records a successful operation.
func (cm *ConnectionMetrics) RecordSuccess(duration time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.SuccessRequests++
	cm.LastSuccess = time.Now()

	cm.TotalLatency += duration
	if duration < cm.MinLatency {
		cm.MinLatency = duration
	}
	if duration > cm.MaxLatency {
		cm.MaxLatency = duration
	}
	if cm.SuccessRequests > 0 {
		cm.AvgLatency = cm.TotalLatency / time.Duration(cm.SuccessRequests)
	}
}

// RecordFailure records a failed operation.
func (cm *ConnectionMetrics) RecordFailure(err error, _ time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.FailureRequests++
	cm.LastFailure = time.Now()

	errorType := "unknown"
	if err != nil {
		errorType = err.Error()
	}
	cm.ErrorCounts[errorType]++
}

// RecordTimeout records a timeout.
func (cm *ConnectionMetrics) RecordTimeout(_ time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.TimeoutRequests++
	cm.LastFailure = time.Now()
	cm.ErrorCounts["timeout"]++
}

// GetStats returns current metrics as a generic map, suitable for
// Diagnostics().
func (cm *ConnectionMetrics) GetStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	successRate := float64(0)
	if cm.TotalRequests > 0 {
		successRate = float64(cm.SuccessRequests) / float64(cm.TotalRequests) * 100
	}

	return map[string]interface{}{
		"connection_type":  string(cm.ConnectionType),
		"operation_type":   string(cm.OperationType),
		"endpoint":         cm.Endpoint,
		"total_requests":   cm.TotalRequests,
		"success_requests": cm.SuccessRequests,
		"failure_requests": cm.FailureRequests,
		"timeout_requests": cm.TimeoutRequests,
		"success_rate":     fmt.Sprintf("%.2f%%", successRate),
		"avg_latency":      cm.AvgLatency.String(),
		"min_latency":      cm.MinLatency.String(),
		"max_latency":      cm.MaxLatency.String(),
		"error_counts":     cm.ErrorCounts,
	}
}

// IsHealthy returns true if recent failures don't dominate the request mix.
func (cm *ConnectionMetrics) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.LastFailure.IsZero() && time.Since(cm.LastFailure) < 5*time.Minute {
		recentTotal := cm.SuccessRequests + cm.FailureRequests
		if recentTotal > 0 {
			failureRate := float64(cm.FailureRequests) / float64(recentTotal)
			if failureRate > 0.5 {
				return false
			}
		}
	}
	return true
}

// Reset clears all counters.
func (cm *ConnectionMetrics) Reset() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.TotalRequests = 0
	cm.SuccessRequests = 0
	cm.FailureRequests = 0
	cm.TimeoutRequests = 0
	cm.TotalLatency = 0
	cm.MinLatency = time.Hour
	cm.MaxLatency = 0
	cm.AvgLatency = 0
	cm.ErrorCounts = make(map[string]int64)
	cm.FirstRequest = time.Time{}
	cm.LastRequest = time.Time{}
	cm.LastSuccess = time.Time{}
	cm.LastFailure = time.Time{}

	slog.Debug("connection metrics reset",
		slog.String("connection_type", string(cm.ConnectionType)),
		slog.String("endpoint", cm.Endpoint))
}
