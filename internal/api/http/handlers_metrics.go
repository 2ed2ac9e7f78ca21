package http

import (
	"time"

	"github.com/GriffinCanCode/webshell/internal/infrastructure/monitoring"
)

// HandlerMetrics wraps handlers with metrics tracking
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// TrackSessionOperation starts timing a session operation. Call the
// returned func with the outcome.
func (hm *HandlerMetrics) TrackSessionOperation(operation string) func(status string) {
	start := time.Now()
	return func(status string) {
		hm.metrics.RecordServiceCall("session_api", operation, status, time.Since(start))
	}
}
