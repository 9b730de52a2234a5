package supervisor

import (
	"sync"
	"time"
)

// HealthStatus represents the health state of the governor
type HealthStatus int

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusDegraded
	HealthStatusUnhealthy
)

// String returns string representation of health status
func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthCheck tracks whether ticks keep succeeding. Written by the tick
// goroutine, read by the metrics server.
type HealthCheck struct {
	mu sync.RWMutex

	status           HealthStatus
	lastStatusChange time.Time

	lastSuccessfulTick      time.Time
	consecutiveTickFailures int
	totalTickFailures       int64
	totalTicks              int64
	lastError               string

	maxConsecutiveFailures int
	maxTickAge             time.Duration
	now                    func() time.Time
}

// NewHealthCheck creates a health check for a loop ticking every interval.
func NewHealthCheck(interval time.Duration) *HealthCheck {
	return newHealthCheck(interval, time.Now)
}

func newHealthCheck(interval time.Duration, now func() time.Time) *HealthCheck {
	if interval <= 0 {
		interval = time.Second
	}
	maxAge := 5 * interval
	if maxAge < 30*time.Second {
		maxAge = 30 * time.Second
	}

	start := now()
	return &HealthCheck{
		status:                 HealthStatusHealthy,
		lastStatusChange:       start,
		lastSuccessfulTick:     start,
		maxConsecutiveFailures: 5,
		maxTickAge:             maxAge,
		now:                    now,
	}
}

// RecordTickSuccess records a tick that sampled the process table.
func (hc *HealthCheck) RecordTickSuccess() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.totalTicks++
	hc.lastSuccessfulTick = hc.now()
	hc.consecutiveTickFailures = 0
	hc.updateStatus()
}

// RecordTickFailure records a tick that could not sample.
func (hc *HealthCheck) RecordTickFailure(err error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.totalTicks++
	hc.consecutiveTickFailures++
	hc.totalTickFailures++
	if err != nil {
		hc.lastError = err.Error()
	}
	hc.updateStatus()
}

// updateStatus updates health status based on current state
// Must be called with lock held
func (hc *HealthCheck) updateStatus() {
	newStatus := HealthStatusHealthy

	if hc.now().Sub(hc.lastSuccessfulTick) > hc.maxTickAge {
		newStatus = HealthStatusUnhealthy
	} else if hc.consecutiveTickFailures >= hc.maxConsecutiveFailures {
		newStatus = HealthStatusUnhealthy
	} else if hc.consecutiveTickFailures >= (hc.maxConsecutiveFailures+1)/2 {
		newStatus = HealthStatusDegraded
	}

	if newStatus != hc.status {
		hc.status = newStatus
		hc.lastStatusChange = hc.now()
	}
}

// Status returns current health status
func (hc *HealthCheck) Status() HealthStatus {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	// a stalled loop records nothing, so age is re-evaluated on read
	hc.updateStatus()
	return hc.status
}

// IsHealthy returns true unless the loop is unhealthy. Degraded still serves.
func (hc *HealthCheck) IsHealthy() bool {
	return hc.Status() != HealthStatusUnhealthy
}

// Report returns detailed health report
func (hc *HealthCheck) Report() map[string]interface{} {
	status := hc.Status()

	hc.mu.RLock()
	defer hc.mu.RUnlock()

	report := map[string]interface{}{
		"status":                    status.String(),
		"status_duration":           hc.now().Sub(hc.lastStatusChange).String(),
		"last_successful_tick":      hc.lastSuccessfulTick.Format(time.RFC3339),
		"time_since_last_tick":      hc.now().Sub(hc.lastSuccessfulTick).String(),
		"consecutive_tick_failures": hc.consecutiveTickFailures,
		"total_tick_failures":       hc.totalTickFailures,
		"total_ticks":               hc.totalTicks,
	}
	if hc.lastError != "" {
		report["last_error"] = hc.lastError
	}
	return report
}
