package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/masa-finance/lead-worker/internal/health"
	"github.com/masa-finance/lead-worker/internal/jobserver"
)

const serviceName = "lead-worker"

// HealthMetrics tracks health-related metrics for the service
type HealthMetrics struct {
	mu             sync.RWMutex
	errorCount     int
	successCount   int
	windowStart    time.Time
	windowDuration time.Duration
	errorThreshold float64
}

// NewHealthMetrics creates a new health metrics tracker
func NewHealthMetrics() *HealthMetrics {
	return &HealthMetrics{
		windowStart:    time.Now(),
		windowDuration: 10 * time.Minute,
		errorThreshold: 0.95, // 95% error rate threshold
	}
}

// RecordSuccess records a successful request
func (hm *HealthMetrics) RecordSuccess() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkAndResetWindow()
	hm.successCount++
}

// RecordError records an error
func (hm *HealthMetrics) RecordError() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkAndResetWindow()
	hm.errorCount++
}

// checkAndResetWindow resets the metrics window if it has expired
func (hm *HealthMetrics) checkAndResetWindow() {
	if time.Since(hm.windowStart) > hm.windowDuration {
		hm.errorCount = 0
		hm.successCount = 0
		hm.windowStart = time.Now()
	}
}

// IsHealthy checks if the service is healthy based on error rate
func (hm *HealthMetrics) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	total := hm.errorCount + hm.successCount
	if total == 0 {
		return true // No requests yet, consider healthy
	}

	errorRate := float64(hm.errorCount) / float64(total)
	return errorRate < hm.errorThreshold
}

// GetStats returns current health statistics
func (hm *HealthMetrics) GetStats() map[string]any {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	total := hm.errorCount + hm.successCount
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(hm.errorCount) / float64(total)
	}

	return map[string]any{
		"error_count":     hm.errorCount,
		"success_count":   hm.successCount,
		"total_count":     total,
		"error_rate":      errorRate,
		"window_start":    hm.windowStart.Format(time.RFC3339),
		"window_duration": hm.windowDuration.String(),
	}
}

func healthz() func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	}
}

// readyz is ready when the job server runs, the API error rate is below the
// threshold and at least one strategy is usable.
func readyz(jobServer *jobserver.JobServer, healthMetrics *HealthMetrics, tracker *health.Tracker) func(c echo.Context) error {
	return func(c echo.Context) error {
		checks := map[string]any{}
		body := map[string]any{
			"service": serviceName,
			"ready":   true,
			"checks":  checks,
		}
		notReady := func() error {
			body["ready"] = false
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		if jobServer == nil {
			checks["job_server"] = "not initialized"
			return notReady()
		}
		checks["job_server"] = "ok"

		checks["stats"] = healthMetrics.GetStats()
		if !healthMetrics.IsHealthy() {
			checks["error_rate"] = "unhealthy"
			return notReady()
		}
		checks["error_rate"] = "healthy"

		if tracker != nil {
			checks["strategies"] = tracker.Checks()
			if !tracker.Ready() {
				return notReady()
			}
		}

		return c.JSON(http.StatusOK, body)
	}
}
