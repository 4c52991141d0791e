package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/metrics"
)

const HealthCheckPath = "/healthz"
const ReadinessCheckPath = "/readyz"

func isHealthCheck(path string) bool {
	return path == HealthCheckPath || path == ReadinessCheckPath
}

// acquisitionPath reports whether a request exercises the pipeline, as
// opposed to scraping or debugging the worker.
func acquisitionPath(path string) bool {
	return strings.HasPrefix(path, "/job/") || strings.HasPrefix(path, "/leads/")
}

// APIKeyAuthMiddleware accepts "Authorization: Bearer <key>" or "X-API-Key: <key>"
// on everything but the health checks. Without a configured key the API is open.
func APIKeyAuthMiddleware(jc config.JobConfiguration) echo.MiddlewareFunc {
	apiKey := []byte(jc.GetString("api_key", ""))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(apiKey) == 0 {
			return next
		}
		return func(c echo.Context) error {
			if isHealthCheck(c.Request().URL.Path) {
				return next(c)
			}
			h := c.Request().Header
			presented := h.Get("X-API-Key")
			if bearer, ok := strings.CutPrefix(h.Get("Authorization"), "Bearer "); ok {
				presented = bearer
			}
			if subtle.ConstantTimeCompare([]byte(presented), apiKey) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid API key")
			}
			return next(c)
		}
	}
}

// HealthMetricsMiddleware feeds the readiness error rate from acquisition
// requests and counts every other request by route and status.
func HealthMetricsMiddleware(healthMetrics *HealthMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if isHealthCheck(path) {
				return next(c)
			}

			err := next(c)
			status := responseStatus(c, err)
			metrics.APIRequests.WithLabelValues(c.Path(), strconv.Itoa(status)).Inc()

			if acquisitionPath(path) {
				switch {
				case status >= 500:
					healthMetrics.RecordError()
				case status >= 200 && status < 400:
					healthMetrics.RecordSuccess()
				}
				// 4xx are the caller's fault and say nothing about the worker.
			}
			return err
		}
	}
}

// responseStatus is the status the client will see. A returned error has
// not been written yet when the middleware runs.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
