package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/health"
	jobstats "github.com/masa-finance/lead-worker/internal/jobs/stats"
	"github.com/masa-finance/lead-worker/internal/jobserver"
	"github.com/masa-finance/lead-worker/internal/metrics"
	"github.com/masa-finance/lead-worker/internal/store"
)

// Deps are the components the HTTP surface reads from.
type Deps struct {
	JobServer *jobserver.JobServer
	Store     store.Store
	Stats     *jobstats.StatsCollector
	Collector *metrics.Collector
	Health    *health.Tracker
}

// NewServer builds the echo instance with every route registered.
func NewServer(jc config.JobConfiguration, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	switch config.ParseLogLevel(jc.GetString("log_level", "info")) {
	case logrus.DebugLevel:
		e.Logger.SetLevel(log.DEBUG)
	case logrus.WarnLevel:
		e.Logger.SetLevel(log.WARN)
	case logrus.ErrorLevel:
		e.Logger.SetLevel(log.ERROR)
	default:
		e.Logger.SetLevel(log.INFO)
	}

	healthMetrics := NewHealthMetrics()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(APIKeyAuthMiddleware(jc))
	e.Use(HealthMetricsMiddleware(healthMetrics))

	// Health check endpoints (no auth required)
	e.GET(HealthCheckPath, healthz())
	e.GET(ReadinessCheckPath, readyz(deps.JobServer, healthMetrics, deps.Health))

	if jc.GetBool("profiling_enabled", false) {
		enableProfiling(e)
	}

	/*
		- POST /job/add: queue an acquisition
		- POST /job/run: run an acquisition and wait for the result
		- GET /job/status/:job_id: get the state of a job
		- POST /job/cancel/:job_id: cancel a queued or running job
		- GET /job/queue/stats: queue depths
	*/
	job := e.Group("/job")
	job.POST("/add", add(deps.JobServer))
	job.POST("/run", run(deps.JobServer))
	job.GET("/status/:job_id", status(deps.JobServer))
	job.POST("/cancel/:job_id", cancel(deps.JobServer))
	job.GET("/queue/stats", queueStats(deps.JobServer))

	leads := e.Group("/leads")
	leads.GET("/niche/:niche", leadsByNiche(deps))
	leads.GET("/counts", leadCounts(deps))

	e.GET("/stats", stats(deps))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// Start serves the API until ctx is done.
func Start(ctx context.Context, jc config.JobConfiguration, deps Deps) error {
	e := NewServer(jc, deps)
	listenAddress := jc.ListenAddress()

	go func() {
		<-ctx.Done()
		if err := e.Close(); err != nil {
			e.Logger.Error("Failed to close Echo server: ", err)
		}
	}()

	e.Logger.Info(fmt.Sprintf("Starting server on %s", listenAddress))
	if err := e.Start(listenAddress); err != nil && err != http.ErrServerClosed {
		e.Logger.Error(err)
		return err
	}
	return nil
}

func enableProfiling(e *echo.Echo) {
	e.Logger.Info("Enabling profiling - this may impact performance")

	// Sample time in nanoseconds
	runtime.SetBlockProfileRate(500)
	runtime.SetMutexProfileFraction(1)

	pprof.Register(e)
}
