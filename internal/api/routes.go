package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/jobserver"
	"github.com/masa-finance/lead-worker/internal/orchestrator"
)

// add queues an acquisition job and returns its uuid. Invalid jobs are
// rejected with 400 and never queued.
func add(jobServer *jobserver.JobServer) func(c echo.Context) error {
	return func(c echo.Context) error {
		jobRequest := types.JobRequest{}
		if err := c.Bind(&jobRequest); err != nil {
			return c.JSON(http.StatusBadRequest, types.JobError{Error: err.Error()})
		}

		uuid, err := jobServer.AddJob(jobRequest)
		if err != nil {
			return c.JSON(errorStatus(err), types.JobError{Error: err.Error()})
		}

		return c.JSON(http.StatusOK, types.JobResponse{UID: uuid})
	}
}

// run executes an acquisition job while the client waits.
func run(jobServer *jobserver.JobServer) func(c echo.Context) error {
	return func(c echo.Context) error {
		jobRequest := types.JobRequest{}
		if err := c.Bind(&jobRequest); err != nil {
			return c.JSON(http.StatusBadRequest, types.JobError{Error: err.Error()})
		}

		res, err := jobServer.RunJob(c.Request().Context(), jobRequest)
		if err != nil {
			return c.JSON(errorStatus(err), types.JobError{Error: err.Error()})
		}
		if res.Error != "" {
			return c.JSON(http.StatusInternalServerError, types.JobError{Error: res.Error})
		}
		return c.JSON(http.StatusOK, res.Result)
	}
}

// status returns the cached state of a job: 404 when unknown, otherwise the
// JobResult with Done false while it is queued or running.
func status(jobServer *jobserver.JobServer) func(c echo.Context) error {
	return func(c echo.Context) error {
		res, exists := jobServer.GetJobResult(c.Param("job_id"))
		if !exists {
			return c.JSON(http.StatusNotFound, types.JobError{Error: "Job not found"})
		}
		return c.JSON(http.StatusOK, res)
	}
}

func cancel(jobServer *jobserver.JobServer) func(c echo.Context) error {
	return func(c echo.Context) error {
		if err := jobServer.CancelJob(c.Param("job_id")); err != nil {
			return c.JSON(errorStatus(err), types.JobError{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, types.JobResponse{UID: c.Param("job_id")})
	}
}

func queueStats(jobServer *jobserver.JobServer) func(c echo.Context) error {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, jobServer.GetQueueStats())
	}
}

func leadsByNiche(deps Deps) func(c echo.Context) error {
	return func(c echo.Context) error {
		niche := orchestrator.NormalizeNiche(c.Param("niche"))
		leads, err := deps.Store.ListByNiche(c.Request().Context(), niche)
		if err != nil {
			logrus.WithError(err).Errorf("Failed to list leads for %s", niche)
			return c.JSON(http.StatusInternalServerError, types.JobError{Error: err.Error()})
		}
		if leads == nil {
			leads = []types.LeadRecord{}
		}
		return c.JSON(http.StatusOK, leads)
	}
}

func leadCounts(deps Deps) func(c echo.Context) error {
	return func(c echo.Context) error {
		counts, err := deps.Store.CountByNiche(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, types.JobError{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, counts)
	}
}

// stats reports the telemetry counters, the rolling run aggregates and the
// strategy health in one document.
func stats(deps Deps) func(c echo.Context) error {
	return func(c echo.Context) error {
		out := map[string]any{}
		if deps.Stats != nil {
			data, err := deps.Stats.Json()
			if err != nil {
				return c.JSON(http.StatusInternalServerError, types.JobError{Error: err.Error()})
			}
			out["counters"] = json.RawMessage(data)
		}
		if deps.Collector != nil {
			out["runs"] = deps.Collector.Snapshot()
		}
		if deps.Health != nil {
			out["strategies"] = deps.Health.Checks()
		}
		if deps.JobServer != nil {
			out["queue"] = deps.JobServer.GetQueueStats()
		}
		return c.JSON(http.StatusOK, out)
	}
}

func errorStatus(err error) int {
	var cfgErr *orchestrator.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, jobserver.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobserver.ErrQueueFull), errors.Is(err, jobserver.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
