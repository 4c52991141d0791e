package jobserver

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
)

func (js *JobServer) worker(ctx context.Context) {
	for {
		j, err := js.priorityQueue.DequeueBlocking()
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) {
				logrus.WithError(err).Error("Error dequeuing job")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if res, ok := js.results.Get(j.UUID); ok && res.Done {
			logrus.WithField("job_uuid", j.UUID).Info("Job was cancelled while queued")
			continue
		}
		js.doWork(ctx, *j)
	}
}

func (js *JobServer) doWork(ctx context.Context, j types.Job) types.JobResult {
	ctx, cancel := context.WithCancel(ctx)
	js.Lock()
	js.running[j.UUID] = cancel
	js.Unlock()
	defer func() {
		js.Lock()
		delete(js.running, j.UUID)
		js.Unlock()
		cancel()
	}()

	log := logrus.WithField("job_uuid", j.UUID)
	log.Debug("Job received")

	result := types.JobResult{Job: j, Done: true}
	run, err := js.runner.Run(ctx, j.UUID, j.Acquisition)
	if err != nil {
		if isConfigurationError(err) {
			log.WithError(err).Warn("Job rejected")
		} else {
			log.WithError(err).Error("Job failed")
		}
		result.Error = err.Error()
	} else {
		result.Result = &run
	}

	js.results.Finish(result)
	return result
}
