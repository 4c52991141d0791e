package jobserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/orchestrator"
)

// Runner executes one acquisition job. *orchestrator.Orchestrator is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, jobID string, job types.AcquisitionJob) (types.RunResult, error)
}

type JobServer struct {
	sync.Mutex

	workers int
	runner  Runner
	timeout time.Duration

	results       *ResultCache
	priorityQueue *PriorityQueue
	running       map[string]context.CancelFunc
	nowFunc       func() time.Time
}

func NewJobServer(workers int, jc config.JobConfiguration, runner Runner) *JobServer {
	logrus.Info("Initializing JobServer...")

	if workers <= 0 {
		logrus.Infof("Invalid worker count (%d), defaulting to 1 worker.", workers)
		workers = 1
	} else {
		logrus.Infof("Setting worker count to %d.", workers)
	}

	fastQueueSize := jc.GetInt("fast_queue_size", 100)
	slowQueueSize := jc.GetInt("slow_queue_size", 1000)
	logrus.Infof("Priority queue initialized (fast: %d, slow: %d)", fastQueueSize, slowQueueSize)

	return &JobServer{
		workers:       workers,
		runner:        runner,
		timeout:       jc.GetDuration("job_timeout_seconds", 300),
		results:       NewResultCache(jc.GetInt("result_cache_max_size", 1000), jc.GetDuration("result_cache_max_age_seconds", 600)),
		priorityQueue: NewPriorityQueue(fastQueueSize, slowQueueSize),
		running:       map[string]context.CancelFunc{},
		nowFunc:       time.Now,
	}
}

// Run starts the workers and blocks until ctx is done. Running jobs are
// cancelled with ctx.
func (js *JobServer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < js.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			js.worker(ctx)
		}()
	}

	<-ctx.Done()
	js.priorityQueue.Close()
	wg.Wait()
}

// AddJob validates and queues a job, returning its uuid. The job result is
// available immediately with Done set to false.
func (js *JobServer) AddJob(req types.JobRequest) (string, error) {
	j, err := js.newJob(req)
	if err != nil {
		return "", err
	}

	js.results.Pending(j)
	if err := js.priorityQueue.Enqueue(&j); err != nil {
		js.results.Finish(types.JobResult{Job: j, Error: err.Error()})
		return "", err
	}
	logrus.WithField("job_uuid", j.UUID).Infof("Job queued (priority %t): %s", j.Priority, j.Acquisition)
	return j.UUID, nil
}

// RunJob runs a job on the calling goroutine and returns its result. The
// result is cached like a queued job's.
func (js *JobServer) RunJob(ctx context.Context, req types.JobRequest) (types.JobResult, error) {
	j, err := js.newJob(req)
	if err != nil {
		return types.JobResult{}, err
	}
	js.results.Pending(j)
	return js.doWork(ctx, j), nil
}

func (js *JobServer) newJob(req types.JobRequest) (types.Job, error) {
	acq, err := orchestrator.Validate(req.AcquisitionJob)
	if err != nil {
		return types.Job{}, err
	}
	j := types.Job{
		UUID:        uuid.New().String(),
		Priority:    req.Priority,
		Acquisition: acq,
		Timeout:     js.timeout,
		SubmittedAt: js.nowFunc(),
	}
	if acq.TimeoutSeconds > 0 {
		j.Timeout = time.Duration(acq.TimeoutSeconds) * time.Second
	} else {
		j.Acquisition.TimeoutSeconds = int(js.timeout.Seconds())
	}
	return j, nil
}

func (js *JobServer) GetJobResult(uuid string) (types.JobResult, bool) {
	return js.results.Get(uuid)
}

// CancelJob cancels a running job. Queued jobs are cancelled when a worker
// picks them up.
func (js *JobServer) CancelJob(uuid string) error {
	js.Lock()
	cancel, ok := js.running[uuid]
	js.Unlock()
	if !ok {
		if js.results.CancelPending(uuid) {
			return nil
		}
		return ErrJobNotFound
	}
	cancel()
	return nil
}

func (js *JobServer) GetQueueStats() QueueStats {
	st := js.priorityQueue.GetStats()
	st.PendingJobs, st.HeldResults = js.results.Counts()
	return st
}

// Shutdown closes the queue and stops the result cache cleanup.
func (js *JobServer) Shutdown() {
	js.priorityQueue.Close()
	js.results.Close()
}

func isConfigurationError(err error) bool {
	var cfgErr *orchestrator.ConfigurationError
	return errors.As(err, &cfgErr)
}
