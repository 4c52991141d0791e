// Package orchestrator runs the acquisition strategies for a job in priority
// order, persisting what each one finds until the target is met.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/jobs"
	"github.com/masa-finance/lead-worker/internal/jobs/stats"
	"github.com/masa-finance/lead-worker/internal/metrics"
	"github.com/masa-finance/lead-worker/internal/store"
)

const defaultTimeout = 5 * time.Minute

// MetricsSink receives the metrics of every finished run.
type MetricsSink interface {
	Record(m types.RunMetrics)
}

// HealthRecorder is told how each strategy invocation went.
type HealthRecorder interface {
	UpdateStatus(name string, isHealthy bool, err error)
}

type Orchestrator struct {
	strategies     []jobs.Strategy
	store          store.Store
	sink           MetricsSink
	health         HealthRecorder
	statsCollector *stats.StatsCollector
	timeout        time.Duration
	nowFunc        func() time.Time
}

type Option func(*Orchestrator)

func WithMetricsSink(s MetricsSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithHealth(h HealthRecorder) Option {
	return func(o *Orchestrator) { o.health = h }
}

func WithStats(s *stats.StatsCollector) Option {
	return func(o *Orchestrator) { o.statsCollector = s }
}

// WithTimeout sets the deadline for jobs that do not carry their own.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// New builds an orchestrator. strategies are tried in the given order; the
// first one is the primary strategy skipped by fallback-only jobs.
func New(st store.Store, strategies []jobs.Strategy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		strategies: strategies,
		store:      st,
		timeout:    defaultTimeout,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Strategies returns the strategy names in priority order.
func (o *Orchestrator) Strategies() []string {
	names := make([]string, len(o.strategies))
	for i, s := range o.strategies {
		names[i] = s.Name()
	}
	return names
}

// NormalizeNiche trims whitespace and a leading # and lowercases the niche.
func NormalizeNiche(niche string) string {
	n := strings.TrimSpace(niche)
	n = strings.TrimPrefix(n, "#")
	return strings.ToLower(strings.TrimSpace(n))
}

// Validate checks a job and fills in defaults. A zero MaxResults means
// TargetCount.
func Validate(job types.AcquisitionJob) (types.AcquisitionJob, error) {
	job.Niche = NormalizeNiche(job.Niche)
	switch {
	case job.Niche == "":
		return job, &ConfigurationError{Field: "niche", Reason: "must not be empty"}
	case strings.ContainsAny(job.Niche, " /?#&"):
		return job, &ConfigurationError{Field: "niche", Reason: "must be a single hashtag"}
	case job.TargetCount <= 0:
		return job, &ConfigurationError{Field: "target_count", Reason: "must be positive"}
	case job.MinFollowers < 0:
		return job, &ConfigurationError{Field: "min_followers", Reason: "must not be negative"}
	case job.TimeoutSeconds < 0:
		return job, &ConfigurationError{Field: "timeout_seconds", Reason: "must not be negative"}
	}
	if job.MaxResults == 0 {
		job.MaxResults = job.TargetCount
	}
	if job.MaxResults < job.TargetCount {
		return job, &ConfigurationError{Field: "max_results", Reason: "must not be below target_count"}
	}
	return job, nil
}

// Run executes one job. The only error it returns is a ConfigurationError;
// strategy and store failures are reported in the result.
func (o *Orchestrator) Run(ctx context.Context, jobID string, job types.AcquisitionJob) (types.RunResult, error) {
	job, err := Validate(job)
	if err != nil {
		return types.RunResult{}, err
	}

	timeout := o.timeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := logrus.WithField("job_uuid", jobID).WithField("niche", job.Niche)
	log.Infof("Starting acquisition run: %s", job)

	start := o.nowFunc()
	result := types.RunResult{
		Niche:            job.Niche,
		TargetCount:      job.TargetCount,
		StrategiesUsed:   []string{},
		PerStrategyYield: map[string]types.StrategyYield{},
	}
	run := types.RunMetrics{
		JobID:       jobID,
		Niche:       job.Niche,
		StartedAt:   start,
		TargetCount: job.TargetCount,
	}

	deficit := job.TargetCount
	fetched := 0
	attempted, unrecoverable := 0, 0

	for i, strategy := range o.strategies {
		if job.ForceFallbackOnly && i == 0 && len(o.strategies) > 1 {
			log.Debugf("Skipping %s, job is fallback only", strategy.Name())
			continue
		}
		if deficit <= 0 {
			break
		}
		if ctx.Err() != nil {
			log.Warnf("Deadline reached before %s could run", strategy.Name())
			break
		}
		count := deficit
		if remaining := job.MaxResults - fetched; remaining < count {
			count = remaining
		}
		if count <= 0 {
			log.Infof("Result budget of %d exhausted", job.MaxResults)
			break
		}

		attempted++
		yield := o.invoke(ctx, strategy, jobs.FetchRequest{
			JobID:        jobID,
			Niche:        job.Niche,
			MinFollowers: job.MinFollowers,
			Count:        count,
		}, job, log)

		fetched += yield.Raw
		deficit -= yield.Inserted
		result.InsertedCount += yield.Inserted
		result.DuplicateCount += yield.Duplicates
		result.StrategiesUsed = append(result.StrategiesUsed, strategy.Name())
		result.PerStrategyYield[strategy.Name()] = yield
		run.Attempts = append(run.Attempts, yield)
		if yield.Failure == types.FailureUnrecoverable {
			unrecoverable++
		}
	}

	switch {
	case deficit <= 0:
		result.Status = types.RunSuccess
	case result.InsertedCount == 0 && attempted > 0 && unrecoverable == attempted:
		result.Status = types.RunFailed
	default:
		result.Status = types.RunPartial
	}
	result.Elapsed = o.nowFunc().Sub(start)

	run.Elapsed = result.Elapsed
	run.Status = result.Status
	run.Inserted = result.InsertedCount
	run.Duplicates = result.DuplicateCount
	o.record(run)

	log.Infof("Run finished: %s, %d/%d inserted, %d duplicates, strategies %v",
		result.Status, result.InsertedCount, job.TargetCount, result.DuplicateCount, result.StrategiesUsed)
	return result, nil
}

// invoke runs one strategy and persists its candidates in the order returned.
func (o *Orchestrator) invoke(ctx context.Context, strategy jobs.Strategy, req jobs.FetchRequest, job types.AcquisitionJob, log *logrus.Entry) types.StrategyYield {
	name := strategy.Name()
	yield := types.StrategyYield{Strategy: name, Requested: req.Count}
	metrics.StrategyAttempts.WithLabelValues(name).Inc()

	started := o.nowFunc()
	candidates, err := strategy.FetchCandidates(ctx, req)
	yield.Elapsed = o.nowFunc().Sub(started)
	metrics.StrategyLatency.WithLabelValues(name).Observe(yield.Elapsed.Seconds())

	if len(candidates) > req.Count {
		log.Warnf("%s returned %d candidates for %d requested, dropping the excess", name, len(candidates), req.Count)
		candidates = candidates[:req.Count]
	}
	yield.Raw = len(candidates)
	metrics.StrategyCandidates.WithLabelValues(name).Add(float64(len(candidates)))

	if err == nil && len(candidates) == 0 {
		err = jobs.Recoverable(jobs.ErrEmptyResult, errors.New("strategy returned nothing"))
	}
	if err != nil {
		yield.Failure = jobs.Classify(err)
		yield.Error = err.Error()
		metrics.StrategyFailures.WithLabelValues(name, string(yield.Failure)).Inc()
		log.WithError(err).Warnf("Strategy %s failed (%s) with %d candidates", name, yield.Failure, len(candidates))
	}
	if o.health != nil {
		o.health.UpdateStatus(name, err == nil || errors.Is(err, jobs.ErrEmptyResult), err)
	}

	// Persist even when the deadline has passed so the work already paid for
	// is kept.
	storeCtx := context.WithoutCancel(ctx)
	for _, c := range candidates {
		c, ok := accept(c, job)
		if !ok {
			continue
		}
		yield.Accepted++

		res, err := o.store.Upsert(storeCtx, c)
		if err != nil {
			yield.StoreErrors++
			metrics.StoreErrors.WithLabelValues(name).Inc()
			log.WithError(err).Errorf("Failed to persist %s", c.Identity)
			continue
		}
		switch res {
		case store.Inserted:
			yield.Inserted++
		case store.Updated:
			yield.Duplicates++
		}
	}

	metrics.LeadsInserted.WithLabelValues(job.Niche, name).Add(float64(yield.Inserted))
	metrics.LeadsDuplicate.WithLabelValues(job.Niche, name).Add(float64(yield.Duplicates))
	o.statsCollector.Add(name, stats.LeadsInserted, uint(yield.Inserted))
	o.statsCollector.Add(name, stats.LeadsDuplicate, uint(yield.Duplicates))
	return yield
}

// accept applies the job filter and normalizes the identity. Strategies
// already drop small accounts but the threshold is enforced here as well.
func accept(c types.Candidate, job types.AcquisitionJob) (types.Candidate, bool) {
	identity, ok := types.NormalizeHandle(c.Identity)
	if !ok {
		return c, false
	}
	c.Identity = identity
	if c.Niche == "" {
		c.Niche = job.Niche
	}
	switch {
	case c.FollowerCount < job.MinFollowers:
		return c, false
	case job.ExcludePrivate && c.Private:
		return c, false
	case job.RequireVerified && !c.Verified:
		return c, false
	}
	return c, true
}

func (o *Orchestrator) record(run types.RunMetrics) {
	metrics.RunsTotal.WithLabelValues(run.Niche, string(run.Status)).Inc()
	metrics.RunDuration.WithLabelValues(run.Niche).Observe(run.Elapsed.Seconds())
	o.statsCollector.Add("orchestrator", stats.Runs, 1)
	if o.sink != nil {
		o.sink.Record(run)
	}
}
