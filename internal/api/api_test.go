package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/api/types"
	. "github.com/masa-finance/lead-worker/internal/api"
	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/health"
	"github.com/masa-finance/lead-worker/internal/jobs"
	"github.com/masa-finance/lead-worker/internal/jobs/stats"
	"github.com/masa-finance/lead-worker/internal/jobserver"
	"github.com/masa-finance/lead-worker/internal/metrics"
	"github.com/masa-finance/lead-worker/internal/orchestrator"
	"github.com/masa-finance/lead-worker/internal/store"
	"github.com/masa-finance/lead-worker/pkg/client"
)

// cannedStrategy returns count candidates named after the niche.
type cannedStrategy struct {
	name  string
	count int
	err   error
}

func (s cannedStrategy) Name() string { return s.name }

func (s cannedStrategy) FetchCandidates(_ context.Context, req jobs.FetchRequest) ([]types.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	n := s.count
	if n > req.Count {
		n = req.Count
	}
	out := make([]types.Candidate, n)
	for i := range out {
		out[i] = types.Candidate{
			Identity:      fmt.Sprintf("%s_%s_%d", req.Niche, s.name, i),
			FollowerCount: 10000,
			Niche:         req.Niche,
			Source:        s.name,
		}
	}
	return out, nil
}

var _ = Describe("API", func() {
	var (
		srv            *httptest.Server
		clientInstance *client.Client
		js             *jobserver.JobServer
		ctx            context.Context
		cancel         context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())

		st := store.NewMemoryStore()
		tracker := health.NewTracker()
		collector := metrics.NewCollector(config.AlertConfig{WindowRuns: 5, MinYield: 0.1, MaxErrorRate: 1}, nil)
		sc := stats.StartCollector(64)
		orch := orchestrator.New(st, []jobs.Strategy{
			cannedStrategy{name: types.StrategyManaged, err: jobs.Unrecoverable(jobs.ErrAuthRevoked, errors.New("401"))},
			cannedStrategy{name: types.StrategyBrowser, count: 3},
		}, orchestrator.WithHealth(tracker), orchestrator.WithMetricsSink(collector), orchestrator.WithStats(sc))

		jc := config.JobConfiguration{"api_key": "secret"}
		js = jobserver.NewJobServer(2, jc, orch)
		go js.Run(ctx)

		srv = httptest.NewServer(NewServer(jc, Deps{
			JobServer: js,
			Store:     st,
			Stats:     sc,
			Collector: collector,
			Health:    tracker,
		}))

		var err error
		clientInstance, err = client.NewClient(srv.URL, client.APIKey("secret"))
		Expect(err).NotTo(HaveOccurred())
		clientInstance.SetPollDelay(20 * time.Millisecond)
	})

	AfterEach(func() {
		cancel()
		srv.Close()
		js.Shutdown()
	})

	It("submits a job and polls for its result", func() {
		jobResult, err := clientInstance.SubmitJob(types.JobRequest{AcquisitionJob: types.AcquisitionJob{Niche: "fitness", TargetCount: 5}})
		Expect(err).NotTo(HaveOccurred())
		Expect(jobResult.UUID).NotTo(BeEmpty())

		res, err := jobResult.Get()
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(types.RunPartial))
		Expect(res.InsertedCount).To(Equal(3))
		Expect(res.StrategiesUsed).To(Equal([]string{"managed", "browser"}))

		leads, err := clientInstance.LeadsByNiche("#Fitness")
		Expect(err).NotTo(HaveOccurred())
		Expect(leads).To(HaveLen(3))

		counts, err := clientInstance.LeadCounts()
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(HaveKeyWithValue("fitness", 3))
	})

	It("runs a job synchronously", func() {
		res, err := clientInstance.RunJob(types.JobRequest{AcquisitionJob: types.AcquisitionJob{Niche: "travel", TargetCount: 2}})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(types.RunSuccess))
		Expect(res.PerStrategyYield["managed"].Failure).To(Equal(types.FailureUnrecoverable))
	})

	It("rejects invalid jobs with a bad request", func() {
		_, err := clientInstance.SubmitJob(types.JobRequest{AcquisitionJob: types.AcquisitionJob{Niche: "travel"}})
		var apiErr *client.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(apiErr.Body).To(ContainSubstring("target_count"))
	})

	It("reports unknown jobs", func() {
		_, err := clientInstance.GetResult("does-not-exist")
		var apiErr *client.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("requires the API key", func() {
		anonymous, err := client.NewClient(srv.URL)
		Expect(err).NotTo(HaveOccurred())
		_, err = anonymous.LeadCounts()
		var apiErr *client.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(http.StatusUnauthorized))

		resp, err := http.Get(srv.URL + "/healthz")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("exposes stats and prometheus metrics", func() {
		_, err := clientInstance.RunJob(types.JobRequest{AcquisitionJob: types.AcquisitionJob{Niche: "yoga", TargetCount: 1}})
		Expect(err).NotTo(HaveOccurred())

		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
		req.Header.Set("X-API-Key", "secret")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		req, _ = http.NewRequest(http.MethodGet, srv.URL+"/stats", nil)
		req.Header.Set("X-API-Key", "secret")
		resp, err = http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
