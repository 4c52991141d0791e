package client_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/masa-finance/lead-worker/api/types"
	. "github.com/masa-finance/lead-worker/pkg/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		mockServer *httptest.Server
		client     *Client
		polls      atomic.Int32
		authHeader atomic.Value
	)

	BeforeEach(func() {
		polls.Store(0)
		authHeader.Store("")
		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader.Store(r.Header.Get("Authorization"))
			switch r.URL.Path {
			case "/job/add":
				var req types.JobRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req.Niche == "" {
					w.WriteHeader(http.StatusBadRequest)
					_ = json.NewEncoder(w).Encode(types.JobError{Error: "niche is required"})
					return
				}
				_ = json.NewEncoder(w).Encode(types.JobResponse{UID: "mock-job-id"})
			case "/job/run":
				_ = json.NewEncoder(w).Encode(types.RunResult{Niche: "fitness", Status: types.RunSuccess, TargetCount: 2, InsertedCount: 2})
			case "/job/status/mock-job-id":
				res := types.JobResult{Job: types.Job{UUID: "mock-job-id"}}
				if polls.Add(1) >= 3 {
					res.Done = true
					res.Result = &types.RunResult{Niche: "fitness", Status: types.RunPartial, InsertedCount: 1}
				}
				_ = json.NewEncoder(w).Encode(res)
			case "/leads/counts":
				_ = json.NewEncoder(w).Encode(map[string]int{"fitness": 4})
			default:
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(types.JobError{Error: "Job not found"})
			}
		}))

		var err error
		client, err = NewClient(mockServer.URL, APIKey("secret"))
		Expect(err).NotTo(HaveOccurred())
		client.SetPollDelay(10 * time.Millisecond)
	})

	AfterEach(func() {
		mockServer.Close()
	})

	Describe("SubmitJob", func() {
		It("should submit a job and poll until it is done", func() {
			jobResult, err := client.SubmitJob(types.JobRequest{AcquisitionJob: types.AcquisitionJob{Niche: "fitness", TargetCount: 2}})
			Expect(err).NotTo(HaveOccurred())
			Expect(jobResult.UUID).To(Equal("mock-job-id"))

			res, err := jobResult.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(types.RunPartial))
			Expect(polls.Load()).To(BeNumerically("==", 3))
			Expect(authHeader.Load()).To(Equal("Bearer secret"))
		})

		It("should surface the server error message", func() {
			_, err := client.SubmitJob(types.JobRequest{})
			Expect(err).To(HaveOccurred())
			var apiErr *APIError
			Expect(err).To(BeAssignableToTypeOf(apiErr))
			Expect(err.Error()).To(ContainSubstring("niche is required"))
		})

		It("should give up after the retry budget", func() {
			jobResult, err := client.SubmitJob(types.JobRequest{AcquisitionJob: types.AcquisitionJob{Niche: "fitness"}})
			Expect(err).NotTo(HaveOccurred())
			jobResult.SetMaxRetries(1)
			_, err = jobResult.Get()
			Expect(err).To(MatchError(ErrJobPending))
		})
	})

	Describe("RunJob", func() {
		It("should return the run result", func() {
			res, err := client.RunJob(types.JobRequest{AcquisitionJob: types.AcquisitionJob{Niche: "fitness", TargetCount: 2}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.InsertedCount).To(Equal(2))
		})
	})

	Describe("GetResult", func() {
		It("should fail for unknown jobs", func() {
			_, err := client.GetResult("nope")
			Expect(err).To(MatchError(ContainSubstring("Job not found")))
		})
	})

	Describe("LeadCounts", func() {
		It("should decode the counts", func() {
			counts, err := client.LeadCounts()
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveKeyWithValue("fitness", 4))
		})
	})
})
