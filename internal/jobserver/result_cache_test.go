package jobserver_test

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/api/types"
	. "github.com/masa-finance/lead-worker/internal/jobserver"
)

func job(uuid string) types.Job {
	return types.Job{UUID: uuid, Acquisition: types.AcquisitionJob{Niche: "fitness", TargetCount: 5}}
}

var _ = Describe("ResultCache", func() {
	var (
		cache *ResultCache
		now   time.Time
	)

	BeforeEach(func() {
		now = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
		cache = NewResultCache(3, time.Minute)
		cache.SetClock(func() time.Time { return now })
	})

	AfterEach(func() {
		cache.Close()
	})

	It("should report a pending job and then its result", func() {
		cache.Pending(job("abc"))
		got, ok := cache.Get("abc")
		Expect(ok).To(BeTrue())
		Expect(got.Done).To(BeFalse())
		Expect(got.Job.Acquisition.Niche).To(Equal("fitness"))

		cache.Finish(types.JobResult{Job: job("abc"), Result: &types.RunResult{Status: types.RunSuccess, InsertedCount: 5}})
		got, ok = cache.Get("abc")
		Expect(ok).To(BeTrue())
		Expect(got.Done).To(BeTrue())
		Expect(got.Result.InsertedCount).To(Equal(5))

		pending, held := cache.Counts()
		Expect(pending).To(BeZero())
		Expect(held).To(Equal(1))
	})

	It("should cancel only jobs that are still pending", func() {
		cache.Pending(job("queued"))
		Expect(cache.CancelPending("queued")).To(BeTrue())
		got, _ := cache.Get("queued")
		Expect(got.Done).To(BeTrue())
		Expect(got.Error).To(Equal("context canceled"))

		Expect(cache.CancelPending("queued")).To(BeFalse())
		Expect(cache.CancelPending("unknown")).To(BeFalse())
	})

	It("should drop the oldest finished results but never pending jobs", func() {
		for i := 0; i < 4; i++ {
			cache.Pending(job(fmt.Sprintf("waiting-%d", i)))
		}
		for i := 0; i < 5; i++ {
			key := fmt.Sprintf("job-%d", i)
			cache.Finish(types.JobResult{Job: job(key)})
		}

		pending, held := cache.Counts()
		Expect(pending).To(Equal(4))
		Expect(held).To(Equal(3))
		_, ok := cache.Get("job-0")
		Expect(ok).To(BeFalse())
		_, ok = cache.Get("job-4")
		Expect(ok).To(BeTrue())
		_, ok = cache.Get("waiting-0")
		Expect(ok).To(BeTrue())
	})

	It("should age results from when the job finished", func() {
		cache.Pending(job("slow"))
		now = now.Add(10 * time.Minute)
		_, ok := cache.Get("slow")
		Expect(ok).To(BeTrue())

		cache.Finish(types.JobResult{Job: job("slow")})
		now = now.Add(30 * time.Second)
		_, ok = cache.Get("slow")
		Expect(ok).To(BeTrue())

		now = now.Add(time.Minute)
		_, ok = cache.Get("slow")
		Expect(ok).To(BeFalse())
	})

	It("should clean up expired results periodically", func() {
		fast := NewResultCache(10, 200*time.Millisecond)
		defer fast.Close()
		fast.Finish(types.JobResult{Job: job("periodic")})
		Eventually(func() int {
			_, held := fast.Counts()
			return held
		}, "2s").Should(BeZero())
	})
})
