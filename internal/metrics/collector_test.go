package metrics_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/metrics"
)

type captureSink struct {
	mu     sync.Mutex
	events []types.AlertEvent
}

func (s *captureSink) Alert(_ context.Context, ev types.AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) Events() []types.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AlertEvent(nil), s.events...)
}

func run(niche string, target, inserted int, attempts ...types.StrategyYield) types.RunMetrics {
	status := types.RunPartial
	if inserted >= target {
		status = types.RunSuccess
	}
	return types.RunMetrics{Niche: niche, TargetCount: target, Inserted: inserted, Status: status, Attempts: attempts}
}

var ok = types.StrategyYield{Strategy: "managed", Requested: 10, Inserted: 10}

var _ = Describe("Collector", func() {
	var (
		sink *captureSink
		c    *metrics.Collector
		now  time.Time
	)

	BeforeEach(func() {
		sink = &captureSink{}
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		c = metrics.NewCollector(config.AlertConfig{WindowRuns: 3, MinYield: 0.5, MaxErrorRate: 0.5}, sink)
		c.SetClock(func() time.Time { return now })
	})

	AfterEach(func() {
		c.Close()
	})

	It("computes rolling aggregates", func() {
		c.Record(run("fitness", 10, 10, ok))
		c.Record(run("fitness", 10, 4,
			types.StrategyYield{Strategy: "managed", Requested: 10, Failure: types.FailureUnrecoverable},
			types.StrategyYield{Strategy: "browser", Requested: 10, Inserted: 4}))

		s := c.Snapshot()
		Expect(s.Runs).To(Equal(2))
		Expect(s.SuccessRate).To(BeNumerically("~", 0.5))
		Expect(s.ErrorRate).To(BeNumerically("~", 1.0/3))
		Expect(s.Strategies["managed"].Attempts).To(Equal(2))
		Expect(s.Strategies["managed"].AverageYield).To(BeNumerically("~", 0.5))
		Expect(s.Strategies["browser"].AverageYield).To(BeNumerically("~", 0.4))
		Expect(s.Niches["fitness"].Yield).To(BeNumerically("~", 0.7))
		Expect(s.LastRun.Inserted).To(Equal(4))
		Expect(c.Niches()).To(Equal([]string{"fitness"}))
	})

	It("does not alert before the window is full", func() {
		c.Record(run("travel", 10, 0, ok))
		c.Record(run("travel", 10, 0, ok))
		c.Close()
		Expect(sink.Events()).To(BeEmpty())
	})

	It("raises a low yield alert over a full window", func() {
		c.Record(run("travel", 10, 2, ok))
		c.Record(run("travel", 10, 3, ok))
		c.Record(run("travel", 10, 4, ok))

		Eventually(sink.Events).Should(HaveLen(1))
		ev := sink.Events()[0]
		Expect(ev.Kind).To(Equal(types.AlertLowYield))
		Expect(ev.Niche).To(Equal("travel"))
		Expect(ev.ObservedValue).To(BeNumerically("~", 0.3))
		Expect(ev.Threshold).To(Equal(0.5))
		Expect(ev.Timestamp).To(Equal(now))
	})

	It("raises a high error rate alert", func() {
		failed := types.StrategyYield{Strategy: "managed", Requested: 10, Failure: types.FailureRecoverable}
		for i := 0; i < 3; i++ {
			c.Record(run("yoga", 10, 10, failed, ok))
			c.Record(run("yoga", 10, 10, failed))
		}
		c.Close()
		Expect(sink.Events()).NotTo(BeEmpty())
		for _, ev := range sink.Events() {
			Expect(ev.Kind).To(Equal(types.AlertHighErrorRate))
		}
	})

	It("only considers the last runs of the niche", func() {
		c.Record(run("food", 10, 0, ok))
		c.Record(run("food", 10, 10, ok))
		c.Record(run("food", 10, 10, ok))
		c.Record(run("food", 10, 10, ok))
		Expect(c.Snapshot().Niches["food"].Runs).To(Equal(3))
		Expect(c.Snapshot().Niches["food"].Yield).To(BeNumerically("~", 1.0))
		c.Close()
		Expect(sink.Events()).To(BeEmpty())
	})

	It("keeps niches apart", func() {
		c.Record(run("a", 10, 0, ok))
		c.Record(run("b", 10, 0, ok))
		c.Record(run("c", 10, 0, ok))
		c.Close()
		Expect(sink.Events()).To(BeEmpty())
	})

	It("does not wait for a slow sink", func() {
		release := make(chan struct{})
		slow := &blockingSink{release: release}
		sc := metrics.NewCollector(config.AlertConfig{WindowRuns: 1, MinYield: 0.5, MaxErrorRate: 1}, slow)

		recorded := make(chan struct{})
		go func() {
			defer close(recorded)
			sc.Record(run("slow", 10, 0, ok))
			sc.Record(run("slow", 10, 0, ok))
		}()
		Eventually(recorded).Should(BeClosed())

		close(release)
		sc.Close()
		Expect(slow.count.Load()).To(Equal(int32(2)))
	})
})

type blockingSink struct {
	release chan struct{}
	count   atomic.Int32
}

func (s *blockingSink) Alert(context.Context, types.AlertEvent) {
	<-s.release
	s.count.Add(1)
}
