package proxy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/internal/proxy"
)

var _ = Describe("Pool", func() {
	var now time.Time
	clock := func() time.Time { return now }

	BeforeEach(func() {
		now = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	})

	It("leases each proxy exclusively and fails fast when all are leased", func() {
		pool := proxy.NewPool([]string{"http://a:1", "http://b:2"}, nil, time.Minute, 2)

		h1, err := pool.Lease()
		Expect(err).NotTo(HaveOccurred())
		h2, err := pool.Lease()
		Expect(err).NotTo(HaveOccurred())
		Expect(h1.URL).NotTo(Equal(h2.URL))

		_, err = pool.Lease()
		Expect(err).To(MatchError(proxy.ErrNoProxyAvailable))

		pool.Release(h1, proxy.OutcomeOK)
		h3, err := pool.Lease()
		Expect(err).NotTo(HaveOccurred())
		Expect(h3.URL).To(Equal(h1.URL))
	})

	It("fails fast on an empty pool", func() {
		pool := proxy.NewPool(nil, nil, time.Minute, 2)
		_, err := pool.Lease()
		Expect(err).To(MatchError(proxy.ErrNoProxyAvailable))
	})

	It("evicts a proxy blocked twice within the window and shrinks without a source", func() {
		pool := proxy.NewPool([]string{"http://a:1"}, nil, 10*time.Minute, 2)
		pool.SetClock(clock)

		h, _ := pool.Lease()
		pool.Release(h, proxy.OutcomeBlocked)
		Expect(pool.Size()).To(Equal(1))

		now = now.Add(time.Minute)
		h, _ = pool.Lease()
		pool.Release(h, proxy.OutcomeBlocked)
		Expect(pool.Size()).To(BeZero())

		_, err := pool.Lease()
		Expect(err).To(MatchError(proxy.ErrNoProxyAvailable))
	})

	It("does not evict when the blocks are further apart than the window", func() {
		pool := proxy.NewPool([]string{"http://a:1"}, nil, 10*time.Minute, 2)
		pool.SetClock(clock)

		h, _ := pool.Lease()
		pool.Release(h, proxy.OutcomeBlocked)
		now = now.Add(11 * time.Minute)
		h, _ = pool.Lease()
		pool.Release(h, proxy.OutcomeBlocked)

		Expect(pool.Size()).To(Equal(1))
		Expect(pool.Statuses()[0].RecentBlocks).To(Equal(1))
	})

	It("replaces an evicted proxy from the spare source", func() {
		pool := proxy.NewPool([]string{"http://a:1"}, proxy.NewStaticSource([]string{"b:2"}), time.Hour, 2)
		pool.SetClock(clock)

		for i := 0; i < 2; i++ {
			h, err := pool.Lease()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.URL).To(Equal("http://a:1"))
			pool.Release(h, proxy.OutcomeBlocked)
		}

		Expect(pool.Size()).To(Equal(1))
		h, err := pool.Lease()
		Expect(err).NotTo(HaveOccurred())
		Expect(h.URL).To(Equal("http://b:2"))
	})

	It("quarantines a proxy after consecutive failures and brings it back later", func() {
		pool := proxy.NewPool([]string{"http://a:1", "http://b:2"}, nil, time.Hour, 2)
		pool.SetClock(clock)
		pool.SetQuarantine(3, 10*time.Minute)

		for i := 0; i < 3; i++ {
			h, err := pool.Lease()
			Expect(err).NotTo(HaveOccurred())
			pool.Release(h, proxy.OutcomeOK)
			h, err = pool.Lease()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.URL).To(Equal("http://b:2"))
			pool.Release(h, proxy.OutcomeFailed)
		}

		Expect(pool.Size()).To(Equal(2))
		for i := 0; i < 3; i++ {
			h, err := pool.Lease()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.URL).To(Equal("http://a:1"))
			pool.Release(h, proxy.OutcomeOK)
		}

		h, _ := pool.Lease()
		_, err := pool.Lease()
		Expect(err).To(MatchError(proxy.ErrNoProxyAvailable))
		pool.Release(h, proxy.OutcomeOK)

		now = now.Add(11 * time.Minute)
		seen := map[string]bool{}
		for i := 0; i < 2; i++ {
			h, err := pool.Lease()
			Expect(err).NotTo(HaveOccurred())
			seen[h.URL] = true
			pool.Release(h, proxy.OutcomeOK)
		}
		Expect(seen).To(HaveKey("http://b:2"))
	})

	It("resets the failure count after a success", func() {
		pool := proxy.NewPool([]string{"http://a:1"}, nil, time.Hour, 2)
		pool.SetClock(clock)

		for _, outcome := range []proxy.Outcome{proxy.OutcomeFailed, proxy.OutcomeFailed, proxy.OutcomeOK, proxy.OutcomeFailed} {
			h, err := pool.Lease()
			Expect(err).NotTo(HaveOccurred())
			pool.Release(h, outcome)
		}
		Expect(pool.Statuses()[0].Quarantined).To(BeFalse())
		Expect(pool.Statuses()[0].Failures).To(Equal(1))
	})

	It("ignores stale handles", func() {
		pool := proxy.NewPool([]string{"http://a:1"}, nil, time.Hour, 2)
		h, _ := pool.Lease()
		pool.Release(h, proxy.OutcomeOK)
		h2, _ := pool.Lease()
		pool.Release(h, proxy.OutcomeBlocked)
		pool.Release(h, proxy.OutcomeBlocked)
		Expect(pool.Size()).To(Equal(1))
		Expect(pool.Statuses()[0].Leased).To(BeTrue())
		pool.Release(h2, proxy.OutcomeOK)
	})
})

var _ = Describe("HTTPSource", func() {
	It("reads a bearer-authenticated text list", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte("10.0.0.1:8080\n\n10.0.0.2:8080\n"))
		}))
		defer srv.Close()

		src := proxy.NewHTTPSource(srv.URL, "secret")
		first, err := src.Next(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal("http://10.0.0.1:8080"))
		second, err := src.Next(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal("http://10.0.0.2:8080"))
	})

	It("reports provider errors", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := proxy.NewHTTPSource(srv.URL, "wrong").Next(context.Background())
		Expect(err).To(HaveOccurred())
	})

	It("falls through a chain of sources", func() {
		chain := proxy.ChainSource{proxy.NewStaticSource(nil), proxy.NewStaticSource([]string{"c:3"})}
		u, err := chain.Next(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(Equal("http://c:3"))
		_, err = chain.Next(context.Background())
		Expect(err).To(MatchError(proxy.ErrSourceExhausted))
	})
})
