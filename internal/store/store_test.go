package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/store"
)

// storeBehaviour runs the contract every backend must satisfy. prefix keeps
// identities and niches unique so a shared database can be reused.
func storeBehaviour(newStore func() store.Store) {
	var (
		s      store.Store
		ctx    context.Context
		prefix string
	)

	BeforeEach(func() {
		s = newStore()
		ctx = context.Background()
		prefix = "t" + uuid.NewString()[:8]
	})

	AfterEach(func() {
		if s != nil {
			s.Close()
			s = nil
		}
	})

	id := func(name string) string { return prefix + "_" + name }

	It("ingests the same candidate idempotently", func() {
		c := types.Candidate{Identity: id("alice"), FollowerCount: 1200, Niche: id("fitness"), Source: types.StrategyManaged}

		res, err := s.Upsert(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(store.Inserted))

		first, ok, err := s.Get(ctx, c.Identity)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		for i := 0; i < 3; i++ {
			res, err = s.Upsert(ctx, c)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(store.Updated))
		}

		leads, err := s.ListByNiche(ctx, c.Niche)
		Expect(err).NotTo(HaveOccurred())
		Expect(leads).To(HaveLen(1))
		Expect(leads[0].ID).To(Equal(first.ID))
		Expect(leads[0].ID).To(Equal(types.LeadKey(c.Identity)))
		Expect(leads[0].FirstSeen).To(BeTemporally("~", first.FirstSeen, time.Millisecond))
	})

	It("refreshes profile fields and niche association on re-ingestion", func() {
		c := types.Candidate{Identity: id("bob"), FollowerCount: 1000, Niche: id("travel")}
		_, err := s.Upsert(ctx, c)
		Expect(err).NotTo(HaveOccurred())

		c.FollowerCount = 5000
		c.Verified = true
		c.Private = true
		c.Niche = id("food")
		res, err := s.Upsert(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(store.Updated))

		rec, ok, err := s.Get(ctx, c.Identity)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(rec.FollowerCount).To(Equal(int64(5000)))
		Expect(rec.Verified).To(BeTrue())
		Expect(rec.Private).To(BeTrue())
		Expect(rec.Niches).To(ConsistOf(id("travel"), id("food")))

		counts, err := s.CountByNiche(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts[id("travel")]).To(Equal(1))
		Expect(counts[id("food")]).To(Equal(1))
	})

	It("yields exactly one insert for concurrent upserts of one identity", func() {
		const workers = 25
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
			updated  int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				res, err := s.Upsert(ctx, types.Candidate{Identity: id("carol"), FollowerCount: int64(1000 + i), Niche: id("yoga")})
				Expect(err).NotTo(HaveOccurred())
				mu.Lock()
				defer mu.Unlock()
				if res == store.Inserted {
					inserted++
				} else {
					updated++
				}
			}(i)
		}
		wg.Wait()
		Expect(inserted).To(Equal(1))
		Expect(updated).To(Equal(workers - 1))

		counts, err := s.CountByNiche(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts[id("yoga")]).To(Equal(1))
	})

	It("lists a niche ordered by follower count", func() {
		for i, n := range []int64{10, 300, 20} {
			_, err := s.Upsert(ctx, types.Candidate{Identity: id(fmt.Sprintf("u%d", i)), FollowerCount: n, Niche: id("art")})
			Expect(err).NotTo(HaveOccurred())
		}
		leads, err := s.ListByNiche(ctx, id("art"))
		Expect(err).NotTo(HaveOccurred())
		Expect(leads).To(HaveLen(3))
		Expect(leads[0].FollowerCount).To(Equal(int64(300)))
		Expect(leads[2].FollowerCount).To(Equal(int64(10)))
	})

	It("rejects candidates without identity with a StoreError", func() {
		_, err := s.Upsert(ctx, types.Candidate{})
		var storeErr *store.StoreError
		Expect(err).To(BeAssignableToTypeOf(storeErr))
		Expect(err).To(MatchError(store.ErrInvalidIdentity))
	})
}

var _ = Describe("MemoryStore", func() {
	storeBehaviour(func() store.Store { return store.NewMemoryStore() })

	It("does not leak internal slices", func() {
		s := store.NewMemoryStore()
		_, _ = s.Upsert(context.Background(), types.Candidate{Identity: "dave", Niche: "art"})
		rec, _, _ := s.Get(context.Background(), "dave")
		rec.Niches[0] = "mutated"
		again, _, _ := s.Get(context.Background(), "dave")
		Expect(again.Niches).To(Equal([]string{"art"}))
	})
})

var _ = Describe("PostgresStore", func() {
	BeforeEach(func() {
		if os.Getenv("PG_DSN") == "" {
			Skip("PG_DSN not set")
		}
	})

	storeBehaviour(func() store.Store {
		s, err := store.OpenPostgres(context.Background(), os.Getenv("PG_DSN"), 8)
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})
