package types_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/masa-finance/lead-worker/api/types"
)

var _ = Describe("Lead", func() {
	Context("NormalizeHandle", func() {
		DescribeTable("normalizes handles",
			func(raw, want string, ok bool) {
				got, valid := types.NormalizeHandle(raw)
				Expect(valid).To(Equal(ok))
				Expect(got).To(Equal(want))
			},
			Entry("plain", "fitness.daily", "fitness.daily", true),
			Entry("at prefix and spaces", "  @Fit_Girl ", "fit_girl", true),
			Entry("empty", "", "", false),
			Entry("illegal character", "fit-girl", "", false),
			Entry("too long", "abcdefghijklmnopqrstuvwxyz012345", "", false),
		)
	})

	It("derives a stable surrogate key from the identity", func() {
		Expect(types.LeadKey("alice")).To(Equal(types.LeadKey("alice")))
		Expect(types.LeadKey("alice")).NotTo(Equal(types.LeadKey("bob")))
	})

	Context("Merge", func() {
		It("updates profile fields and keeps id and first seen", func() {
			t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			t1 := t0.Add(48 * time.Hour)

			rec := types.NewLeadRecord(types.Candidate{Identity: "alice", FollowerCount: 1000, Niche: "fitness"}, t0)
			id := rec.ID

			rec.Merge(types.Candidate{Identity: "alice", FollowerCount: 2500, Verified: true, Niche: "yoga"}, t1)

			Expect(rec.ID).To(Equal(id))
			Expect(rec.FirstSeen).To(Equal(t0))
			Expect(rec.LastSeen).To(Equal(t1))
			Expect(rec.FollowerCount).To(Equal(int64(2500)))
			Expect(rec.Verified).To(BeTrue())
			Expect(rec.Niches).To(ConsistOf("fitness", "yoga"))
		})

		It("does not repeat a niche", func() {
			now := time.Now()
			rec := types.NewLeadRecord(types.Candidate{Identity: "bob", Niche: "travel"}, now)
			rec.Merge(types.Candidate{Identity: "bob", Niche: "travel"}, now)
			Expect(rec.Niches).To(HaveLen(1))
			Expect(rec.HasNiche("travel")).To(BeTrue())
		})
	})

	It("computes the run yield", func() {
		Expect(types.RunMetrics{TargetCount: 20, Inserted: 5}.Yield()).To(BeNumerically("~", 0.25))
		Expect(types.RunMetrics{}.Yield()).To(BeZero())
	})
})
