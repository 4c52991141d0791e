package jobs_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/masa-finance/lead-worker/api/types"
	. "github.com/masa-finance/lead-worker/internal/jobs"
	"github.com/masa-finance/lead-worker/internal/jobs/instagram"
	"github.com/masa-finance/lead-worker/internal/proxy"
	"github.com/masa-finance/lead-worker/internal/ratelimit"
	"github.com/masa-finance/lead-worker/pkg/client"
)

var _ = Describe("Error classification", func() {
	DescribeTable("Wrap",
		func(err error, class types.FailureClass, kind error) {
			wrapped := Wrap(err)
			Expect(Classify(wrapped)).To(Equal(class))
			Expect(Classify(err)).To(Equal(class))
			Expect(errors.Is(wrapped, kind)).To(BeTrue())
			Expect(errors.Is(wrapped, err)).To(BeTrue())
		},
		Entry("deadline", context.DeadlineExceeded, types.FailureRecoverable, ErrTimeout),
		Entry("limiter", fmt.Errorf("wait: %w", ratelimit.ErrRateLimited), types.FailureRecoverable, ErrRateLimited),
		Entry("empty pool", proxy.ErrNoProxyAvailable, types.FailureRecoverable, ErrNoProxy),
		Entry("soft block", instagram.ErrSoftBlocked, types.FailureRecoverable, ErrSoftBlocked),
		Entry("login wall", instagram.ErrLoginWall, types.FailureRecoverable, ErrSoftBlocked),
		Entry("open breaker", gobreaker.ErrOpenState, types.FailureRecoverable, ErrTransient),
		Entry("platform 429", &client.APIError{StatusCode: 429}, types.FailureRecoverable, ErrRateLimited),
		Entry("platform 502", &client.APIError{StatusCode: 502}, types.FailureRecoverable, ErrTransient),
		Entry("unknown", errors.New("connection reset"), types.FailureRecoverable, ErrTransient),
		Entry("bad credentials", instagram.ErrInvalidCredentials, types.FailureUnrecoverable, ErrAuthRevoked),
		Entry("platform 401", &client.APIError{StatusCode: 401}, types.FailureUnrecoverable, ErrAuthRevoked),
		Entry("platform 402", &client.APIError{StatusCode: 402}, types.FailureUnrecoverable, ErrStrategyDisabled),
		Entry("missing key", client.ErrMissingAPIKey, types.FailureUnrecoverable, ErrStrategyDisabled),
	)

	It("should leave classified errors alone", func() {
		err := Unrecoverable(ErrStrategyDisabled, errors.New("off"))
		Expect(Wrap(err)).To(BeIdenticalTo(err))
		Expect(Classify(nil)).To(Equal(types.FailureNone))
	})
})
