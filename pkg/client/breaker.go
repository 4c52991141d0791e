package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/sirupsen/logrus"
)

// BreakerSettings configures BreakerClient.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
	OnStateChange    func(name string, from, to gobreaker.State)
}

// BreakerClient guards an Apify client with a circuit breaker. Client errors
// other than 429 are the caller's fault and do not count towards tripping.
type BreakerClient struct {
	inner Apify
	cb    *gobreaker.CircuitBreaker[*DatasetResponse]
}

func NewBreakerClient(inner Apify, s BreakerSettings) *BreakerClient {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 2 * time.Minute
	}
	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return errors.Is(err, ErrMissingAPIKey) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.Warnf("Circuit breaker %s: %s -> %s", name, from, to)
			if s.OnStateChange != nil {
				s.OnStateChange(name, from, to)
			}
		},
	}
	return &BreakerClient{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[*DatasetResponse](settings),
	}
}

func (b *BreakerClient) RunActorAndGetResponse(ctx context.Context, actorID string, input any, limit uint) (*DatasetResponse, error) {
	return b.cb.Execute(func() (*DatasetResponse, error) {
		return b.inner.RunActorAndGetResponse(ctx, actorID, input, limit)
	})
}

func (b *BreakerClient) ValidateApiKey(ctx context.Context) error {
	return b.inner.ValidateApiKey(ctx)
}

// State reports the breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}
