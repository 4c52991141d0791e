package jobs

import (
	"context"
	"errors"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/health"
	"github.com/masa-finance/lead-worker/internal/jobs/instagramapify"
	"github.com/masa-finance/lead-worker/internal/jobs/stats"
	"github.com/masa-finance/lead-worker/internal/metrics"
	"github.com/masa-finance/lead-worker/internal/ratelimit"
	"github.com/masa-finance/lead-worker/pkg/client"
)

const (
	// Below this many hashtag usernames the search actor is used as well.
	minHashtagUsernames = 20
	profileBatchSize    = 25
	maxDiscovery        = 500
)

// InstagramApifyClient defines the interface for the Instagram Apify client.
// This allows for mocking in tests.
type InstagramApifyClient interface {
	HashtagUsernames(ctx context.Context, niche string, limit uint) ([]string, error)
	SearchUsernames(ctx context.Context, niche string, limit uint) ([]string, error)
	Profiles(ctx context.Context, niche string, handles []string) ([]types.Candidate, error)
}

// NewInstagramApifyClient is a function variable that can be replaced in tests.
// It defaults to the actual implementation.
var NewInstagramApifyClient = func(apiKey string, wrap func(client.Apify) client.Apify) (InstagramApifyClient, error) {
	return instagramapify.NewClient(apiKey, wrap)
}

// ManagedStrategy discovers leads through the managed scraping platform:
// hashtag posts give usernames, the profile actor gives their details.
type ManagedStrategy struct {
	configuration  config.ApifyConfig
	client         InstagramApifyClient
	limiter        *ratelimit.Limiter
	statsCollector *stats.StatsCollector
	breaker        *client.BreakerClient
}

func NewManagedStrategy(jc config.JobConfiguration, limiter *ratelimit.Limiter, statsCollector *stats.StatsCollector) (*ManagedStrategy, error) {
	cfg := jc.GetApifyConfig()
	s := &ManagedStrategy{
		configuration:  cfg,
		limiter:        limiter,
		statsCollector: statsCollector,
	}
	if cfg.ApiKey == "" {
		logrus.Warn("Managed strategy disabled, no Apify API key configured")
		return s, nil
	}

	wrap := func(c client.Apify) client.Apify {
		s.breaker = client.NewBreakerClient(c, client.BreakerSettings{
			Name:             "apify",
			FailureThreshold: uint32(cfg.BreakerFailures),
			Timeout:          cfg.BreakerTimeout,
			OnStateChange: func(name string, _, to gobreaker.State) {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		return s.breaker
	}
	c, err := NewInstagramApifyClient(cfg.ApiKey, wrap)
	if err != nil {
		return nil, fmt.Errorf("error creating Instagram Apify client: %w", err)
	}
	s.client = c
	logrus.Info("Managed strategy via Apify initialized")
	return s, nil
}

func (s *ManagedStrategy) Name() string {
	return types.StrategyManaged
}

// Enabled reports whether the strategy has credentials to run with.
func (s *ManagedStrategy) Enabled() bool {
	return s.client != nil
}

// BreakerState reports the platform circuit breaker state, closed when no
// breaker is in use.
func (s *ManagedStrategy) BreakerState() gobreaker.State {
	if s.breaker == nil {
		return gobreaker.StateClosed
	}
	return s.breaker.State()
}

// Health summarises the strategy state for readiness reporting.
func (s *ManagedStrategy) Health() health.Check {
	switch {
	case !s.Enabled():
		return health.Check{Name: s.Name(), Status: health.StatusDisabled, Detail: "no API key"}
	case s.BreakerState() == gobreaker.StateOpen:
		return health.Check{Name: s.Name(), Status: health.StatusDegraded, Detail: "circuit breaker open"}
	default:
		return health.Check{Name: s.Name(), Status: health.StatusHealthy}
	}
}

func (s *ManagedStrategy) FetchCandidates(ctx context.Context, req FetchRequest) ([]types.Candidate, error) {
	log := logrus.WithField("job_uuid", req.JobID).WithField("strategy", s.Name())
	if !s.Enabled() {
		return nil, Unrecoverable(ErrStrategyDisabled, fmt.Errorf("no Apify API key"))
	}
	if req.Count <= 0 {
		return nil, nil
	}

	discover := uint(req.Count * 3)
	if discover < 30 {
		discover = 30
	}
	if discover > maxDiscovery {
		discover = maxDiscovery
	}

	var handles []string
	err := s.call(ctx, "hashtag", func(ctx context.Context) error {
		var err error
		handles, err = s.client.HashtagUsernames(ctx, req.Niche, discover)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.statsCollector.Add(s.Name(), stats.ReturnedUsernames, uint(len(handles)))

	if len(handles) < minHashtagUsernames {
		log.Infof("Hashtag #%s gave %d usernames, supplementing with search", req.Niche, len(handles))
		var more []string
		err := s.call(ctx, "search", func(ctx context.Context) error {
			var err error
			more, err = s.client.SearchUsernames(ctx, req.Niche, discover)
			return err
		})
		if err != nil {
			log.WithError(err).Warn("Search supplement failed")
			if len(handles) == 0 {
				return nil, err
			}
		}
		s.statsCollector.Add(s.Name(), stats.ReturnedUsernames, uint(len(more)))
		handles = mergeHandles(handles, more)
	}

	if len(handles) == 0 {
		return nil, Recoverable(ErrEmptyResult, fmt.Errorf("no usernames for #%s", req.Niche))
	}

	var out []types.Candidate
	for start := 0; start < len(handles) && len(out) < req.Count; start += profileBatchSize {
		end := start + profileBatchSize
		if end > len(handles) {
			end = len(handles)
		}

		var profiles []types.Candidate
		err := s.call(ctx, "profiles", func(ctx context.Context) error {
			var err error
			profiles, err = s.client.Profiles(ctx, req.Niche, handles[start:end])
			return err
		})
		if err != nil {
			if len(out) > 0 {
				log.WithError(err).Warnf("Profile lookup failed after %d candidates", len(out))
			}
			return out, err
		}
		s.statsCollector.Add(s.Name(), stats.ReturnedProfiles, uint(len(profiles)))

		for _, p := range profiles {
			if !meetsThreshold(p, req.MinFollowers) {
				continue
			}
			out = append(out, p)
			if len(out) == req.Count {
				break
			}
		}
	}

	log.Infof("Managed strategy found %d of %d candidates for #%s", len(out), req.Count, req.Niche)
	return out, nil
}

// call runs one platform request under the rate limiter with retries.
func (s *ManagedStrategy) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry(ctx, "apify "+op, s.configuration.MaxAttempts, func(int) error {
		if err := s.limiter.Wait(ctx, s.Name()); err != nil {
			return err
		}
		s.statsCollector.Add(s.Name(), stats.Queries, 1)
		return fn(ctx)
	})
	if err != nil {
		s.countError(err)
	}
	return err
}

func (s *ManagedStrategy) countError(err error) {
	switch {
	case errors.Is(err, ErrAuthRevoked):
		s.statsCollector.Add(s.Name(), stats.AuthErrors, 1)
	case errors.Is(err, ErrRateLimited):
		s.statsCollector.Add(s.Name(), stats.RateErrors, 1)
	default:
		s.statsCollector.Add(s.Name(), stats.Errors, 1)
	}
}

func mergeHandles(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, h := range list {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}
