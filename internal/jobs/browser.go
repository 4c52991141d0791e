package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/health"
	"github.com/masa-finance/lead-worker/internal/jobs/instagram"
	"github.com/masa-finance/lead-worker/internal/jobs/stats"
	"github.com/masa-finance/lead-worker/internal/proxy"
	"github.com/masa-finance/lead-worker/internal/ratelimit"
	"github.com/masa-finance/lead-worker/internal/session"
)

// Explorer lists the handles found on a niche's hashtag page.
type Explorer interface {
	Explore(ctx context.Context, niche, proxyURL string, cookies []*http.Cookie) ([]string, error)
}

// ProfileFetcher loads a single profile page.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, niche, handle, proxyURL string, cookies []*http.Cookie) (types.Candidate, error)
}

// BrowserStrategy drives a headless browser against the platform directly.
// Every attempt leases a proxy and a session; soft blocks rotate both.
type BrowserStrategy struct {
	configuration  config.BrowserConfig
	explorer       Explorer
	fetcher        ProfileFetcher
	accounts       *instagram.AccountManager
	sessions       *session.Store
	proxies        *proxy.Pool
	limiter        *ratelimit.Limiter
	statsCollector *stats.StatsCollector
}

// BrowserDeps are the shared components the browser strategy consumes.
// Proxies and Accounts may be nil for direct, anonymous browsing.
type BrowserDeps struct {
	Explorer       Explorer
	Fetcher        ProfileFetcher
	Accounts       *instagram.AccountManager
	Sessions       *session.Store
	Proxies        *proxy.Pool
	Limiter        *ratelimit.Limiter
	StatsCollector *stats.StatsCollector
}

func NewBrowserStrategy(jc config.JobConfiguration, deps BrowserDeps) *BrowserStrategy {
	cfg := jc.GetBrowserConfig()
	if deps.Accounts == nil {
		deps.Accounts = instagram.NewAccountManager(nil, 0)
	}
	if deps.Accounts.Len() == 0 {
		logrus.Warn("No Instagram accounts configured, browser strategy will browse anonymously")
	}
	logrus.Infof("Browser strategy initialized (max attempts %d)", cfg.MaxAttempts)
	return &BrowserStrategy{
		configuration:  cfg,
		explorer:       deps.Explorer,
		fetcher:        deps.Fetcher,
		accounts:       deps.Accounts,
		sessions:       deps.Sessions,
		proxies:        deps.Proxies,
		limiter:        deps.Limiter,
		statsCollector: deps.StatsCollector,
	}
}

func (s *BrowserStrategy) Name() string {
	return types.StrategyBrowser
}

// Health summarises the strategy state for readiness reporting.
func (s *BrowserStrategy) Health() health.Check {
	switch {
	case s.explorer == nil || s.fetcher == nil:
		return health.Check{Name: s.Name(), Status: health.StatusDisabled, Detail: "no browser"}
	case s.proxies != nil && s.proxies.Size() == 0:
		return health.Check{Name: s.Name(), Status: health.StatusUnavailable, Detail: "proxy pool is empty"}
	case s.accounts.Len() > 0 && s.accounts.Available() == 0:
		return health.Check{Name: s.Name(), Status: health.StatusDegraded, Detail: "all accounts cooling down"}
	default:
		return health.Check{Name: s.Name(), Status: health.StatusHealthy}
	}
}

// browserRun is the state shared by the attempts of one FetchCandidates call.
type browserRun struct {
	req  FetchRequest
	out  []types.Candidate
	seen map[string]struct{}
	log  *logrus.Entry
}

func (s *BrowserStrategy) FetchCandidates(ctx context.Context, req FetchRequest) ([]types.Candidate, error) {
	if s.explorer == nil || s.fetcher == nil {
		return nil, Unrecoverable(ErrStrategyDisabled, errors.New("no browser configured"))
	}
	if req.Count <= 0 {
		return nil, nil
	}

	run := &browserRun{
		req:  req,
		seen: map[string]struct{}{},
		log:  logrus.WithField("job_uuid", req.JobID).WithField("strategy", s.Name()),
	}
	err := retry(ctx, "browser", s.configuration.MaxAttempts, func(attempt int) error {
		run.log.Debugf("Browser attempt %d for #%s, %d/%d collected", attempt, req.Niche, len(run.out), req.Count)
		return s.attempt(ctx, run)
	})
	if err != nil {
		s.countError(err)
		return run.out, err
	}
	if len(run.out) == 0 {
		return nil, Recoverable(ErrEmptyResult, fmt.Errorf("no profiles for #%s", req.Niche))
	}
	run.log.Infof("Browser strategy found %d of %d candidates for #%s", len(run.out), req.Count, req.Niche)
	return run.out, nil
}

// attempt runs one explore-and-fetch pass with a single proxy and session.
// The proxy is always released, with an outcome matching how the pass ended.
func (s *BrowserStrategy) attempt(ctx context.Context, run *browserRun) (err error) {
	proxyURL := ""
	if s.proxies != nil {
		h, leaseErr := s.proxies.Lease()
		if leaseErr != nil {
			return leaseErr
		}
		s.statsCollector.Add(s.Name(), stats.ProxyLeases, 1)
		proxyURL = h.URL
		defer func() {
			s.proxies.Release(h, proxyOutcome(err))
		}()
		ctx = proxy.WithLease(ctx, h)
	}

	key, cookies, err := s.session(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if errors.Is(err, instagram.ErrLoginWall) && key != "" {
			run.log.Warnf("Session %s was sent to the login page, invalidating", key)
			s.sessions.Invalidate(ctx, key)
		}
		if errors.Is(err, instagram.ErrSoftBlocked) {
			s.statsCollector.Add(s.Name(), stats.SoftBlocks, 1)
			if acc := s.accounts.GetAccountBySessionKey(key); acc != nil {
				s.accounts.MarkAccountRateLimited(acc)
			}
		}
	}()

	if err := s.wait(ctx); err != nil {
		return err
	}
	handles, err := s.explorer.Explore(ctx, run.req.Niche, proxyURL, cookies)
	if err != nil {
		return err
	}
	s.statsCollector.Add(s.Name(), stats.ReturnedUsernames, uint(len(handles)))

	fresh := 0
	for _, handle := range handles {
		if len(run.out) >= run.req.Count {
			return nil
		}
		if _, done := run.seen[handle]; done {
			continue
		}
		fresh++

		if err := s.wait(ctx); err != nil {
			return err
		}
		c, err := s.fetcher.FetchProfile(ctx, run.req.Niche, handle, proxyURL, cookies)
		switch {
		case err == nil:
			run.seen[handle] = struct{}{}
			s.statsCollector.Add(s.Name(), stats.ReturnedProfiles, 1)
			if meetsThreshold(c, run.req.MinFollowers) {
				run.out = append(run.out, c)
			}
		case errors.Is(err, instagram.ErrPageUnavailable), errors.Is(err, instagram.ErrProfileNotParsed):
			run.seen[handle] = struct{}{}
			run.log.Debugf("Skipping %s: %v", handle, err)
		default:
			return err
		}
	}

	if fresh == 0 && len(run.out) == 0 {
		return Recoverable(ErrEmptyResult, fmt.Errorf("hashtag page for #%s listed no new profiles", run.req.Niche))
	}
	return nil
}

// session picks an account and returns its cookies, logging in when the
// stored session is absent or expired. Without accounts it browses anonymously.
func (s *BrowserStrategy) session(ctx context.Context) (string, []*http.Cookie, error) {
	if s.accounts.Len() == 0 || s.sessions == nil {
		return "", nil, nil
	}
	account := s.accounts.GetNextAccount()
	if account == nil {
		return "", nil, Recoverable(ErrRateLimited, errors.New("all Instagram accounts are cooling down"))
	}
	key := account.SessionKey()
	if st, ok := s.sessions.Get(key); ok {
		return key, st.Cookies, nil
	}

	s.statsCollector.Add(s.Name(), stats.SessionRefreshes, 1)
	st, err := s.sessions.Refresh(ctx, key)
	if err != nil {
		if errors.Is(err, instagram.ErrInvalidCredentials) && s.accounts.Len() > 1 {
			// Another account may still work.
			s.accounts.MarkAccountRateLimited(account)
			return "", nil, Recoverable(ErrAuthRevoked, err)
		}
		return "", nil, err
	}
	return key, st.Cookies, nil
}

func (s *BrowserStrategy) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx, s.Name()); err != nil {
		return err
	}
	s.statsCollector.Add(s.Name(), stats.Queries, 1)
	return nil
}

func (s *BrowserStrategy) countError(err error) {
	switch {
	case errors.Is(err, ErrAuthRevoked):
		s.statsCollector.Add(s.Name(), stats.AuthErrors, 1)
	case errors.Is(err, ErrRateLimited):
		s.statsCollector.Add(s.Name(), stats.RateErrors, 1)
	default:
		s.statsCollector.Add(s.Name(), stats.Errors, 1)
	}
}

func proxyOutcome(err error) proxy.Outcome {
	switch {
	case err == nil:
		return proxy.OutcomeOK
	case errors.Is(err, instagram.ErrSoftBlocked):
		return proxy.OutcomeBlocked
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, instagram.ErrLoginWall),
		errors.Is(err, instagram.ErrInvalidCredentials),
		errors.Is(err, ratelimit.ErrRateLimited),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrAuthRevoked),
		errors.Is(err, ErrEmptyResult):
		return proxy.OutcomeOK
	default:
		return proxy.OutcomeFailed
	}
}
