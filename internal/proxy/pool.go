// Package proxy rotates egress proxies between concurrent browser sessions.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/internal/config"
	"github.com/masa-finance/lead-worker/internal/metrics"
)

// ErrNoProxyAvailable is returned by Lease when every proxy is leased or the
// pool is empty. Callers treat it as a recoverable failure.
var ErrNoProxyAvailable = errors.New("no proxy available")

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeBlocked
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle is an exclusive lease on one proxy. It must be given back with Release.
type Handle struct {
	URL string
	id  uint64
}

type entry struct {
	url      string
	leased   bool
	leaseID  uint64
	blocks   []time.Time
	failures int
	uses     int
	// Not leased before this time after repeated failures.
	quarantinedUntil time.Time
}

// Pool hands out proxies one lease at a time. A proxy blocked BlockThreshold
// times within BlockWindow is evicted and, if a Source is configured, replaced.
// A proxy failing failureThreshold times in a row sits out the quarantine period.
type Pool struct {
	mu        sync.Mutex
	entries   []*entry
	next      int
	leaseSeq  uint64
	evicted   map[string]bool
	source    Source
	window    time.Duration
	threshold int

	failureThreshold int
	quarantine       time.Duration

	replaceTimeout time.Duration
	nowFunc        func() time.Time
}

func NewPool(proxies []string, source Source, blockWindow time.Duration, blockThreshold int) *Pool {
	if blockWindow <= 0 {
		blockWindow = 10 * time.Minute
	}
	if blockThreshold <= 0 {
		blockThreshold = 2
	}
	p := &Pool{
		evicted:        make(map[string]bool),
		source:         source,
		window:         blockWindow,
		threshold:      blockThreshold,
		replaceTimeout: 15 * time.Second,

		failureThreshold: 3,
		quarantine:       10 * time.Minute,
		nowFunc:        time.Now,
	}
	for _, u := range proxies {
		p.addLocked(u)
	}
	metrics.ProxyPoolSize.Set(float64(len(p.entries)))
	return p
}

// NewPoolFromConfig builds the pool and its replacement source from configuration.
func NewPoolFromConfig(cfg config.ProxyConfig) *Pool {
	var sources []Source
	if len(cfg.Spares) > 0 {
		sources = append(sources, NewStaticSource(cfg.Spares))
	}
	if cfg.SourceURL != "" {
		sources = append(sources, NewHTTPSource(cfg.SourceURL, cfg.SourceToken))
	}
	var src Source
	switch len(sources) {
	case 0:
	case 1:
		src = sources[0]
	default:
		src = ChainSource(sources)
	}
	logrus.Infof("Proxy pool with %d proxies, %d replacement sources", len(cfg.Proxies), len(sources))
	p := NewPool(cfg.Proxies, src, cfg.BlockWindow, cfg.BlockThreshold)
	p.SetQuarantine(cfg.FailureThreshold, cfg.QuarantinePeriod)
	return p
}

// SetQuarantine changes how many consecutive failures put a proxy in
// quarantine, and for how long. Non-positive values keep the current setting.
func (p *Pool) SetQuarantine(failures int, period time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if failures > 0 {
		p.failureThreshold = failures
	}
	if period > 0 {
		p.quarantine = period
	}
}

// SetClock replaces the time source. Only meant for tests.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowFunc = now
}

func (p *Pool) addLocked(u string) bool {
	if u == "" || p.evicted[u] {
		return false
	}
	for _, e := range p.entries {
		if e.url == u {
			return false
		}
	}
	p.entries = append(p.entries, &entry{url: u})
	return true
}

// Lease returns the next free proxy in round-robin order. It never blocks.
func (p *Pool) Lease() (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	if n == 0 {
		return Handle{}, fmt.Errorf("%w: pool is empty", ErrNoProxyAvailable)
	}
	now := p.nowFunc()
	for i := 0; i < n; i++ {
		e := p.entries[(p.next+i)%n]
		if e.leased || now.Before(e.quarantinedUntil) {
			continue
		}
		p.next = (p.next + i + 1) % n
		p.leaseSeq++
		e.leased = true
		e.leaseID = p.leaseSeq
		e.uses++
		return Handle{URL: e.url, id: e.leaseID}, nil
	}
	return Handle{}, fmt.Errorf("%w: all %d proxies are leased or quarantined", ErrNoProxyAvailable, n)
}

// Release returns a lease and records how the proxy behaved. Releasing a
// handle twice, or one whose proxy was evicted meanwhile, is a no-op.
func (p *Pool) Release(h Handle, outcome Outcome) {
	metrics.ProxyReleases.WithLabelValues(outcome.String()).Inc()

	p.mu.Lock()
	idx := -1
	for i, e := range p.entries {
		if e.url == h.URL && e.leaseID == h.id && e.leased {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return
	}

	e := p.entries[idx]
	e.leased = false
	evict := false
	switch outcome {
	case OutcomeOK:
		e.failures = 0
	case OutcomeFailed:
		e.failures++
		if e.failures >= p.failureThreshold {
			e.quarantinedUntil = p.nowFunc().Add(p.quarantine)
			e.failures = 0
			metrics.ProxyQuarantines.Inc()
			logrus.Warnf("Proxy %s failed %d times in a row, quarantined until %s", e.url, p.failureThreshold, e.quarantinedUntil.Format(time.RFC3339))
		}
	case OutcomeBlocked:
		now := p.nowFunc()
		cutoff := now.Add(-p.window)
		kept := e.blocks[:0]
		for _, t := range e.blocks {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		e.blocks = append(kept, now)
		evict = len(e.blocks) >= p.threshold
	}

	if evict {
		p.entries = append(p.entries[:idx], p.entries[idx+1:]...)
		if p.next > idx {
			p.next--
		}
		if len(p.entries) > 0 {
			p.next %= len(p.entries)
		} else {
			p.next = 0
		}
		p.evicted[e.url] = true
		metrics.ProxyEvictions.Inc()
		logrus.Warnf("Proxy %s blocked %d times within %s, evicting", e.url, len(e.blocks), p.window)
	}
	src := p.source
	size := len(p.entries)
	p.mu.Unlock()

	if evict {
		if src != nil {
			p.replace(src)
		} else {
			metrics.ProxyPoolSize.Set(float64(size))
			logrus.Warnf("No replacement source configured, proxy pool shrank to %d", size)
		}
	}
}

func (p *Pool) replace(src Source) {
	ctx, cancel := context.WithTimeout(context.Background(), p.replaceTimeout)
	defer cancel()

	// The source may hand back proxies we already have or evicted earlier.
	for attempt := 0; attempt < 5; attempt++ {
		u, err := src.Next(ctx)
		if err != nil {
			logrus.WithError(err).Warn("Could not get a replacement proxy")
			break
		}
		p.mu.Lock()
		added := p.addLocked(u)
		size := len(p.entries)
		p.mu.Unlock()
		if added {
			metrics.ProxyPoolSize.Set(float64(size))
			logrus.Infof("Added replacement proxy %s, pool size %d", u, size)
			return
		}
	}
	p.mu.Lock()
	metrics.ProxyPoolSize.Set(float64(len(p.entries)))
	p.mu.Unlock()
}

// Size is the number of proxies currently in the pool, leased or not.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

type Status struct {
	URL          string `json:"url"`
	Leased       bool   `json:"leased"`
	RecentBlocks int    `json:"recent_blocks"`
	Failures     int    `json:"failures"`
	Uses         int    `json:"uses"`
	Quarantined  bool   `json:"quarantined"`
}

// Statuses returns a snapshot of the pool.
func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.nowFunc()
	cutoff := now.Add(-p.window)
	out := make([]Status, 0, len(p.entries))
	for _, e := range p.entries {
		recent := 0
		for _, t := range e.blocks {
			if t.After(cutoff) {
				recent++
			}
		}
		out = append(out, Status{
			URL:          e.url,
			Leased:       e.leased,
			RecentBlocks: recent,
			Failures:     e.failures,
			Uses:         e.uses,
			Quarantined:  now.Before(e.quarantinedUntil),
		})
	}
	return out
}

type leaseKey struct{}

// WithLease attaches a held lease to ctx so work done on behalf of the
// holder, such as a login, goes out through the same proxy.
func WithLease(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, leaseKey{}, h)
}

// LeaseFromContext returns the lease attached by WithLease.
func LeaseFromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(leaseKey{}).(Handle)
	return h, ok
}
