// Package ratelimit bounds outbound requests per strategy with a sliding
// window log.
package ratelimit

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

// ErrRateLimited is returned by Wait when the next free slot is further away
// than the caller can wait.
var ErrRateLimited = errors.New("rate limited")

// Decision is the outcome of a non-blocking reservation. When Allowed is
// false, RetryAt is the earliest time a slot frees up.
type Decision struct {
	Allowed bool
	RetryAt time.Time
}

// Limiter admits at most limit[key] requests in any window-long interval.
// Keys without a positive limit are not limited.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	maxWait time.Duration
	limits  map[string]int
	log     map[string][]time.Time

	nowFunc func() time.Time
}

func New(window time.Duration, limits map[string]int, maxWait time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		window:  window,
		maxWait: maxWait,
		limits:  make(map[string]int, len(limits)),
		log:     make(map[string][]time.Time),
		nowFunc: time.Now,
	}
	for k, v := range limits {
		l.limits[k] = v
	}
	return l
}

func NewFromConfig(cfg config.RateLimitConfig) *Limiter {
	logrus.Infof("Rate limits %v per %s", cfg.Limits, cfg.Window)
	return New(cfg.Window, cfg.Limits, cfg.MaxWait)
}

// SetClock replaces the time source. Only meant for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = now
}

// Reserve takes a slot for key if one is free and never blocks.
func (l *Limiter) Reserve(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	limit := l.limits[key]
	if limit <= 0 {
		return Decision{Allowed: true, RetryAt: now}
	}

	cutoff := now.Add(-l.window)
	entries := l.log[key]
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	entries = entries[i:]

	if len(entries) < limit {
		l.log[key] = append(entries, now)
		return Decision{Allowed: true, RetryAt: now}
	}
	l.log[key] = entries
	return Decision{Allowed: false, RetryAt: entries[0].Add(l.window)}
}

// Wait blocks until a slot for key is taken. It gives up with ErrRateLimited
// when the next slot lies beyond the context deadline or the configured
// maximum wait, and returns the context error if ctx ends first.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		d := l.Reserve(key)
		if d.Allowed {
			return nil
		}

		wait := d.RetryAt.Sub(l.now())
		if l.maxWait > 0 && wait > l.maxWait {
			metrics.RateLimitRejections.WithLabelValues(key).Inc()
			return fmt.Errorf("%w: %s needs %s, max wait is %s", ErrRateLimited, key, wait, l.maxWait)
		}
		// RetryAt is on the limiter clock, the deadline on the wall clock.
		if deadline, ok := ctx.Deadline(); ok && wait > time.Until(deadline) {
			metrics.RateLimitRejections.WithLabelValues(key).Inc()
			return fmt.Errorf("%w: %s needs %s, past the deadline", ErrRateLimited, key, wait)
		}

		logrus.Debugf("Rate limiter: %s waiting %s", key, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns how many requests for key are counted in the current window.
func (l *Limiter) InFlight(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.nowFunc().Add(-l.window)
	n := 0
	for _, t := range l.log[key] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (l *Limiter) now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nowFunc()
}
