// Package session keeps reusable authentication state (cookies) for the
// browser strategy, shared across jobs and persisted across restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/masa-finance/lead-worker/internal/metrics"
)

// ErrNoRefresher is returned by Refresh for keys nobody registered a refresher for.
var ErrNoRefresher = errors.New("no refresher registered for session key")

// SessionState is the auth material for one key.
type SessionState struct {
	Key         string         `json:"key"`
	Account     string         `json:"account,omitempty"`
	Cookies     []*http.Cookie `json:"cookies"`
	ExpiresAt   time.Time      `json:"expires_at"`
	RefreshedAt time.Time      `json:"refreshed_at"`
}

// Expired reports whether the expiry hint has passed. A zero hint never expires.
func (s SessionState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Refresher produces fresh auth material for a key, typically by logging in.
type Refresher interface {
	Refresh(ctx context.Context, key string) (SessionState, error)
}

type RefresherFunc func(ctx context.Context, key string) (SessionState, error)

func (f RefresherFunc) Refresh(ctx context.Context, key string) (SessionState, error) {
	return f(ctx, key)
}

// Persister saves sessions so they survive restarts.
type Persister interface {
	LoadAll(ctx context.Context) ([]SessionState, error)
	Save(ctx context.Context, state SessionState) error
	Delete(ctx context.Context, key string) error
}

// Store serves sessions to concurrent readers. Refreshes for the same key
// are collapsed into a single in-flight call.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]SessionState
	refreshers map[string]Refresher

	group          singleflight.Group
	persister      Persister
	ttl            time.Duration
	refreshTimeout time.Duration
	nowFunc        func() time.Time
}

// NewStore creates a store. persister may be nil for a process-local store.
// ttl caps the lifetime of sessions whose refresher gave no expiry hint.
func NewStore(persister Persister, ttl, refreshTimeout time.Duration) *Store {
	if refreshTimeout <= 0 {
		refreshTimeout = 90 * time.Second
	}
	return &Store{
		sessions:       make(map[string]SessionState),
		refreshers:     make(map[string]Refresher),
		persister:      persister,
		ttl:            ttl,
		refreshTimeout: refreshTimeout,
		nowFunc:        time.Now,
	}
}

// SetClock replaces the time source. Only meant for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

// Register sets the refresher used for key.
func (s *Store) Register(key string, r Refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshers[key] = r
}

// Keys returns the registered session keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.refreshers))
	for k := range s.refreshers {
		keys = append(keys, k)
	}
	return keys
}

// Restore loads persisted sessions, skipping expired ones.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	states, err := s.persister.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("error loading sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	n := 0
	for _, st := range states {
		if st.Expired(now) {
			continue
		}
		s.sessions[st.Key] = st
		n++
	}
	logrus.Infof("Restored %d of %d persisted sessions", n, len(states))
	return nil
}

// Get returns the current session for key. Expired sessions read as absent.
func (s *Store) Get(key string) (SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[key]
	if !ok || st.Expired(s.nowFunc()) {
		return SessionState{}, false
	}
	return st, true
}

// Refresh runs the registered refresher for key. Concurrent calls for the
// same key share one execution. The refresh keeps running when a waiting
// caller's context ends, so other waiters still get its result.
func (s *Store) Refresh(ctx context.Context, key string) (SessionState, error) {
	s.mu.RLock()
	r, ok := s.refreshers[key]
	s.mu.RUnlock()
	if !ok {
		return SessionState{}, fmt.Errorf("%w: %s", ErrNoRefresher, key)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.doRefresh(rctx, key, r)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return SessionState{}, res.Err
		}
		return res.Val.(SessionState), nil
	case <-ctx.Done():
		return SessionState{}, ctx.Err()
	}
}

func (s *Store) doRefresh(ctx context.Context, key string, r Refresher) (SessionState, error) {
	logrus.Infof("Refreshing session %s", key)
	st, err := r.Refresh(ctx, key)
	if err != nil {
		metrics.SessionRefreshes.WithLabelValues(key, "error").Inc()
		logrus.WithError(err).Warnf("Session refresh for %s failed", key)
		return SessionState{}, fmt.Errorf("error refreshing session %s: %w", key, err)
	}
	metrics.SessionRefreshes.WithLabelValues(key, "ok").Inc()

	s.mu.Lock()
	now := s.nowFunc()
	st.Key = key
	st.RefreshedAt = now
	if st.ExpiresAt.IsZero() && s.ttl > 0 {
		st.ExpiresAt = now.Add(s.ttl)
	}
	s.sessions[key] = st
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, st); err != nil {
			logrus.WithError(err).Errorf("Failed to persist session %s", key)
		}
	}
	return st, nil
}

// Invalidate drops the session for key, e.g. after the platform rejected it.
func (s *Store) Invalidate(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Delete(ctx, key); err != nil {
			logrus.WithError(err).Warnf("Failed to delete persisted session %s", key)
		}
	}
}
