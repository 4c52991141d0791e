package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSourceExhausted is returned when a Source has nothing left to give.
var ErrSourceExhausted = errors.New("proxy source exhausted")

// Source supplies replacement proxies for evicted ones.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// StaticSource hands out a fixed list of spares, each once.
type StaticSource struct {
	mu     sync.Mutex
	spares []string
}

func NewStaticSource(spares []string) *StaticSource {
	return &StaticSource{spares: append([]string(nil), spares...)}
}

func (s *StaticSource) Next(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spares) == 0 {
		return "", ErrSourceExhausted
	}
	u := s.spares[0]
	s.spares = s.spares[1:]
	return normalize(u), nil
}

// HTTPSource pulls newline separated host:port lists from a provider
// endpoint, authenticating with a bearer token when one is set.
type HTTPSource struct {
	url    string
	token  string
	client *http.Client

	mu     sync.Mutex
	buffer []string
}

func NewHTTPSource(url, token string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSource) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		list, err := s.fetch(ctx)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "", ErrSourceExhausted
		}
		s.buffer = list
	}
	u := s.buffer[0]
	s.buffer = s.buffer[1:]
	return u, nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating proxy list request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching proxy list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy list provider returned status %d", resp.StatusCode)
	}

	var list []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			list = append(list, normalize(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading proxy list: %w", err)
	}
	logrus.Debugf("Fetched %d proxies from %s", len(list), s.url)
	return list, nil
}

// ChainSource tries each source in order until one yields a proxy.
type ChainSource []Source

func (c ChainSource) Next(ctx context.Context) (string, error) {
	for _, s := range c {
		u, err := s.Next(ctx)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrSourceExhausted) {
			logrus.WithError(err).Debug("Proxy source failed, trying next")
		}
	}
	return "", ErrSourceExhausted
}

func normalize(u string) string {
	if strings.Contains(u, "://") {
		return u
	}
	return "http://" + u
}
