package instagram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/config"
)

// ProfileFetcher loads profile pages over plain HTTP with colly. Profile
// pages carry their counts in server rendered meta tags, so no browser is
// needed for them.
type ProfileFetcher struct {
	BaseURL   string
	userAgent string
	timeout   time.Duration
	nowFunc   func() time.Time
}

func NewProfileFetcher(cfg config.BrowserConfig) *ProfileFetcher {
	timeout := cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &ProfileFetcher{
		BaseURL:   BaseURL,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		nowFunc:   time.Now,
	}
}

// FetchProfile returns the candidate for handle as seen under niche.
func (f *ProfileFetcher) FetchProfile(ctx context.Context, niche, handle, proxyURL string, cookies []*http.Cookie) (types.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return types.Candidate{}, err
	}

	page, err := f.fetch(ctx, ProfileURL(f.BaseURL, handle), proxyURL, cookies)
	if err != nil {
		return types.Candidate{}, err
	}
	if err := DetectSoftBlock(page); err != nil {
		return types.Candidate{}, err
	}
	if page.StatusCode >= http.StatusBadRequest {
		return types.Candidate{}, fmt.Errorf("fetching %s: status %d", handle, page.StatusCode)
	}

	c, err := ParseProfile(handle, page.Body)
	if err != nil {
		return types.Candidate{}, err
	}
	return stamp(c, niche, f.nowFunc()), nil
}

func (f *ProfileFetcher) fetch(ctx context.Context, target, proxyURL string, cookies []*http.Cookie) (Page, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	c.SetRequestTimeout(timeout)

	if proxyURL != "" {
		if err := c.SetProxy(proxyURL); err != nil {
			return Page{}, fmt.Errorf("setting proxy: %w", err)
		}
	}
	if len(cookies) > 0 {
		if err := c.SetCookies(f.BaseURL, cookies); err != nil {
			return Page{}, fmt.Errorf("setting cookies: %w", err)
		}
	}

	page := Page{RequestedURL: target}
	c.RedirectHandler = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return http.ErrUseLastResponse
		}
		page.FinalURL = req.URL.String()
		return nil
	}
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	c.OnResponse(func(r *colly.Response) {
		page.StatusCode = r.StatusCode
		if page.FinalURL == "" {
			page.FinalURL = r.Request.URL.String()
		}
		page.Body = string(r.Body)
	})

	var fetchErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			page.StatusCode = r.StatusCode
			page.Body = string(r.Body)
			if page.FinalURL == "" && r.Request != nil {
				page.FinalURL = r.Request.URL.String()
			}
			return
		}
		fetchErr = err
	})

	logrus.Debugf("Fetching profile page %s", target)
	if err := c.Visit(target); err != nil && fetchErr == nil && page.StatusCode == 0 {
		fetchErr = err
	}
	if fetchErr != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, fmt.Errorf("fetching %s: %w", target, fetchErr)
	}
	return page, nil
}
