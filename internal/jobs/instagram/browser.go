package instagram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/internal/config"
)

const scrollScript = `window.scrollTo(0, document.body.scrollHeight)`
const statusScript = `window.performance?.getEntriesByType?.('navigation')?.[0]?.responseStatus || 200`

// Browser drives a headless Chrome through chromedp. Every call gets its own
// browser process so that proxies and cookies never leak between jobs.
type Browser struct {
	cfg     config.BrowserConfig
	BaseURL string
	// ScrollPause is the wait between scrolls while content loads.
	ScrollPause time.Duration
}

func NewBrowser(cfg config.BrowserConfig) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Browser{cfg: cfg, BaseURL: BaseURL, ScrollPause: 2 * time.Second}
}

func (b *Browser) allocate(ctx context.Context, proxyURL string) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(b.cfg.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logrus.Debugf))
	return browserCtx, func() {
		browserCancel()
		allocCancel()
	}
}

func setCookies(cookies []*http.Cookie) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		for _, c := range cookies {
			domain := c.Domain
			if domain == "" {
				domain = ".instagram.com"
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			if err := network.SetCookie(c.Name, c.Value).
				WithDomain(domain).
				WithPath(path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HttpOnly).
				Do(ctx); err != nil {
				return fmt.Errorf("setting cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}
}

// Explore loads the hashtag page for niche, scrolls it and returns the
// handles linked from it.
func (b *Browser) Explore(ctx context.Context, niche, proxyURL string, cookies []*http.Cookie) ([]string, error) {
	browserCtx, cancel := b.allocate(ctx, proxyURL)
	defer cancel()

	navCtx, navCancel := context.WithTimeout(browserCtx, b.cfg.NavigationTimeout)
	defer navCancel()

	target := TagURL(b.BaseURL, niche)
	rounds := b.cfg.ScrollRounds
	if rounds <= 0 {
		rounds = 1
	}

	actions := []chromedp.Action{
		network.Enable(),
		setCookies(cookies),
		chromedp.Navigate(target),
		chromedp.Sleep(b.ScrollPause),
	}
	for i := 0; i < rounds; i++ {
		actions = append(actions, chromedp.Evaluate(scrollScript, nil), chromedp.Sleep(b.ScrollPause))
	}

	var (
		html     string
		finalURL string
		status   int64
	)
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(statusScript, &status),
	)

	logrus.Debugf("Exploring %s (%d scroll rounds)", target, rounds)
	if err := chromedp.Run(navCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("exploring %s: %w", target, err)
	}

	if err := DetectSoftBlock(Page{RequestedURL: target, FinalURL: finalURL, StatusCode: int(status), Body: html}); err != nil {
		return nil, err
	}
	return ExtractUsernames(html, 0)
}

// Login signs in with username and password and returns the session cookies.
// A login that does not yield a sessionid cookie is treated as refused.
func (b *Browser) Login(ctx context.Context, username, password, proxyURL string) ([]*http.Cookie, error) {
	browserCtx, cancel := b.allocate(ctx, proxyURL)
	defer cancel()

	navCtx, navCancel := context.WithTimeout(browserCtx, b.cfg.NavigationTimeout)
	defer navCancel()

	loginURL := strings.TrimRight(b.BaseURL, "/") + "/accounts/login/"
	var (
		finalURL string
		cookies  []*network.Cookie
	)
	err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`input[name="username"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="username"]`, username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(5*time.Second),
		chromedp.Location(&finalURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithUrls([]string{b.BaseURL}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("logging in as %s: %w", username, err)
	}

	out := convertCookies(cookies)
	for _, c := range out {
		if c.Name == "sessionid" && c.Value != "" {
			return out, nil
		}
	}
	if strings.Contains(finalURL, "/challenge") {
		return nil, fmt.Errorf("%w: login challenge for %s", ErrSoftBlocked, username)
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, username)
}

func convertCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// cookieExpiry returns the earliest expiry among the auth cookies, or zero.
func cookieExpiry(cookies []*http.Cookie) time.Time {
	var earliest time.Time
	for _, c := range cookies {
		if c.Name != "sessionid" || c.Expires.IsZero() {
			continue
		}
		if earliest.IsZero() || c.Expires.Before(earliest) {
			earliest = c.Expires
		}
	}
	return earliest
}
