package instagram

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrSoftBlocked means the platform served something other than the
	// page we asked for: a challenge, a throttle notice or an empty shell.
	ErrSoftBlocked = errors.New("soft block detected")
	// ErrLoginWall means the session is missing or no longer accepted.
	ErrLoginWall = errors.New("redirected to login")
	// ErrInvalidCredentials means a login was refused for the account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPageUnavailable is a genuine not-found for the requested page.
	ErrPageUnavailable = errors.New("page not available")
)

// Page is what a fetch brought back.
type Page struct {
	RequestedURL string
	FinalURL     string
	StatusCode   int
	Body         string
}

var challengeMarkers = []string{
	"g-recaptcha",
	"captcha",
	"checkpoint_required",
	"challenge_required",
	"/challenge/",
}

var throttleMarkers = []string{
	"Try again later",
	"Please wait a few minutes before you try again",
}

// DetectSoftBlock classifies a fetched page. It returns nil for a page that
// looks like real content.
func DetectSoftBlock(p Page) error {
	final := p.FinalURL
	if final == "" {
		final = p.RequestedURL
	}

	if strings.Contains(final, "/accounts/login") {
		return ErrLoginWall
	}
	if strings.Contains(final, "/challenge") {
		return fmt.Errorf("%w: challenge redirect", ErrSoftBlocked)
	}
	if p.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrSoftBlocked, p.StatusCode)
	}
	if p.StatusCode == http.StatusNotFound || strings.Contains(p.Body, "Sorry, this page isn't available") {
		return ErrPageUnavailable
	}

	lower := strings.ToLower(p.Body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrSoftBlocked, marker)
		}
	}
	for _, marker := range throttleMarkers {
		if strings.Contains(p.Body, marker) {
			return fmt.Errorf("%w: %q", ErrSoftBlocked, marker)
		}
	}

	if p.StatusCode == http.StatusOK && strings.TrimSpace(visibleText(p.Body)) == "" {
		return fmt.Errorf("%w: empty page", ErrSoftBlocked)
	}

	if p.RequestedURL != "" && !samePage(p.RequestedURL, final) {
		return fmt.Errorf("%w: unexpected redirect to %s", ErrSoftBlocked, final)
	}
	return nil
}

func samePage(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return a == b
	}
	ub, err := url.Parse(b)
	if err != nil {
		return a == b
	}
	return strings.EqualFold(strings.TrimPrefix(ua.Host, "www."), strings.TrimPrefix(ub.Host, "www.")) &&
		strings.TrimRight(ua.Path, "/") == strings.TrimRight(ub.Path, "/")
}

// visibleText strips tags crudely; enough to tell an empty shell from a page.
func visibleText(body string) string {
	var b strings.Builder
	inTag := false
	for _, r := range body {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
