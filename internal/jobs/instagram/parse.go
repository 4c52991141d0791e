// Package instagram holds the platform specific pieces of the browser
// strategy: page parsing, soft block detection, the chromedp driver, the
// colly profile fetcher and login.
package instagram

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/masa-finance/lead-worker/api/types"
)

const BaseURL = "https://www.instagram.com"

var ErrProfileNotParsed = errors.New("profile page has no profile data")

// CleanUsername returns the normalized handle, or "" when raw is not a valid one.
func CleanUsername(raw string) string {
	handle, ok := types.NormalizeHandle(raw)
	if !ok {
		return ""
	}
	return handle
}

var countRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kmb]?)`)

// ParseCount parses follower style counts such as "1,234", "12.5k" or "3M".
// Unparseable input yields 0.
func ParseCount(s string) int64 {
	text := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	m := countRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "k":
		num *= 1_000
	case "m":
		num *= 1_000_000
	case "b":
		num *= 1_000_000_000
	}
	return int64(num)
}

// Paths on the site root that are not profiles.
var reservedPaths = map[string]struct{}{
	"about": {}, "accounts": {}, "api": {}, "challenge": {}, "developer": {},
	"direct": {}, "emails": {}, "explore": {}, "legal": {}, "locations": {},
	"p": {}, "privacy": {}, "reel": {}, "reels": {}, "stories": {}, "tags": {},
	"terms": {}, "tv": {}, "web": {},
}

// ExtractUsernames collects profile handles linked from a page, in document
// order, without duplicates. limit <= 0 means no limit.
func ExtractUsernames(html string, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	seen := map[string]struct{}{}
	var out []string
	doc.Find(`a[href^="/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		path := strings.Trim(href, "/")
		if path == "" || strings.Contains(path, "/") || strings.ContainsAny(path, "?#") {
			return true
		}
		if _, reserved := reservedPaths[strings.ToLower(path)]; reserved {
			return true
		}
		handle := CleanUsername(path)
		if handle == "" {
			return true
		}
		if _, dup := seen[handle]; dup {
			return true
		}
		seen[handle] = struct{}{}
		out = append(out, handle)
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

var (
	// "1,234 Followers, 56 Following, 78 Posts - See Instagram photos ..."
	ogCountsRe = regexp.MustCompile(`(?i)([\d.,]+\s*[kmb]?)\s+Followers?,\s*([\d.,]+\s*[kmb]?)\s+Following`)
	verifiedRe = regexp.MustCompile(`"is_verified"\s*:\s*true`)
	privateRe  = regexp.MustCompile(`"is_private"\s*:\s*true`)
)

// ParseProfile reads a profile page into a candidate for identity. Niche,
// source and acquisition time are left for the caller.
func ParseProfile(identity, html string) (types.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.Candidate{}, fmt.Errorf("parsing profile %s: %w", identity, err)
	}

	meta := func(property string) string {
		v, _ := doc.Find(`meta[property="` + property + `"]`).Attr("content")
		return strings.TrimSpace(v)
	}

	desc := meta("og:description")
	if desc == "" {
		desc, _ = doc.Find(`meta[name="description"]`).Attr("content")
	}
	m := ogCountsRe.FindStringSubmatch(desc)
	if m == nil {
		return types.Candidate{}, fmt.Errorf("%w: %s", ErrProfileNotParsed, identity)
	}

	c := types.Candidate{
		Identity:        identity,
		DisplayName:     displayName(meta("og:title")),
		FollowerCount:   ParseCount(m[1]),
		FollowingCount:  ParseCount(m[2]),
		Verified:        verifiedRe.MatchString(html),
		Private:         privateRe.MatchString(html),
		ProfileImageURL: meta("og:image"),
	}
	return c, nil
}

// "Jane Doe (@jane) • Instagram photos and videos" -> "Jane Doe"
func displayName(title string) string {
	if i := strings.Index(title, " (@"); i >= 0 {
		return strings.TrimSpace(title[:i])
	}
	if i := strings.Index(title, "•"); i >= 0 {
		return strings.TrimSpace(title[:i])
	}
	return title
}

// ProfileURL is the canonical profile address for a handle.
func ProfileURL(base, handle string) string {
	return strings.TrimRight(base, "/") + "/" + handle + "/"
}

// TagURL is the explore page for a hashtag.
func TagURL(base, niche string) string {
	return strings.TrimRight(base, "/") + "/explore/tags/" + strings.TrimPrefix(strings.ToLower(niche), "#") + "/"
}

func stamp(c types.Candidate, niche string, now time.Time) types.Candidate {
	c.Niche = niche
	c.AcquiredAt = now
	c.Source = types.StrategyBrowser
	return c
}
