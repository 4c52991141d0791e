package types

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Strategy names, as reported in results and metrics.
const (
	StrategyManaged = "managed"
	StrategyBrowser = "browser"
)

// leadNamespace seeds the name-based UUIDs used as lead surrogate keys.
var leadNamespace = uuid.MustParse("6f1c0d52-3b8e-4f4a-9a57-0d1f5e2c7b41")

var handlePattern = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// NormalizeHandle strips whitespace and a leading @, lowercases the handle and
// reports whether the result is a valid platform handle.
func NormalizeHandle(raw string) (string, bool) {
	h := strings.TrimSpace(raw)
	h = strings.TrimPrefix(h, "@")
	h = strings.ToLower(strings.TrimSpace(h))
	if !handlePattern.MatchString(h) {
		return "", false
	}
	return h, true
}

// LeadKey is the stable surrogate key for an identity.
func LeadKey(identity string) uuid.UUID {
	return uuid.NewSHA1(leadNamespace, []byte(identity))
}

// Candidate is a profile as returned by an acquisition strategy.
type Candidate struct {
	Identity        string    `json:"identity"`
	DisplayName     string    `json:"display_name"`
	FollowerCount   int64     `json:"follower_count"`
	FollowingCount  int64     `json:"following_count"`
	Verified        bool      `json:"verified"`
	Private         bool      `json:"private"`
	ProfileImageURL string    `json:"profile_image_url"`
	Niche           string    `json:"niche"`
	AcquiredAt      time.Time `json:"acquired_at"`
	Source          string    `json:"source"`
}

// LeadRecord is a persisted candidate. There is at most one per identity.
type LeadRecord struct {
	ID              uuid.UUID `json:"id"`
	Identity        string    `json:"identity"`
	DisplayName     string    `json:"display_name"`
	FollowerCount   int64     `json:"follower_count"`
	FollowingCount  int64     `json:"following_count"`
	Verified        bool      `json:"verified"`
	Private         bool      `json:"private"`
	ProfileImageURL string    `json:"profile_image_url"`
	Niches          []string  `json:"niches"`
	Source          string    `json:"source"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// NewLeadRecord builds the first record for a candidate.
func NewLeadRecord(c Candidate, now time.Time) LeadRecord {
	r := LeadRecord{
		ID:        LeadKey(c.Identity),
		Identity:  c.Identity,
		FirstSeen: now,
	}
	r.Merge(c, now)
	return r
}

// Merge refreshes the mutable profile fields from a re-ingested candidate and
// associates the candidate's niche. ID and FirstSeen never change.
func (r *LeadRecord) Merge(c Candidate, now time.Time) {
	r.DisplayName = c.DisplayName
	r.FollowerCount = c.FollowerCount
	r.FollowingCount = c.FollowingCount
	r.Verified = c.Verified
	r.Private = c.Private
	if c.ProfileImageURL != "" {
		r.ProfileImageURL = c.ProfileImageURL
	}
	if c.Source != "" {
		r.Source = c.Source
	}
	if c.Niche != "" && !slices.Contains(r.Niches, c.Niche) {
		r.Niches = append(r.Niches, c.Niche)
	}
	r.LastSeen = now
}

// HasNiche reports whether the lead was ever acquired under niche.
func (r LeadRecord) HasNiche(niche string) bool {
	return slices.Contains(r.Niches, niche)
}
