package instagramapify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/api/types"
	"github.com/masa-finance/lead-worker/internal/apify"
	"github.com/masa-finance/lead-worker/internal/jobs/instagram"
	"github.com/masa-finance/lead-worker/pkg/client"
)

var mentionRe = regexp.MustCompile(`@([a-zA-Z0-9._]{1,30})`)

// PostItem is the subset of a hashtag or search actor item we read.
type PostItem struct {
	OwnerUsername string `json:"ownerUsername"`
	Owner         struct {
		Username string `json:"username"`
	} `json:"owner"`
	Caption string `json:"caption"`
}

// ProfileItem is the subset of a profile actor item we read.
type ProfileItem struct {
	Username       string    `json:"username"`
	FullName       string    `json:"fullName"`
	FollowersCount flexCount `json:"followersCount"`
	FollowsCount   flexCount `json:"followsCount"`
	FollowingCount flexCount `json:"followingCount"`
	Verified       bool      `json:"verified"`
	Private        bool      `json:"private"`
	ProfilePicURL  string    `json:"profilePicUrl"`
}

// flexCount accepts counts sent either as numbers or as "12.5k" style strings.
type flexCount int64

func (f *flexCount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = 0
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			*f = flexCount(i)
			return nil
		}
		if v, err := strconv.ParseFloat(n.String(), 64); err == nil {
			*f = flexCount(v)
			return nil
		}
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("count %s is neither number nor string", string(b))
	}
	*f = flexCount(instagram.ParseCount(s))
	return nil
}

// ApifyClient runs the Instagram actors.
type ApifyClient struct {
	client  client.Apify
	nowFunc func() time.Time
}

// NewInternalClient is a function variable that can be replaced in tests.
// It defaults to the actual implementation.
var NewInternalClient = func(apiKey string) (client.Apify, error) {
	return client.NewApifyClient(apiKey)
}

// NewClient creates a new Instagram Apify client. wrap, when not nil, decorates
// the platform client, e.g. with a circuit breaker.
func NewClient(apiToken string, wrap func(client.Apify) client.Apify) (*ApifyClient, error) {
	c, err := NewInternalClient(apiToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create apify client: %w", err)
	}
	if wrap != nil {
		c = wrap(c)
	}
	return &ApifyClient{client: c, nowFunc: time.Now}, nil
}

// ValidateApiKey tests if the Apify API token is valid
func (c *ApifyClient) ValidateApiKey(ctx context.Context) error {
	return c.client.ValidateApiKey(ctx)
}

// HashtagUsernames returns the handles of post owners and mentions under a hashtag.
func (c *ApifyClient) HashtagUsernames(ctx context.Context, niche string, limit uint) ([]string, error) {
	input := apify.Input(apify.ActorIds.InstagramHashtag, map[string]any{
		"hashtags":     []string{niche},
		"resultsLimit": limit,
	})
	return c.usernames(ctx, apify.ActorIds.InstagramHashtag, input, limit)
}

// SearchUsernames is the search actor fallback for thin hashtags.
func (c *ApifyClient) SearchUsernames(ctx context.Context, niche string, limit uint) ([]string, error) {
	input := apify.Input(apify.ActorIds.InstagramSearch, map[string]any{
		"search":       "#" + niche,
		"resultsLimit": limit,
	})
	return c.usernames(ctx, apify.ActorIds.InstagramSearch, input, limit)
}

func (c *ApifyClient) usernames(ctx context.Context, actor apify.ActorId, input map[string]any, limit uint) ([]string, error) {
	dataset, err := c.client.RunActorAndGetResponse(ctx, string(actor), input, limit)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var out []string
	add := func(raw string) {
		if handle := instagram.CleanUsername(raw); handle != "" {
			if _, dup := seen[handle]; !dup {
				seen[handle] = struct{}{}
				out = append(out, handle)
			}
		}
	}

	for i, item := range dataset.Data.Items {
		var post PostItem
		if err := json.Unmarshal(item, &post); err != nil {
			logrus.Warnf("Failed to unmarshal %s item at index %d: %v", actor, i, err)
			continue
		}
		if post.OwnerUsername != "" {
			add(post.OwnerUsername)
		} else {
			add(post.Owner.Username)
		}
		for _, m := range mentionRe.FindAllStringSubmatch(post.Caption, -1) {
			add(m[1])
		}
	}
	logrus.Debugf("%s returned %d items, %d usernames", actor, len(dataset.Data.Items), len(out))
	return out, nil
}

// Profiles looks up the given handles and returns them as candidates for niche.
func (c *ApifyClient) Profiles(ctx context.Context, niche string, handles []string) ([]types.Candidate, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	input := apify.Input(apify.ActorIds.InstagramProfile, map[string]any{
		"usernames":    handles,
		"resultsLimit": len(handles),
	})
	dataset, err := c.client.RunActorAndGetResponse(ctx, string(apify.ActorIds.InstagramProfile), input, uint(len(handles)))
	if err != nil {
		return nil, err
	}

	now := c.nowFunc()
	out := make([]types.Candidate, 0, len(dataset.Data.Items))
	for i, item := range dataset.Data.Items {
		var p ProfileItem
		if err := json.Unmarshal(item, &p); err != nil {
			logrus.Warnf("Failed to unmarshal profile at index %d: %v", i, err)
			continue
		}
		handle := instagram.CleanUsername(p.Username)
		if handle == "" {
			continue
		}
		following := p.FollowsCount
		if following == 0 {
			following = p.FollowingCount
		}
		out = append(out, types.Candidate{
			Identity:        handle,
			DisplayName:     p.FullName,
			FollowerCount:   int64(p.FollowersCount),
			FollowingCount:  int64(following),
			Verified:        p.Verified,
			Private:         p.Private,
			ProfileImageURL: p.ProfilePicURL,
			Niche:           niche,
			AcquiredAt:      now,
			Source:          types.StrategyManaged,
		})
	}
	return out, nil
}
