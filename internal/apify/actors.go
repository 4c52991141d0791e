package apify

type ActorId string

type defaultActorInput map[string]any

type actorIds struct {
	InstagramHashtag ActorId
	InstagramSearch  ActorId
	InstagramProfile ActorId
}

var ActorIds = actorIds{
	InstagramHashtag: "apify~instagram-hashtag-scraper",
	InstagramSearch:  "apify~instagram-search-scraper",
	InstagramProfile: "apify~instagram-profile-scraper",
}

type ActorConfig struct {
	ActorId ActorId
	Input   defaultActorInput
}

var apifyProxy = map[string]any{"useApifyProxy": true}

// Actors is the list of actors the managed strategy runs, keyed by id.
var Actors = map[ActorId]ActorConfig{
	ActorIds.InstagramHashtag: {
		ActorId: ActorIds.InstagramHashtag,
		Input: defaultActorInput{
			"addParentData":      false,
			"searchLimit":        1,
			"maxRequestRetries":  0,
			"proxyConfiguration": apifyProxy,
		},
	},
	ActorIds.InstagramSearch: {
		ActorId: ActorIds.InstagramSearch,
		Input: defaultActorInput{
			"searchType":         "hashtag",
			"maxRequestRetries":  0,
			"proxyConfiguration": apifyProxy,
		},
	},
	ActorIds.InstagramProfile: {
		ActorId: ActorIds.InstagramProfile,
		Input: defaultActorInput{
			"maxRequestRetries":  0,
			"proxyConfiguration": apifyProxy,
		},
	},
}

// Input returns a fresh copy of the actor's default input merged with args.
func Input(id ActorId, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+4)
	for k, v := range Actors[id].Input {
		out[k] = v
	}
	for k, v := range args {
		out[k] = v
	}
	return out
}
