package config

import "time"

// These sections are built directly from the JobConfiguration to avoid
// marshalling the whole map for each component.

type ApifyConfig struct {
	ApiKey          string
	MaxAttempts     int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

func (jc JobConfiguration) GetApifyConfig() ApifyConfig {
	return ApifyConfig{
		ApiKey:          jc.GetString("apify_api_key", ""),
		MaxAttempts:     jc.GetInt("apify_max_attempts", 3),
		BreakerFailures: jc.GetInt("apify_breaker_failures", 5),
		BreakerTimeout:  jc.GetDuration("apify_breaker_timeout_seconds", 120),
	}
}

// RateLimitConfig holds the per strategy request budgets. Each budget is the
// number of requests admitted per Window.
type RateLimitConfig struct {
	Limits  map[string]int
	Window  time.Duration
	MaxWait time.Duration
}

func (jc JobConfiguration) GetRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limits: map[string]int{
			"managed": jc.GetInt("apify_rate_limit", 30),
			"browser": jc.GetInt("browser_rate_limit", 10),
		},
		Window:  jc.GetDuration("rate_limit_window_seconds", 60),
		MaxWait: jc.GetDuration("rate_limit_max_wait_seconds", 30),
	}
}

type ProxyConfig struct {
	Proxies        []string
	Spares         []string
	SourceURL      string
	SourceToken    string
	BlockWindow    time.Duration
	BlockThreshold int

	FailureThreshold int
	QuarantinePeriod time.Duration
}

func (jc JobConfiguration) GetProxyConfig() ProxyConfig {
	return ProxyConfig{
		Proxies:        jc.GetStringSlice("proxies", []string{}),
		Spares:         jc.GetStringSlice("proxy_spares", []string{}),
		SourceURL:      jc.GetString("proxy_source_url", ""),
		SourceToken:    jc.GetString("proxy_source_token", ""),
		BlockWindow:    jc.GetDuration("proxy_block_window_seconds", 600),
		BlockThreshold: jc.GetInt("proxy_block_threshold", 2),

		FailureThreshold: jc.GetInt("proxy_failure_threshold", 3),
		QuarantinePeriod: jc.GetDuration("proxy_quarantine_seconds", 600),
	}
}

type SessionConfig struct {
	Backend        string
	DataDir        string
	TTL            time.Duration
	RefreshTimeout time.Duration
	Accounts       []string
}

func (jc JobConfiguration) GetSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:        jc.GetString("session_backend", "badger"),
		DataDir:        jc.DataDir(),
		TTL:            jc.GetDuration("session_ttl_seconds", 24*60*60),
		RefreshTimeout: jc.GetDuration("session_refresh_timeout_seconds", 90),
		Accounts:       jc.GetStringSlice("instagram_accounts", []string{}),
	}
}

type StoreConfig struct {
	Backend  string
	DSN      string
	MaxConns int
}

func (jc JobConfiguration) GetStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:  jc.GetString("store_backend", "memory"),
		DSN:      jc.GetString("pg_dsn", ""),
		MaxConns: jc.GetInt("pg_max_conns", 4),
	}
}

type AlertConfig struct {
	WindowRuns   int
	MinYield     float64
	MaxErrorRate float64
	WebhookURL   string
	Cooldown     time.Duration
}

func (jc JobConfiguration) GetAlertConfig() AlertConfig {
	return AlertConfig{
		WindowRuns:   jc.GetInt("alert_window_runs", 5),
		MinYield:     jc.GetFloat("alert_min_yield", 0.25),
		MaxErrorRate: jc.GetFloat("alert_max_error_rate", 0.5),
		WebhookURL:   jc.GetString("alert_webhook_url", ""),
		Cooldown:     jc.GetDuration("alert_cooldown_seconds", 1800),
	}
}

type BrowserConfig struct {
	ExecPath          string
	Headless          bool
	UserAgent         string
	MaxAttempts       int
	ScrollRounds      int
	NavigationTimeout time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func (jc JobConfiguration) GetBrowserConfig() BrowserConfig {
	return BrowserConfig{
		ExecPath:          jc.GetString("browser_exec_path", ""),
		Headless:          jc.GetBool("browser_headless", true),
		UserAgent:         jc.GetString("browser_user_agent", defaultUserAgent),
		MaxAttempts:       jc.GetInt("browser_max_attempts", 3),
		ScrollRounds:      jc.GetInt("browser_scroll_rounds", 5),
		NavigationTimeout: jc.GetDuration("browser_navigation_timeout_seconds", 45),
	}
}
