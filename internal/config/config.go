package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultDataDir = "/home/masa"
const defaultListenAddress = ":8080"

// TODO: Revamp this whole thing, a map[string]any is not really maintainable
type JobConfiguration map[string]any

func ReadConfig() JobConfiguration {
	// The components will then pick the sections they need from this configuration
	jc := JobConfiguration{}

	logLevel := os.Getenv("LOG_LEVEL")
	level := ParseLogLevel(logLevel)
	jc["log_level"] = level.String()
	SetLogLevel(level)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
		err := os.Setenv("DATA_DIR", dataDir)
		if err != nil {
			logrus.Fatalf("Failed to set DATA_DIR: %v", err)
		}
	}
	jc["data_dir"] = dataDir

	// Read the env file
	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err != nil {
		if os.Getenv("LEAD_WORKER_SIMULATION") == "" {
			fmt.Println("Failed reading env file!")
			panic(err)
		}
		fmt.Println("Failed reading env file. Running in simulation mode, reading from environment variables")
	}

	jc["stats_buf_size"] = uint(envInt("STATS_BUF_SIZE", 128))
	jc["max_jobs"] = envInt("MAX_JOBS", 10)
	jc["worker_id"] = os.Getenv("WORKER_ID")

	listenAddress := os.Getenv("LISTEN_ADDRESS")
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}
	jc["listen_address"] = listenAddress

	// Result cache config
	jc["result_cache_max_size"] = envInt("RESULT_CACHE_MAX_SIZE", 1000)
	jc["result_cache_max_age_seconds"] = envSeconds("RESULT_CACHE_MAX_AGE_SECONDS", 600)
	jc["job_timeout_seconds"] = envSeconds("JOB_TIMEOUT_SECONDS", 300)
	jc["fast_queue_size"] = envInt("FAST_QUEUE_SIZE", 100)
	jc["slow_queue_size"] = envInt("SLOW_QUEUE_SIZE", 1000)

	// API Key for authentication
	apiKey := os.Getenv("API_KEY")
	if apiKey != "" {
		jc["api_key"] = apiKey
	}

	// Managed service
	apifyApiKey := os.Getenv("APIFY_API_KEY")
	if apifyApiKey != "" {
		logrus.Info("Apify API key found")
	}
	jc["apify_api_key"] = apifyApiKey
	jc["apify_max_attempts"] = envInt("APIFY_MAX_ATTEMPTS", 3)
	jc["apify_breaker_failures"] = envInt("APIFY_BREAKER_FAILURES", 5)
	jc["apify_breaker_timeout_seconds"] = envSeconds("APIFY_BREAKER_TIMEOUT_SECONDS", 120)

	// Rate limits, N requests per sliding window per strategy
	jc["apify_rate_limit"] = envInt("APIFY_RATE_LIMIT", 30)
	jc["browser_rate_limit"] = envInt("BROWSER_RATE_LIMIT", 10)
	jc["rate_limit_window_seconds"] = envSeconds("RATE_LIMIT_WINDOW_SECONDS", 60)
	jc["rate_limit_max_wait_seconds"] = envSeconds("RATE_LIMIT_MAX_WAIT_SECONDS", 30)

	// Proxies
	jc["proxies"] = envList("PROXIES")
	jc["proxy_spares"] = envList("PROXY_SPARES")
	jc["proxy_source_url"] = os.Getenv("PROXY_SOURCE_URL")
	jc["proxy_source_token"] = os.Getenv("PROXY_SOURCE_TOKEN")
	jc["proxy_block_window_seconds"] = envSeconds("PROXY_BLOCK_WINDOW_SECONDS", 600)
	jc["proxy_block_threshold"] = envInt("PROXY_BLOCK_THRESHOLD", 2)
	jc["proxy_failure_threshold"] = envInt("PROXY_FAILURE_THRESHOLD", 3)
	jc["proxy_quarantine_seconds"] = envSeconds("PROXY_QUARANTINE_SECONDS", 600)

	// Sessions
	accounts := envList("INSTAGRAM_ACCOUNTS")
	if len(accounts) > 0 {
		logrus.Infof("%d Instagram accounts found", len(accounts))
	}
	jc["instagram_accounts"] = accounts
	jc["session_backend"] = envString("SESSION_BACKEND", "badger")
	jc["session_ttl_seconds"] = time.Duration(envInt("SESSION_TTL_HOURS", 24)) * time.Hour
	jc["session_refresh_timeout_seconds"] = envSeconds("SESSION_REFRESH_TIMEOUT_SECONDS", 90)

	// Lead store
	jc["store_backend"] = envString("STORE_BACKEND", "memory")
	jc["pg_dsn"] = os.Getenv("PG_DSN")
	jc["pg_max_conns"] = envInt("PG_MAX_CONNS", 4)

	// Alerting
	jc["alert_window_runs"] = envInt("ALERT_WINDOW_RUNS", 5)
	jc["alert_min_yield"] = envFloat("ALERT_MIN_YIELD", 0.25)
	jc["alert_max_error_rate"] = envFloat("ALERT_MAX_ERROR_RATE", 0.5)
	jc["alert_webhook_url"] = os.Getenv("ALERT_WEBHOOK_URL")
	jc["alert_cooldown_seconds"] = envSeconds("ALERT_COOLDOWN_SECONDS", 1800)

	// Browser automation
	jc["browser_exec_path"] = os.Getenv("BROWSER_EXEC_PATH")
	jc["browser_headless"] = os.Getenv("BROWSER_HEADLESS") != "false"
	jc["browser_max_attempts"] = envInt("BROWSER_MAX_ATTEMPTS", 3)
	jc["browser_scroll_rounds"] = envInt("BROWSER_SCROLL_ROUNDS", 5)
	jc["browser_navigation_timeout_seconds"] = envSeconds("BROWSER_NAVIGATION_TIMEOUT_SECONDS", 45)
	if userAgent := os.Getenv("BROWSER_USER_AGENT"); userAgent != "" {
		jc["browser_user_agent"] = userAgent
	}

	jc["profiling_enabled"] = os.Getenv("ENABLE_PPROF") == "true"

	return jc
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		logrus.Errorf("Error parsing %s: %q. Setting to default %d.", key, s, def)
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logrus.Errorf("Error parsing %s: %q. Setting to default %v.", key, s, def)
		return def
	}
	return v
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return []string{}
	}
	var out []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Unmarshal unmarshals the job configuration into the supplied interface.
func (jc JobConfiguration) Unmarshal(v any) error {
	data, err := json.Marshal(jc)
	if err != nil {
		return fmt.Errorf("error marshalling job configuration: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error unmarshalling job configuration: %w", err)
	}

	return nil
}

func (jc JobConfiguration) DataDir() string {
	return jc.GetString("data_dir", defaultDataDir)
}

func (jc JobConfiguration) ListenAddress() string {
	return jc.GetString("listen_address", defaultListenAddress)
}

// GetInt safely extracts an int from JobConfiguration, with a default fallback
func (jc JobConfiguration) GetInt(key string, def int) int {
	if v, ok := jc[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case uint:
			return int(val)
		case float64:
			return int(val)
		case float32:
			return int(val)
		default:
			logrus.Warnf("Value %v for key %q cannot be converted to int, using %d", val, key, def)
		}
	}
	return def
}

func (jc JobConfiguration) GetFloat(key string, def float64) float64 {
	if v, ok := jc[key]; ok {
		switch val := v.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int:
			return float64(val)
		}
	}
	return def
}

func (jc JobConfiguration) GetDuration(key string, defSecs int) time.Duration {
	// Go does not allow generics in methods :-(
	if v, ok := jc[key]; ok {
		if val, ok := v.(time.Duration); ok {
			return val
		}
	}
	return time.Duration(defSecs) * time.Second
}

func (jc JobConfiguration) GetString(key string, def string) string {
	if v, ok := jc[key]; ok {
		if val, ok := v.(string); ok {
			return val
		}
	}
	return def
}

// GetStringSlice safely extracts a string slice from JobConfiguration, with a default fallback
func (jc JobConfiguration) GetStringSlice(key string, def []string) []string {
	if v, ok := jc[key]; ok {
		if val, ok := v.([]string); ok {
			return val
		}
	}
	return def
}

// GetBool safely extracts a bool from JobConfiguration, with a default fallback
func (jc JobConfiguration) GetBool(key string, def bool) bool {
	if v, ok := jc[key]; ok {
		if val, ok := v.(bool); ok {
			return val
		}
	}
	return def
}

// ParseLogLevel parses a string and returns the corresponding logrus.Level.
func ParseLogLevel(logLevel string) logrus.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		logrus.WithField("level", logLevel).Errorf("Invalid log level, setting to %s", logrus.InfoLevel)
		return logrus.InfoLevel
	}
}

// SetLogLevel sets the log level for the application.
func SetLogLevel(level logrus.Level) {
	logrus.SetLevel(level)
}
