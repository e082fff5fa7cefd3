package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ecoscore-gateway/internal/cache"
	"ecoscore-gateway/internal/tracing"
)

const (
	ProviderHTTP = "http"
	ProviderMock = "mock"
)

// Config is the gateway's runtime configuration, read from the environment.
type Config struct {
	Env     string
	Port    string
	Version string

	CacheBackend    string
	CacheTTL        time.Duration
	CachePrefix     string
	CacheMaxEntries int
	RedisAddr       string

	ScoringProvider string // http|mock
	ScoringBaseURL  string
	ScoringAPIKey   string
	ScoringPath     string
	ScoringTimeout  time.Duration
	Coalesce        bool

	PrefsFile      string
	TraceExporter  string
	RequestTimeout time.Duration

	// BridgeUpstream points the websocket bridge at another gateway instead
	// of the in-process resolver.
	BridgeUpstream string
}

// Load reads a .env file when present (or the given files) and then the
// process environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("config: load env files: %w", err)
	}

	cfg := Config{
		Env:     getenv("ENV", "development"),
		Port:    getenv("PORT", "4000"),
		Version: getenv("GATEWAY_VERSION", "v1"),

		CacheBackend:    getenv("CACHE_BACKEND", cache.BackendMemory),
		CacheTTL:        getSeconds("CACHE_TTL", cache.DefaultTTL),
		CachePrefix:     getenv("CACHE_PREFIX", "ecoscore"),
		CacheMaxEntries: getInt("CACHE_MAX_ENTRIES", cache.DefaultMaxEntries),
		RedisAddr:       getenv("REDIS_ADDR", "127.0.0.1:6379"),

		ScoringProvider: getenv("SCORING_PROVIDER", ProviderMock),
		ScoringBaseURL:  os.Getenv("SCORING_BASE_URL"),
		ScoringAPIKey:   os.Getenv("SCORING_API_KEY"),
		ScoringPath:     getenv("SCORING_PATH", "/score"),
		ScoringTimeout:  getDuration("SCORING_TIMEOUT", 30*time.Second),
		Coalesce:        getBool("SCORE_COALESCE", true),

		PrefsFile:      os.Getenv("PREFS_FILE"),
		TraceExporter:  getenv("TRACE_EXPORTER", tracing.ExporterNone),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 45*time.Second),
		BridgeUpstream: os.Getenv("BRIDGE_UPSTREAM"),
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	switch c.CacheBackend {
	case cache.BackendMemory, cache.BackendLRU, cache.BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be memory, lru or redis, got %q", c.CacheBackend))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}

	switch c.ScoringProvider {
	case ProviderMock:
	case ProviderHTTP:
		if c.ScoringBaseURL == "" {
			errs = append(errs, errors.New("SCORING_BASE_URL is required when SCORING_PROVIDER=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("SCORING_PROVIDER must be http or mock, got %q", c.ScoringProvider))
	}

	switch c.TraceExporter {
	case tracing.ExporterNone, tracing.ExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("TRACE_EXPORTER must be none or stdout, got %q", c.TraceExporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getDuration accepts a Go duration ("30s") or a bare number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return getSeconds(key, def)
}

func getSeconds(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return time.Duration(n * float64(time.Second))
		}
	}
	return def
}
