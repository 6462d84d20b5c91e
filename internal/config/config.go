package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Route selects where upstream chat requests go. It is resolved once by Load.
type Route string

const (
	RouteDirect Route = "direct"
	RouteProxy  Route = "proxy"
	RouteLegacy Route = "legacy"
	RouteMock   Route = "mock"
)

func ParseRoute(v string) (Route, error) {
	switch r := Route(strings.ToLower(strings.TrimSpace(v))); r {
	case RouteDirect, RouteProxy, RouteLegacy, RouteMock:
		return r, nil
	default:
		return "", fmt.Errorf("unsupported route %q (expected direct|proxy|legacy|mock)", v)
	}
}

const (
	DefaultDirectURL  = "https://api-ng-private-dev.reevo.ai/api/v1/chat"
	DefaultBackendURL = "http://localhost:8000"
	DefaultIdentity   = "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	FallbackToken     = "mock-jwt-token"
)

// Config contains all runtime settings for the relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	RateLimitRPS   float64
	RateLimitBurst int

	Route       Route
	UpstreamURL string
	BackendURL  string
	DirectURL   string

	DefaultToken       string
	DefaultUserID      string
	DefaultOrgID       string
	TenantHeaderPrefix string

	Passthrough         bool
	ApplyPronunciations bool
	ChunkWords          int
	ChunkDelay          time.Duration
	UpstreamTimeout     time.Duration
	ErrorBodyLimit      int64

	TranscriptsEnabled bool
	DatabaseURL        string
}

// LoadDotEnv loads the first env files that exist. Variables already set in
// the process environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voicerelay"),
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("APP_LOG_FORMAT", "json"),
		BackendURL:         strings.TrimRight(envOrDefault("EXTERNAL_BACKEND_URL", DefaultBackendURL), "/"),
		DirectURL:          envOrDefault("RELAY_DIRECT_URL", DefaultDirectURL),
		DefaultToken:       envOrDefault("REEVO_JWT_TOKEN", FallbackToken),
		DefaultUserID:      envOrDefault("REEVO_USER_ID", DefaultIdentity),
		DefaultOrgID:       envOrDefault("REEVO_ORG_ID", DefaultIdentity),
		TenantHeaderPrefix: strings.ToLower(envOrDefault("RELAY_TENANT_HEADER_PREFIX", "x-reevo")),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		RateLimitRPS:       5,
		RateLimitBurst:     10,
		ChunkWords:         5,
		ChunkDelay:         50 * time.Millisecond,
		UpstreamTimeout:    60 * time.Second,
		ErrorBodyLimit:     4 << 10,
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = floatFromEnv("APP_RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = intFromEnv("APP_RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return Config{}, err
	}
	if cfg.Passthrough, err = boolFromEnv("RELAY_PASSTHROUGH", false); err != nil {
		return Config{}, err
	}
	if cfg.ApplyPronunciations, err = boolFromEnv("RELAY_APPLY_PRONUNCIATIONS", false); err != nil {
		return Config{}, err
	}
	if cfg.ChunkWords, err = intFromEnv("RELAY_CHUNK_WORDS", cfg.ChunkWords); err != nil {
		return Config{}, err
	}
	if cfg.ChunkDelay, err = durationFromEnv("RELAY_CHUNK_DELAY", cfg.ChunkDelay); err != nil {
		return Config{}, err
	}
	if cfg.UpstreamTimeout, err = durationFromEnv("RELAY_UPSTREAM_TIMEOUT", cfg.UpstreamTimeout); err != nil {
		return Config{}, err
	}
	limit, err := intFromEnv("RELAY_ERROR_BODY_LIMIT", int(cfg.ErrorBodyLimit))
	if err != nil {
		return Config{}, err
	}
	cfg.ErrorBodyLimit = int64(limit)
	if cfg.TranscriptsEnabled, err = boolFromEnv("RELAY_TRANSCRIPTS", false); err != nil {
		return Config{}, err
	}

	if cfg.Route, err = resolveRoute(); err != nil {
		return Config{}, err
	}
	cfg.UpstreamURL = cfg.upstreamURL()

	if cfg.ChunkWords <= 0 {
		return Config{}, fmt.Errorf("RELAY_CHUNK_WORDS must be positive")
	}
	if cfg.ChunkDelay < 0 {
		return Config{}, fmt.Errorf("RELAY_CHUNK_DELAY must be >= 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_UPSTREAM_TIMEOUT must be positive")
	}
	if cfg.ErrorBodyLimit <= 0 {
		return Config{}, fmt.Errorf("RELAY_ERROR_BODY_LIMIT must be positive")
	}
	if cfg.RateLimitRPS < 0 || cfg.RateLimitBurst < 0 {
		return Config{}, fmt.Errorf("APP_RATE_LIMIT_RPS and APP_RATE_LIMIT_BURST must be >= 0")
	}

	return cfg, nil
}

// resolveRoute folds the legacy USE_* booleans into a single Route.
func resolveRoute() (Route, error) {
	if v := stringsTrimSpace("RELAY_ROUTE"); v != "" {
		return ParseRoute(v)
	}
	direct, err := boolFromEnv("USE_DIRECT_REEVO_API", false)
	if err != nil {
		return "", err
	}
	if direct {
		return RouteDirect, nil
	}
	viaProxy, err := boolFromEnv("USE_REEVO_API", true)
	if err != nil {
		return "", err
	}
	if viaProxy {
		return RouteProxy, nil
	}
	return RouteLegacy, nil
}

func (c Config) upstreamURL() string {
	switch c.Route {
	case RouteDirect:
		return c.DirectURL
	case RouteProxy:
		return c.BackendURL + "/api/v1/chat"
	case RouteLegacy:
		return c.BackendURL + "/chat"
	default:
		return ""
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
