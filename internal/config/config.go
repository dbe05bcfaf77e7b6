package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL         = "https://hacker-news.firebaseio.com/v0"
	DefaultIDListTTL       = 10 * time.Minute
	DefaultItemTTL         = 10 * time.Minute
	DefaultSearchLimit     = 500
	DefaultConcurrency     = 16
	DefaultUpstreamTimeout = 10 * time.Second
	DefaultListenAddr      = ":8080"
)

// Config holds every tunable of the service. Values come from the
// environment and may be overlaid by SSM parameters.
type Config struct {
	BaseURL         string
	IDListTTL       time.Duration
	ItemTTL         time.Duration
	SearchLimit     int
	Concurrency     int
	UpstreamTimeout time.Duration
	UpstreamRPS     float64
	UpstreamBurst   int

	// ItemCacheTable enables the shared DynamoDB item cache when set.
	ItemCacheTable string
	// ParamPrefix enables SSM overrides when set.
	ParamPrefix string

	AllowedOrigins []string
	ListenAddr     string
}

func Default() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		IDListTTL:       DefaultIDListTTL,
		ItemTTL:         DefaultItemTTL,
		SearchLimit:     DefaultSearchLimit,
		Concurrency:     DefaultConcurrency,
		UpstreamTimeout: DefaultUpstreamTimeout,
		UpstreamBurst:   1,
		AllowedOrigins:  []string{"http://localhost:4200", "https://localhost:4200"},
		ListenAddr:      DefaultListenAddr,
	}
}

// FromEnv reads the configuration from the process environment. Unset or
// unparsable values keep their defaults.
func FromEnv() Config {
	return fromLookup(os.Getenv)
}

func fromLookup(getenv func(string) string) Config {
	cfg := Default()
	cfg.BaseURL = envString(getenv, "HN_BASE_URL", cfg.BaseURL)
	cfg.IDListTTL = envDuration(getenv, "IDS_CACHE_TTL", cfg.IDListTTL)
	cfg.ItemTTL = envDuration(getenv, "ITEM_CACHE_TTL", cfg.ItemTTL)
	cfg.SearchLimit = envInt(getenv, "SEARCH_LIMIT", cfg.SearchLimit)
	cfg.Concurrency = envInt(getenv, "FETCH_CONCURRENCY", cfg.Concurrency)
	cfg.UpstreamTimeout = envDuration(getenv, "UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	cfg.UpstreamRPS = envFloat(getenv, "UPSTREAM_RPS", cfg.UpstreamRPS)
	cfg.UpstreamBurst = envInt(getenv, "UPSTREAM_BURST", cfg.UpstreamBurst)
	cfg.ItemCacheTable = envString(getenv, "ITEM_CACHE_TABLE", "")
	cfg.ParamPrefix = envString(getenv, "PARAM_PREFIX", "")
	if origins := splitList(getenv("ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	cfg.ListenAddr = envString(getenv, "LISTEN_ADDR", cfg.ListenAddr)
	return cfg
}

// Apply overlays parameters read from SSM, keyed by leaf name. Unknown keys
// are ignored; malformed values are reported.
func (c *Config) Apply(params map[string]string) error {
	var errs []error
	for key, raw := range params {
		raw = strings.TrimSpace(raw)
		var err error
		switch key {
		case "base_url":
			c.BaseURL = raw
		case "ids_cache_ttl":
			c.IDListTTL, err = time.ParseDuration(raw)
		case "item_cache_ttl":
			c.ItemTTL, err = time.ParseDuration(raw)
		case "search_limit":
			c.SearchLimit, err = strconv.Atoi(raw)
		case "fetch_concurrency":
			c.Concurrency, err = strconv.Atoi(raw)
		case "upstream_timeout":
			c.UpstreamTimeout, err = time.ParseDuration(raw)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("config: parameter %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid base URL %q", c.BaseURL)
	}
	if c.IDListTTL <= 0 {
		return errors.New("config: id list TTL must be positive")
	}
	if c.ItemTTL <= 0 {
		return errors.New("config: item TTL must be positive")
	}
	if c.SearchLimit <= 0 {
		return errors.New("config: search limit must be positive")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: fetch concurrency must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("config: upstream timeout must be positive")
	}
	return nil
}

func envString(getenv func(string) string, key, def string) string {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(getenv func(string) string, key string, def float64) float64 {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
