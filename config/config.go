// ABOUTME: Server configuration loaded from LOOKBOOK_* environment variables plus a providers.yaml file.
// ABOUTME: Enforces security constraint: non-loopback binds require explicit remote opt-in.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/lookbook-studio/lookbook/tryon"
)

var (
	ErrRemoteWithoutToken = errors.New(
		"LOOKBOOK_ALLOW_REMOTE is true but LOOKBOOK_AUTH_TOKEN is not set; refusing to start without authentication",
	)
	ErrNonLoopbackBind = errors.New(
		"LOOKBOOK_BIND is a non-loopback address but LOOKBOOK_ALLOW_REMOTE is not true; set LOOKBOOK_ALLOW_REMOTE=true and LOOKBOOK_AUTH_TOKEN to allow remote access",
	)
)

// ProviderConfig holds per-provider connection and polling settings from
// providers.yaml. The API key may be overridden by the
// LOOKBOOK_<PROVIDER>_API_KEY environment variable.
type ProviderConfig struct {
	APIKey               string  `yaml:"api_key"`
	BaseURL              string  `yaml:"base_url"`
	TimeoutSeconds       int     `yaml:"timeout_seconds"`
	PollIntervalSeconds  int     `yaml:"poll_interval_seconds"`
	MaxAttempts          int     `yaml:"max_attempts"`
	StatusTimeoutSeconds int     `yaml:"status_timeout_seconds"`
	RatePerSec           float64 `yaml:"rate_per_sec"`
}

// Poller builds the polling policy for this provider, falling back to the
// defaults for unset fields.
func (p ProviderConfig) Poller() tryon.Poller {
	poller := tryon.DefaultPoller()
	if p.PollIntervalSeconds > 0 {
		poller.Interval = time.Duration(p.PollIntervalSeconds) * time.Second
	}
	if p.MaxAttempts > 0 {
		poller.MaxAttempts = p.MaxAttempts
	}
	if p.StatusTimeoutSeconds > 0 {
		poller.StatusTimeout = time.Duration(p.StatusTimeoutSeconds) * time.Second
	}
	return poller
}

// Limiter builds the outbound rate limiter for this provider. A zero rate
// means unlimited.
func (p ProviderConfig) Limiter() *rate.Limiter {
	if p.RatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(p.RatePerSec), 1)
}

// Timeout returns the per-provider HTTP client timeout.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Config holds server configuration loaded from environment variables.
type Config struct {
	Home          string // Data directory (LOOKBOOK_HOME, default: ~/.lookbook)
	Bind          string // Socket address (LOOKBOOK_BIND, default: 127.0.0.1:8090)
	AllowRemote   bool   // Allow non-loopback connections (LOOKBOOK_ALLOW_REMOTE, default: false)
	AuthToken     string // Bearer token for API auth (LOOKBOOK_AUTH_TOKEN, optional)
	HistoryMax    int    // Max retained call-history entries (LOOKBOOK_HISTORY_MAX)
	HistoryMaxAge int    // Age-based pruning cutoff in days, 0 disables (LOOKBOOK_HISTORY_MAX_AGE_DAYS)

	Providers map[tryon.ProviderTag]ProviderConfig
}

// FromEnv loads configuration from LOOKBOOK_* environment variables with
// sensible defaults, then merges provider settings from the YAML file named
// by LOOKBOOK_PROVIDERS (default: <home>/providers.yaml).
func FromEnv() (*Config, error) {
	home := os.Getenv("LOOKBOOK_HOME")
	if home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		home = filepath.Join(homeDir, ".lookbook")
	}

	bind := envOrDefault("LOOKBOOK_BIND", "127.0.0.1:8090")

	allowRemote := false
	if v := os.Getenv("LOOKBOOK_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		allowRemote = true
	}
	authToken := os.Getenv("LOOKBOOK_AUTH_TOKEN")

	if allowRemote && authToken == "" {
		return nil, ErrRemoteWithoutToken
	}
	if !allowRemote {
		if err := checkLoopback(bind); err != nil {
			return nil, err
		}
	}

	historyMax, err := envInt("LOOKBOOK_HISTORY_MAX", 0)
	if err != nil {
		return nil, err
	}
	historyMaxAge, err := envInt("LOOKBOOK_HISTORY_MAX_AGE_DAYS", 0)
	if err != nil {
		return nil, err
	}

	providersPath := envOrDefault("LOOKBOOK_PROVIDERS", filepath.Join(home, "providers.yaml"))
	providers, err := loadProviders(providersPath)
	if err != nil {
		return nil, err
	}

	// Environment keys win over the YAML file so secrets can stay out of it.
	for _, tag := range tryon.AllProviders() {
		envKey := fmt.Sprintf("LOOKBOOK_%s_API_KEY", strings.ToUpper(string(tag)))
		if key := os.Getenv(envKey); key != "" {
			pc := providers[tag]
			pc.APIKey = key
			providers[tag] = pc
		}
	}

	return &Config{
		Home:          home,
		Bind:          bind,
		AllowRemote:   allowRemote,
		AuthToken:     authToken,
		HistoryMax:    historyMax,
		HistoryMaxAge: historyMaxAge,
		Providers:     providers,
	}, nil
}

// loadProviders parses the providers YAML file. A missing file is not an
// error; every provider falls back to defaults plus environment keys.
func loadProviders(path string) (map[tryon.ProviderTag]ProviderConfig, error) {
	providers := make(map[tryon.ProviderTag]ProviderConfig)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return providers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var raw struct {
		Providers map[string]ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	for name, pc := range raw.Providers {
		tag := tryon.ProviderTag(name)
		if !knownProvider(tag) {
			return nil, fmt.Errorf("providers file names unknown provider %q", name)
		}
		providers[tag] = pc
	}
	return providers, nil
}

func knownProvider(tag tryon.ProviderTag) bool {
	for _, t := range tryon.AllProviders() {
		if t == tag {
			return true
		}
	}
	return false
}

// checkLoopback refuses non-loopback binds. Both IP literals and hostnames
// are checked; only 127.0.0.0/8, ::1, and "localhost" are considered safe.
func checkLoopback(bind string) error {
	host, _, err := net.SplitHostPort(bind)
	if err != nil || host == "" {
		return nil
	}
	ip := net.ParseIP(host)
	switch {
	case ip != nil && ip.IsLoopback():
		return nil
	case ip == nil && host == "localhost":
		return nil
	}
	return fmt.Errorf("%w: LOOKBOOK_BIND=%s", ErrNonLoopbackBind, bind)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
