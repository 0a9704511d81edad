package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// AllowedRefreshMinutes is the set of refresh intervals a user may pick.
var AllowedRefreshMinutes = []int{1, 2, 5, 10, 15, 30, 60}

const (
	DefaultRefreshMinutes = 10
	DefaultPageSize       = 50
	DefaultBaseURL        = "https://api.up.com.au/api/v1"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Up struct {
	Token                 string `json:"token"`
	BaseURL               string `json:"base_url"`
	RefreshMinutes        int    `json:"refresh_minutes"`
	PageSize              int    `json:"page_size"`
	FetchTimeoutSec       int    `json:"fetch_timeout_sec"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute"`
	Burst                 int    `json:"burst"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec"`
}

type Config struct {
	EntryID string `json:"entry_id"`
	Server  Server `json:"server"`
	Up      Up     `json:"up"`
}

func Default() Config {
	return Config{
		EntryID: "up_bank",
		Server:  Server{Port: "8080", RequestTimeoutSec: 10},
		Up: Up{
			BaseURL:         DefaultBaseURL,
			RefreshMinutes:  DefaultRefreshMinutes,
			PageSize:        DefaultPageSize,
			FetchTimeoutSec: 30,
			Burst:           4,
		},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	cfg.Up.RefreshMinutes = NormalizeRefreshMinutes(cfg.Up.RefreshMinutes)
	return cfg, nil
}

// RefreshInterval is the configured refresh period.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Up.RefreshMinutes) * time.Minute
}

// FetchTimeout bounds a single request to the Up API.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Up.FetchTimeoutSec) * time.Second
}

// IsAllowedRefreshMinutes reports whether m is one of AllowedRefreshMinutes.
func IsAllowedRefreshMinutes(m int) bool {
	return slices.Contains(AllowedRefreshMinutes, m)
}

// NormalizeRefreshMinutes falls back to the default for any value outside
// AllowedRefreshMinutes.
func NormalizeRefreshMinutes(m int) int {
	if !IsAllowedRefreshMinutes(m) {
		return DefaultRefreshMinutes
	}
	return m
}

// Validate collects every configuration problem into a single error.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Up.Token) == "" {
		problems = append(problems, "up token is required (set UP_API_TOKEN)")
	}
	if c.Up.BaseURL == "" {
		problems = append(problems, "up base url cannot be empty")
	}
	if !IsAllowedRefreshMinutes(c.Up.RefreshMinutes) {
		problems = append(problems, fmt.Sprintf("invalid refresh minutes %d: must be one of %v", c.Up.RefreshMinutes, AllowedRefreshMinutes))
	}
	if c.Up.PageSize < 1 {
		problems = append(problems, fmt.Sprintf("invalid page size %d: must be positive", c.Up.PageSize))
	} else if c.Up.PageSize > 100 {
		problems = append(problems, fmt.Sprintf("invalid page size %d: the api allows at most 100", c.Up.PageSize))
	}
	if c.Up.FetchTimeoutSec < 1 {
		problems = append(problems, fmt.Sprintf("invalid fetch timeout %ds: must be at least 1 second", c.Up.FetchTimeoutSec))
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Server.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("ENTRY_ID"); v != "" {
		cfg.EntryID = v
	}

	// Older setups stored the credential under different names.
	for _, key := range []string{"UP_API_TOKEN", "UP_TOKEN", "UP_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			cfg.Up.Token = v
			break
		}
	}
	if v := os.Getenv("UP_BASE_URL"); v != "" {
		cfg.Up.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("UP_REFRESH_MINUTES"); v != "" {
		if x, err := strconv.Atoi(v); err == nil {
			cfg.Up.RefreshMinutes = x
		}
	}
	if v := os.Getenv("UP_PAGE_SIZE"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			cfg.Up.PageSize = x
		}
	}
	if v := os.Getenv("UP_FETCH_TIMEOUT_SEC"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			cfg.Up.FetchTimeoutSec = x
		}
	}
	if v := os.Getenv("UP_MAX_RPM"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x >= 0 {
			cfg.Up.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("UP_BURST"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			cfg.Up.Burst = x
		}
	}
	if v := os.Getenv("UP_MIN_INTERVAL_SEC"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x >= 0 {
			cfg.Up.MinRequestIntervalSec = x
		}
	}
}
