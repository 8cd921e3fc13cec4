package adapter

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hazyhaar/msadapter/version"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: MSADAPTER_WIDGET__PUBLIC_KEY sets widget.public_key.
const EnvPrefix = "MSADAPTER_"

// Config is the adapter configuration.
type Config struct {
	Listen   string `koanf:"listen"`
	Upstream string `koanf:"upstream"`

	// BridgePath is where the legacy API endpoints and legacy.js are served.
	BridgePath string `koanf:"bridge_path"`

	// ForceVersion applies when neither the query nor the session names a
	// mode. Empty, "v1" or "v2".
	ForceVersion string `koanf:"force_version"`

	LoginURL   string `koanf:"login_url"`
	ProfileURL string `koanf:"profile_url"`
	Locale     string `koanf:"locale"`

	MappingFile     string        `koanf:"mapping_file"`
	MappingDebounce time.Duration `koanf:"mapping_debounce"`

	// ReadyTimeout bounds the wait for the member snapshot before the
	// post-ready batch runs anyway.
	ReadyTimeout time.Duration `koanf:"ready_timeout"`

	DBPath    string        `koanf:"db_path"`
	Retention time.Duration `koanf:"retention"`
	LogLevel  string        `koanf:"log_level"`

	// MaxPageBytes caps the HTML body the proxy will rewrite. Larger pages
	// pass through untouched.
	MaxPageBytes int64 `koanf:"max_page_bytes"`

	Widget    WidgetConfig    `koanf:"widget"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// WidgetConfig describes the vendor widget builds and member API.
type WidgetConfig struct {
	BaseURL     string        `koanf:"base_url"`
	PublicKey   string        `koanf:"public_key"`
	AppID       string        `koanf:"app_id"`
	AppIDV1     string        `koanf:"app_id_v1"`
	V1ScriptURL string        `koanf:"v1_script_url"`
	V2ScriptURL string        `koanf:"v2_script_url"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	Timeout     time.Duration `koanf:"timeout"`
}

// RateLimitConfig limits bridge calls per client.
type RateLimitConfig struct {
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.BridgePath == "" {
		c.BridgePath = "/__msadapter"
	}
	if c.LoginURL == "" {
		c.LoginURL = "/login"
	}
	if c.ProfileURL == "" {
		c.ProfileURL = "/profile"
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.MappingDebounce <= 0 {
		c.MappingDebounce = 300 * time.Millisecond
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 2 * time.Second
	}
	if c.DBPath == "" {
		c.DBPath = "msadapter.db"
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxPageBytes <= 0 {
		c.MaxPageBytes = 8 << 20
	}
	if c.Widget.CacheTTL <= 0 {
		c.Widget.CacheTTL = 30 * time.Second
	}
	if c.Widget.Timeout <= 0 {
		c.Widget.Timeout = 5 * time.Second
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
}

// LoadConfig reads path (optional, YAML) and overlays MSADAPTER_*
// environment variables, then applies defaults.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.defaults()
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the configuration for a server run.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return errors.New("upstream is required")
	}
	u, err := url.Parse(c.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream %q: must be an absolute URL", c.Upstream)
	}
	if c.ForceVersion != "" {
		if _, ok := version.ParseMode(c.ForceVersion); !ok {
			return fmt.Errorf("invalid force_version %q: must be v1 or v2", c.ForceVersion)
		}
	}
	if !strings.HasPrefix(c.BridgePath, "/") || strings.HasSuffix(c.BridgePath, "/") {
		return fmt.Errorf("invalid bridge_path %q: must start with / and not end with /", c.BridgePath)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}
	if c.RateLimit.MaxRequests < 0 {
		return errors.New("rate_limit.max_requests must be non-negative")
	}
	return nil
}

// Forced returns the configured forced mode, empty when unset.
func (c *Config) Forced() version.Mode {
	m, _ := version.ParseMode(c.ForceVersion)
	return m
}
