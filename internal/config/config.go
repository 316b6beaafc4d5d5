// Package config provides configuration management for filehub.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/filehub/internal/constants"
)

// Config is the client configuration, loaded from an INI file.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\filehub\config
//   - Unix: ~/.config/filehub/config
//
// INI format:
//
//	[server]
//	api_url = http://localhost:8000/api
//	api_key = <token>
//
//	[client]
//	poll_interval_ms = 1000
//	search_debounce_ms = 300
//	page_size = 10
//	request_rate = 10
//	request_burst = 20
//	retry_max = 3
//	request_timeout_s = 30
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 0
//	user =
//	no_proxy =
//	warmup = false
//
//	[logging]
//	file =
//	level = info
//
//	[notifications]
//	enabled = true
type Config struct {
	APIBaseURL string
	APIKey     string

	PollIntervalMs    int
	SearchDebounceMs  int
	PageSize          int
	RequestRate       float64 // requests per second
	RequestBurst      float64
	RetryMax          int
	RequestTimeoutSec int

	// Proxy settings
	ProxyMode     string // "no-proxy", "system", "ntlm", "basic"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // never persisted; supplied via env or prompt
	NoProxy       string // comma-separated hosts that bypass the proxy
	ProxyWarmup   bool

	LogFile  string
	LogLevel string

	NotificationsEnabled bool
}

// Environment variable overrides
const (
	EnvAPIURL        = "FILEHUB_API_URL"
	EnvAPIKey        = "FILEHUB_API_KEY"
	EnvProxyPassword = "FILEHUB_PROXY_PASSWORD"
)

// Validation errors
var (
	ErrMissingAPIURL       = errors.New("api_url is required")
	ErrInvalidPollInterval = fmt.Errorf("poll_interval_ms must be at least %d", constants.MinPollInterval.Milliseconds())
	ErrInvalidDebounce     = errors.New("search_debounce_ms must not be negative")
	ErrInvalidPageSize     = fmt.Errorf("page_size must be one of %v", constants.AllowedPageSizes)
	ErrInvalidRate         = errors.New("request_rate and request_burst must be positive")
	ErrInvalidRetryMax     = errors.New("retry_max must not be negative")
	ErrInvalidProxyMode    = errors.New("proxy mode must be one of no-proxy, system, ntlm, basic")
	ErrMissingProxyHost    = errors.New("proxy host is required for ntlm and basic modes")
)

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		APIBaseURL:           constants.DefaultAPIURL,
		PollIntervalMs:       int(constants.DedupPollInterval.Milliseconds()),
		SearchDebounceMs:     int(constants.SearchDebounce.Milliseconds()),
		PageSize:             constants.DefaultPageSize,
		RequestRate:          constants.DefaultRequestRate,
		RequestBurst:         constants.DefaultRequestBurst,
		RetryMax:             constants.DefaultRetryMax,
		RequestTimeoutSec:    int(constants.DefaultRequestTimeout.Seconds()),
		ProxyMode:            "no-proxy",
		LogLevel:             "info",
		NotificationsEnabled: true,
	}
}

// Load reads configuration from an INI file and applies environment overrides.
// If the file doesn't exist, defaults are used and no error is returned.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			cfg.ApplyEnv()
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); err == nil {
		iniFile, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.readINI(iniFile)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

func (cfg *Config) readINI(f *ini.File) {
	server := f.Section("server")
	cfg.APIBaseURL = server.Key("api_url").MustString(cfg.APIBaseURL)
	cfg.APIKey = server.Key("api_key").String()

	client := f.Section("client")
	cfg.PollIntervalMs = client.Key("poll_interval_ms").MustInt(cfg.PollIntervalMs)
	cfg.SearchDebounceMs = client.Key("search_debounce_ms").MustInt(cfg.SearchDebounceMs)
	cfg.PageSize = client.Key("page_size").MustInt(cfg.PageSize)
	cfg.RequestRate = client.Key("request_rate").MustFloat64(cfg.RequestRate)
	cfg.RequestBurst = client.Key("request_burst").MustFloat64(cfg.RequestBurst)
	cfg.RetryMax = client.Key("retry_max").MustInt(cfg.RetryMax)
	cfg.RequestTimeoutSec = client.Key("request_timeout_s").MustInt(cfg.RequestTimeoutSec)

	proxy := f.Section("proxy")
	cfg.ProxyMode = strings.ToLower(proxy.Key("mode").MustString(cfg.ProxyMode))
	cfg.ProxyHost = proxy.Key("host").String()
	cfg.ProxyPort = proxy.Key("port").MustInt(0)
	cfg.ProxyUser = proxy.Key("user").String()
	cfg.NoProxy = proxy.Key("no_proxy").String()
	cfg.ProxyWarmup = proxy.Key("warmup").MustBool(false)

	logging := f.Section("logging")
	cfg.LogFile = logging.Key("file").String()
	cfg.LogLevel = logging.Key("level").MustString(cfg.LogLevel)

	cfg.NotificationsEnabled = f.Section("notifications").Key("enabled").MustBool(true)
}

// ApplyEnv overrides settings from FILEHUB_* environment variables.
func (cfg *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvProxyPassword); v != "" {
		cfg.ProxyPassword = v
	}
}

// Save writes the configuration to an INI file atomically.
// The proxy password is never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name string
		keys [][2]string
	}{
		{"server", [][2]string{
			{"api_url", cfg.APIBaseURL},
			{"api_key", cfg.APIKey},
		}},
		{"client", [][2]string{
			{"poll_interval_ms", fmt.Sprintf("%d", cfg.PollIntervalMs)},
			{"search_debounce_ms", fmt.Sprintf("%d", cfg.SearchDebounceMs)},
			{"page_size", fmt.Sprintf("%d", cfg.PageSize)},
			{"request_rate", fmt.Sprintf("%g", cfg.RequestRate)},
			{"request_burst", fmt.Sprintf("%g", cfg.RequestBurst)},
			{"retry_max", fmt.Sprintf("%d", cfg.RetryMax)},
			{"request_timeout_s", fmt.Sprintf("%d", cfg.RequestTimeoutSec)},
		}},
		{"proxy", [][2]string{
			{"mode", cfg.ProxyMode},
			{"host", cfg.ProxyHost},
			{"port", fmt.Sprintf("%d", cfg.ProxyPort)},
			{"user", cfg.ProxyUser},
			{"no_proxy", cfg.NoProxy},
			{"warmup", fmt.Sprintf("%t", cfg.ProxyWarmup)},
		}},
		{"logging", [][2]string{
			{"file", cfg.LogFile},
			{"level", cfg.LogLevel},
		}},
		{"notifications", [][2]string{
			{"enabled", fmt.Sprintf("%t", cfg.NotificationsEnabled)},
		}},
	}

	for _, s := range sections {
		sec, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.keys {
			sec.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// API key is sensitive
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is usable.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return ErrMissingAPIURL
	}
	if time.Duration(cfg.PollIntervalMs)*time.Millisecond < constants.MinPollInterval {
		return ErrInvalidPollInterval
	}
	if cfg.SearchDebounceMs < 0 {
		return ErrInvalidDebounce
	}
	if !constants.IsAllowedPageSize(cfg.PageSize) {
		return ErrInvalidPageSize
	}
	if cfg.RequestRate <= 0 || cfg.RequestBurst <= 0 {
		return ErrInvalidRate
	}
	if cfg.RetryMax < 0 {
		return ErrInvalidRetryMax
	}

	switch strings.ToLower(cfg.ProxyMode) {
	case "", "no-proxy", "system":
	case "ntlm", "basic":
		if strings.TrimSpace(cfg.ProxyHost) == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}

	return nil
}

// PollInterval returns the dedup poll interval.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollIntervalMs) * time.Millisecond
}

// SearchDebounce returns the search debounce window.
func (cfg *Config) SearchDebounce() time.Duration {
	return time.Duration(cfg.SearchDebounceMs) * time.Millisecond
}

// RequestTimeout returns the per-request timeout, or zero for none.
func (cfg *Config) RequestTimeout() time.Duration {
	if cfg.RequestTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(cfg.RequestTimeoutSec) * time.Second
}

// Redacted returns a copy safe for display.
func (cfg *Config) Redacted() Config {
	c := *cfg
	if c.APIKey != "" {
		c.APIKey = redact(c.APIKey)
	}
	if c.ProxyPassword != "" {
		c.ProxyPassword = "****"
	}
	return c
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
