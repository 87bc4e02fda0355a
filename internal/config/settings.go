package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

type Config struct {
	BaseURL string `json:"base_url"`

	CheckTimer     Timer `json:"check_timer"`
	RandomMode     bool  `json:"random_mode"`
	MinRandomDelay Timer `json:"min_random_delay"`
	MaxRandomDelay Timer `json:"max_random_delay"`

	LocationEnabled bool `json:"location_enabled"`
	UniqueIP        bool `json:"unique_ip"`

	Proxy   ProxyConfig   `json:"proxy"`
	Files   FilesConfig   `json:"files"`
	GeoLite GeoLiteConfig `json:"geolite"`
	History HistoryConfig `json:"history"`
	Redis   RedisConfig   `json:"redis"`
}

type ProxyConfig struct {
	Enabled    bool     `json:"enabled"`
	URLs       []string `json:"urls"`
	Timeout    uint32   `json:"timeout"` // milliseconds
	MaxRetries uint32   `json:"max_retries"`
	TestURL    string   `json:"test_url"`
}

type FilesConfig struct {
	Tokens  string `json:"tokens"`
	Proxies string `json:"proxies"`
}

type GeoLiteConfig struct {
	CityDatabase string `json:"city_database"`
	LicenseKey   string `json:"license_key"`
	AutoUpdate   bool   `json:"auto_update"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"` // sqlite or postgres
	DSN     string `json:"dsn"`
}

type RedisConfig struct {
	URL             string `json:"url"`
	PublishOutcomes bool   `json:"publish_outcomes"`
	BatchLock       bool   `json:"batch_lock"`
}

const (
	DefaultSettingsFilePath = "data/settings.json"

	defaultBaseURL         = "https://app.despeed.net"
	defaultProxyTimeout    = 10000
	defaultProxyMaxRetries = 3
	defaultProxyTestURL    = "https://api.ipify.org?format=json"
	defaultTokensFile      = "data/token.txt"
	defaultProxiesFile     = "data/proxy.txt"
	defaultHistoryDriver   = "sqlite"
	defaultHistoryDSN      = "data/history.db"

	// MaxIntervalMinutes caps the fixed check interval.
	MaxIntervalMinutes = 1440
)

//go:embed default_settings.json
var defaultSettings []byte

// Default returns the embedded default configuration.
func Default() Config {
	var cfg Config
	if err := json.Unmarshal(defaultSettings, &cfg); err != nil {
		log.Error("Error unmarshalling embedded default settings", "error", err)
	}
	cfg.applyDefaults()
	return cfg
}

// ReadSettings loads the settings file at path. A missing file is created from the
// embedded defaults. The returned value is never shared or mutated by this package.
func ReadSettings(path string) (Config, error) {
	if path == "" {
		path = DefaultSettingsFilePath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read settings file: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := writeDefaultSettings(path); err != nil {
			log.Error("Error writing default settings file", "path", path, "error", err)
		}
		data = defaultSettings
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal settings file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return cfg, nil
}

func writeDefaultSettings(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, defaultSettings, 0o644)
}

func (cfg *Config) applyDefaults() {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Proxy.Timeout == 0 {
		cfg.Proxy.Timeout = defaultProxyTimeout
	}
	if cfg.Proxy.MaxRetries == 0 {
		cfg.Proxy.MaxRetries = defaultProxyMaxRetries
	}
	if cfg.Proxy.TestURL == "" {
		cfg.Proxy.TestURL = defaultProxyTestURL
	}

	if cfg.Files.Tokens == "" {
		cfg.Files.Tokens = defaultTokensFile
	}
	if cfg.Files.Proxies == "" {
		cfg.Files.Proxies = defaultProxiesFile
	}

	if cfg.History.Driver == "" {
		cfg.History.Driver = defaultHistoryDriver
	}
	if cfg.History.DSN == "" && cfg.History.Driver == defaultHistoryDriver {
		cfg.History.DSN = defaultHistoryDSN
	}
}

func (cfg *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv("DESPEED_BASE_URL"); ok && v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := os.LookupEnv("DESPEED_REDIS_URL"); ok && v != "" {
		cfg.Redis.URL = v
	}
	if v, ok := os.LookupEnv("DESPEED_DB_DSN"); ok && v != "" {
		cfg.History.DSN = v
	}
	if v, ok := os.LookupEnv("DESPEED_GEOLITE_LICENSE_KEY"); ok && v != "" {
		cfg.GeoLite.LicenseKey = v
	}
}

func (cfg Config) Validate() error {
	var errs []error

	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: invalid base_url %q", cfg.BaseURL))
	}

	if u, err := url.Parse(cfg.Proxy.TestURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: invalid proxy.test_url %q", cfg.Proxy.TestURL))
	}

	if cfg.RandomMode {
		minDelay := CalculateMillisecondsOfCheckingPeriod(cfg.MinRandomDelay)
		maxDelay := CalculateMillisecondsOfCheckingPeriod(cfg.MaxRandomDelay)
		if minDelay > maxDelay {
			errs = append(errs, errors.New("config: min_random_delay is greater than max_random_delay"))
		}
	}

	switch cfg.History.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("config: unsupported history.driver %q", cfg.History.Driver))
	}

	return errors.Join(errs...)
}
