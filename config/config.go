// Package config loads and validates service configuration. Values come from
// an optional YAML file plus KTW_-prefixed environment overrides; the
// discount table is a separate JSON document so operators can swap pricing
// policy without touching service settings.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/nattapongw/ktw-product-api/models"
)

// Credentials identifies the service against the remote catalog site.
// Immutable for the process lifetime; owned by the session provider.
type Credentials struct {
	Username       string
	Password       string
	StockBaseURL   string
	CatalogBaseURL string
}

// Config holds service configuration.
type Config struct {
	ListenAddr string
	// APIAuthToken is the base64 Basic credential clients must present.
	APIAuthToken string

	Credentials Credentials
	UserAgent   string

	RequestTimeout time.Duration
	AuthMaxRetries int
	AuthRetryWait  time.Duration
	// SessionTTL bounds how long a login is trusted before it is
	// re-verified against the remote site.
	SessionTTL time.Duration

	MaxWorkers int
	WorkerCap  int

	DiscountTablePath string
	CacheSize         int
	// CacheTTL of 0 disables the result cache.
	CacheTTL time.Duration

	Verbose bool
}

// DefaultConfig returns conservative defaults for the KTW catalog site.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":5000",
		Credentials: Credentials{
			StockBaseURL:   "https://shop.ktw.co.th",
			CatalogBaseURL: "https://ktw.co.th",
		},
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
		RequestTimeout:    15 * time.Second,
		AuthMaxRetries:    3,
		AuthRetryWait:     500 * time.Millisecond,
		SessionTTL:        10 * time.Minute,
		MaxWorkers:        10,
		WorkerCap:         100,
		DiscountTablePath: "xconfig.json",
		CacheSize:         1024,
		CacheTTL:          0,
	}
}

// Load reads configuration from path (optional) and the environment on top of
// the defaults. Environment keys are prefixed KTW_, with dots replaced by
// underscores (e.g. KTW_CREDENTIALS_USERNAME).
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()

	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("api_auth_token", cfg.APIAuthToken)
	v.SetDefault("credentials.username", cfg.Credentials.Username)
	v.SetDefault("credentials.password", cfg.Credentials.Password)
	v.SetDefault("credentials.stock_base_url", cfg.Credentials.StockBaseURL)
	v.SetDefault("credentials.catalog_base_url", cfg.Credentials.CatalogBaseURL)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("auth_max_retries", cfg.AuthMaxRetries)
	v.SetDefault("auth_retry_wait", cfg.AuthRetryWait)
	v.SetDefault("session_ttl", cfg.SessionTTL)
	v.SetDefault("max_workers", cfg.MaxWorkers)
	v.SetDefault("worker_cap", cfg.WorkerCap)
	v.SetDefault("discount_table_path", cfg.DiscountTablePath)
	v.SetDefault("cache_size", cfg.CacheSize)
	v.SetDefault("cache_ttl", cfg.CacheTTL)
	v.SetDefault("verbose", cfg.Verbose)

	v.SetEnvPrefix("KTW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = v.GetString("listen_addr")
	cfg.APIAuthToken = v.GetString("api_auth_token")
	cfg.Credentials.Username = v.GetString("credentials.username")
	cfg.Credentials.Password = v.GetString("credentials.password")
	cfg.Credentials.StockBaseURL = v.GetString("credentials.stock_base_url")
	cfg.Credentials.CatalogBaseURL = v.GetString("credentials.catalog_base_url")
	cfg.UserAgent = v.GetString("user_agent")
	cfg.RequestTimeout = v.GetDuration("request_timeout")
	cfg.AuthMaxRetries = v.GetInt("auth_max_retries")
	cfg.AuthRetryWait = v.GetDuration("auth_retry_wait")
	cfg.SessionTTL = v.GetDuration("session_ttl")
	cfg.MaxWorkers = v.GetInt("max_workers")
	cfg.WorkerCap = v.GetInt("worker_cap")
	cfg.DiscountTablePath = v.GetString("discount_table_path")
	cfg.CacheSize = v.GetInt("cache_size")
	cfg.CacheTTL = v.GetDuration("cache_ttl")
	cfg.Verbose = v.GetBool("verbose")

	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if err := validateBaseURL("stock base URL", c.Credentials.StockBaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("catalog base URL", c.Credentials.CatalogBaseURL); err != nil {
		return err
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.AuthMaxRetries < 0 {
		return fmt.Errorf("auth max retries cannot be negative")
	}
	if c.AuthRetryWait < 0 {
		return fmt.Errorf("auth retry wait cannot be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive")
	}
	if c.WorkerCap <= 0 {
		return fmt.Errorf("worker cap must be positive")
	}
	if c.MaxWorkers > c.WorkerCap {
		return fmt.Errorf("max workers (%d) cannot exceed worker cap (%d)", c.MaxWorkers, c.WorkerCap)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	return nil
}

func validateBaseURL(label, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", label)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", label, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", label)
	}
	return nil
}

// discountTableFile is the on-disk shape of the discount policy.
type discountTableFile struct {
	BrandRatios  map[string]float64 `json:"brand_ratios"`
	DefaultRatio float64            `json:"default_ratio"`
}

// LoadDiscountTable reads the brand discount policy from a JSON file.
func LoadDiscountTable(path string) (*models.DiscountTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read discount table %s: %w", path, err)
	}

	var file discountTableFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode discount table %s: %w", path, err)
	}

	ratios := make(map[string]decimal.Decimal, len(file.BrandRatios))
	for brand, ratio := range file.BrandRatios {
		ratios[brand] = decimal.NewFromFloat(ratio)
	}

	table, err := models.NewDiscountTable(ratios, decimal.NewFromFloat(file.DefaultRatio))
	if err != nil {
		return nil, fmt.Errorf("discount table %s: %w", path, err)
	}
	return table, nil
}
