// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvAPIKey overrides Exchange.APIKey when set.
	EnvAPIKey = "SPREADBOT_API_KEY"
	// EnvAPISecret overrides Exchange.APISecret when set.
	EnvAPISecret = "SPREADBOT_API_SECRET"

	defaultBaseURL       = "https://api-demo.bybit.com"
	defaultIntervalMs    = 1000
	defaultTimeoutMs     = 10000
	defaultRateLimit     = 10
	defaultRateBurst     = 5
	defaultFee           = 0.001
	defaultPrecision     = 1
	defaultRecentWindow  = 20
	defaultLedgerPath    = "trade_history.jsonl"
	defaultRedisKey      = "spreadbot:snapshot"
	defaultRedisTTLSecs  = 60
	defaultHTTPAddr      = ":8080"
	defaultApplicationID = "spreadbot"
)

// InvalidConfigError reports a configuration value that makes trading unsafe or impossible.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// App captures process-wide runtime settings such as name, environment, HTTP, and logging levels.
type App struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	HTTPAddr string `yaml:"http_addr"`
}

// Exchange describes the REST venue connectivity parameters.
type Exchange struct {
	BaseURL   string  `yaml:"base_url"`
	APIKey    string  `yaml:"api_key"`
	APISecret string  `yaml:"api_secret"`
	TimeoutMs int     `yaml:"timeout_ms"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	Paper     bool    `yaml:"paper"`
}

// Timeout returns the HTTP client timeout.
func (e Exchange) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// Trading groups the spread thresholds and sizing knobs.
type Trading struct {
	Symbol           string         `yaml:"symbol"`
	TradeAmount      float64        `yaml:"trade_amount"`
	MinSpread        float64        `yaml:"min_spread"`
	MaxSpread        float64        `yaml:"max_spread"`
	IntervalMs       int            `yaml:"interval_ms"`
	MaxPosition      float64        `yaml:"max_position"`
	Fee              float64        `yaml:"fee"`
	Precision        map[string]int `yaml:"precision"`
	DefaultPrecision int            `yaml:"default_precision"`
	RecentWindow     int            `yaml:"recent_window"`
}

// Interval returns the sleep between loop iterations.
func (t Trading) Interval() time.Duration {
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// Ledger points at the durable trade log.
type Ledger struct {
	Path string `yaml:"path"`
}

// Redis configures the optional snapshot cache. An empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// TTL returns the expiry applied to cached snapshots.
func (r Redis) TTL() time.Duration {
	return time.Duration(r.TTLSecs) * time.Second
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Trading  Trading  `yaml:"trading"`
	Ledger   Ledger   `yaml:"ledger"`
	Redis    Redis    `yaml:"redis"`
}

// Load reads a YAML file from disk, applies env credentials and defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyEnv()
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML. Credentials are never written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	clean := *cfg
	clean.Exchange.APIKey = ""
	clean.Exchange.APISecret = ""
	data, err := yaml.Marshal(&clean)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv loads a .env file if present and lets environment credentials win over YAML.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load() // best-effort
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		c.Exchange.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPISecret)); v != "" {
		c.Exchange.APISecret = v
	}
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = defaultApplicationID
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultHTTPAddr
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = defaultBaseURL
	}
	c.Exchange.BaseURL = strings.TrimSuffix(c.Exchange.BaseURL, "/")
	if c.Exchange.TimeoutMs <= 0 {
		c.Exchange.TimeoutMs = defaultTimeoutMs
	}
	if c.Exchange.RateLimit <= 0 {
		c.Exchange.RateLimit = defaultRateLimit
	}
	if c.Exchange.RateBurst <= 0 {
		c.Exchange.RateBurst = defaultRateBurst
	}
	c.Trading.Symbol = strings.ToUpper(strings.TrimSpace(c.Trading.Symbol))
	if c.Trading.IntervalMs <= 0 {
		c.Trading.IntervalMs = defaultIntervalMs
	}
	if c.Trading.Fee <= 0 {
		c.Trading.Fee = defaultFee
	}
	if c.Trading.DefaultPrecision <= 0 {
		c.Trading.DefaultPrecision = defaultPrecision
	}
	if c.Trading.RecentWindow <= 0 {
		c.Trading.RecentWindow = defaultRecentWindow
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = defaultLedgerPath
	}
	if c.Redis.Key == "" {
		c.Redis.Key = defaultRedisKey
	}
	if c.Redis.TTLSecs <= 0 {
		c.Redis.TTLSecs = defaultRedisTTLSecs
	}
}

// Validate rejects configurations the trading loop must refuse to start with.
func (c *Config) Validate() error {
	switch {
	case c.Trading.Symbol == "":
		return &InvalidConfigError{Field: "trading.symbol", Reason: "must be set"}
	case c.Trading.TradeAmount <= 0:
		return &InvalidConfigError{Field: "trading.trade_amount", Reason: "must be positive"}
	case c.Trading.MinSpread <= 0:
		return &InvalidConfigError{Field: "trading.min_spread", Reason: "must be positive"}
	case c.Trading.MaxSpread < 0:
		return &InvalidConfigError{Field: "trading.max_spread", Reason: "must not be negative"}
	case c.Trading.MaxSpread > 0 && c.Trading.MaxSpread <= c.Trading.MinSpread:
		return &InvalidConfigError{Field: "trading.max_spread", Reason: "must exceed min_spread"}
	case c.Trading.IntervalMs <= 0:
		return &InvalidConfigError{Field: "trading.interval_ms", Reason: "must be positive"}
	case c.Trading.MaxPosition < 0:
		return &InvalidConfigError{Field: "trading.max_position", Reason: "must not be negative"}
	case c.Exchange.APIKey == "" || c.Exchange.APISecret == "":
		return &InvalidConfigError{Field: "exchange.credentials", Reason: "api key and secret are required"}
	}
	for symbol, places := range c.Trading.Precision {
		if places < 0 {
			return &InvalidConfigError{Field: "trading.precision." + symbol, Reason: "must not be negative"}
		}
	}
	return nil
}
