package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
)

// Config is the complete papertrader configuration
type Config struct {
	Account AccountConfig `json:"account" yaml:"account" toml:"account"`
	Market  MarketConfig  `json:"market" yaml:"market" toml:"market"`
	Risk    RiskConfig    `json:"risk" yaml:"risk" toml:"risk"`
	Live    LiveConfig    `json:"live" yaml:"live" toml:"live"`
	Store   StoreConfig   `json:"store" yaml:"store" toml:"store"`
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server"`
	Redis   RedisConfig   `json:"redis" yaml:"redis" toml:"redis"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
}

// AccountConfig is the paper account a reset starts from
type AccountConfig struct {
	Currency     string  `json:"currency" yaml:"currency" toml:"currency"`
	StartingCash float64 `json:"starting_cash" yaml:"starting_cash" toml:"starting_cash"`
}

// MarketConfig drives the synthetic FAKE market
type MarketConfig struct {
	Symbol        string  `json:"symbol" yaml:"symbol" toml:"symbol"`
	SeedPrice     float64 `json:"seed_price" yaml:"seed_price" toml:"seed_price"`
	CandleSeconds int64   `json:"candle_seconds" yaml:"candle_seconds" toml:"candle_seconds"`
	Speed         string  `json:"speed" yaml:"speed" toml:"speed"`
	Prerun        int     `json:"prerun" yaml:"prerun" toml:"prerun"`
	HistoryCap    int     `json:"history_cap" yaml:"history_cap" toml:"history_cap"`
	Seed          int64   `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"` // 0 = random
}

// RiskConfig is the initial advanced-mode panel
type RiskConfig struct {
	Advanced    bool    `json:"advanced" yaml:"advanced" toml:"advanced"`
	AllowShort  bool    `json:"allow_short" yaml:"allow_short" toml:"allow_short"`
	MaxLeverage float64 `json:"max_leverage" yaml:"max_leverage" toml:"max_leverage"`
	FeeBps      float64 `json:"fee_bps" yaml:"fee_bps" toml:"fee_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps" toml:"slippage_bps"`
}

// LiveConfig configures the CoinGecko feed
type LiveConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	BaseURL       string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	VsCurrency    string   `json:"vs_currency" yaml:"vs_currency" toml:"vs_currency"`
	PollInterval  Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	CandleRefresh Duration `json:"candle_refresh" yaml:"candle_refresh" toml:"candle_refresh"`
	Timeout       Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	Days          int      `json:"days" yaml:"days" toml:"days"`
}

// StoreConfig selects where the portfolio is persisted
type StoreConfig struct {
	Type string `json:"type" yaml:"type" toml:"type"` // "sqlite", "file" or "memory"
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// ServerConfig is the HTTP/WebSocket listener
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr" toml:"addr"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// RedisConfig mirrors prices into redis when enabled
type RedisConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr     string   `json:"addr" yaml:"addr" toml:"addr"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	DB       int      `json:"db" yaml:"db" toml:"db"`
	TTL      Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" toml:"level"`
}

// Duration reads "10s" style strings from every config format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Settings converts the risk section into ledger settings.
func (r RiskConfig) Settings() (risk.Settings, error) {
	s := risk.DefaultSettings()
	if err := s.SetParameters(risk.Parameters{
		AllowShort:  r.AllowShort,
		MaxLeverage: r.MaxLeverage,
		FeeBps:      r.FeeBps,
		SlippageBps: r.SlippageBps,
	}); err != nil {
		return risk.Settings{}, err
	}
	if r.Advanced {
		s.SetAdvanced(true)
		return s, nil
	}
	// off keeps the panel values stored but inert
	s.Advanced = false
	return s, nil
}

// SyntheticConfig converts the market section for market.NewSynthetic.
func (m MarketConfig) SyntheticConfig() market.SyntheticConfig {
	return market.SyntheticConfig{
		Symbol:        market.FakeSymbol,
		SeedPrice:     m.SeedPrice,
		CandleSeconds: m.CandleSeconds,
		Speed:         market.Speed(m.Speed),
		Prerun:        m.Prerun,
		HistoryCap:    m.HistoryCap,
	}
}

type format int

const (
	formatYAML format = iota
	formatJSON
	formatTOML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".toml":
		return formatTOML
	}
	return formatYAML
}

// LoadFromFile loads configuration from a file (YAML, JSON or TOML by
// extension) on top of the defaults and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	switch formatOf(path) {
	case formatJSON:
		err = json.Unmarshal(data, cfg)
	case formatTOML:
		_, err = toml.Decode(string(data), cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration in the format implied by the extension
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch formatOf(path) {
	case formatJSON:
		data, err = json.MarshalIndent(c, "", "  ")
	case formatTOML:
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(c)
		data = []byte(sb.String())
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.StartingCash <= 0 {
		return fmt.Errorf("account.starting_cash must be positive")
	}
	if _, err := market.LookupAsset(c.Market.Symbol); err != nil {
		return fmt.Errorf("market.symbol: %w", err)
	}
	if c.Market.SeedPrice <= 0 {
		return fmt.Errorf("market.seed_price must be positive")
	}
	if c.Market.CandleSeconds <= 0 {
		return fmt.Errorf("market.candle_seconds must be positive")
	}
	if _, err := market.ParseSpeed(c.Market.Speed); err != nil {
		return fmt.Errorf("market.speed: %w", err)
	}
	if _, err := c.Risk.Settings(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.Live.Enabled {
		if c.Live.BaseURL == "" {
			return fmt.Errorf("live.base_url is required when live is enabled")
		}
		if c.Live.PollInterval.Duration <= 0 {
			return fmt.Errorf("live.poll_interval must be positive")
		}
	}
	if !market.ValidDays(c.Live.Days) {
		return fmt.Errorf("live.days must be one of %v", market.ChartDays)
	}
	switch c.Store.Type {
	case "memory":
	case "sqlite", "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for %s store", c.Store.Type)
		}
	default:
		return fmt.Errorf("store.type must be 'sqlite', 'file' or 'memory'")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("unknown log.level %q (valid: debug, info, warn, error)", c.Log.Level)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Currency:     "EUR",
			StartingCash: 10000,
		},
		Market: MarketConfig{
			Symbol:        "BTC",
			SeedPrice:     market.DefaultSeedPrice,
			CandleSeconds: market.DefaultCandleSeconds,
			Speed:         string(market.SpeedMedium),
			Prerun:        market.DefaultPrerun,
			HistoryCap:    market.DefaultHistoryCap,
		},
		Risk: RiskConfig{
			MaxLeverage: risk.DefaultMaxLeverage,
		},
		Live: LiveConfig{
			Enabled:       true,
			BaseURL:       "https://api.coingecko.com/api/v3",
			VsCurrency:    "eur",
			PollInterval:  Duration{10 * time.Second},
			CandleRefresh: Duration{120 * time.Second},
			Timeout:       Duration{10 * time.Second},
			Days:          7,
		},
		Store: StoreConfig{
			Type: "sqlite",
			Path: "./papertrader.db",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  Duration{time.Minute},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
