package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAPERTRADER_"

// ApplyEnv loads a .env file from the working directory when present and
// then overrides fields from PAPERTRADER_* variables.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	c.applyEnvOverrides()
}

func (c *Config) applyEnvOverrides() {
	setStr(&c.Account.Currency, "ACCOUNT_CURRENCY")
	setFloat64(&c.Account.StartingCash, "ACCOUNT_STARTING_CASH")

	setStr(&c.Market.Symbol, "MARKET_SYMBOL")
	setFloat64(&c.Market.SeedPrice, "MARKET_SEED_PRICE")
	setInt64(&c.Market.CandleSeconds, "MARKET_CANDLE_SECONDS")
	setStr(&c.Market.Speed, "MARKET_SPEED")
	setInt64(&c.Market.Seed, "MARKET_SEED")

	setBool(&c.Risk.Advanced, "RISK_ADVANCED")
	setBool(&c.Risk.AllowShort, "RISK_ALLOW_SHORT")
	setFloat64(&c.Risk.MaxLeverage, "RISK_MAX_LEVERAGE")
	setFloat64(&c.Risk.FeeBps, "RISK_FEE_BPS")
	setFloat64(&c.Risk.SlippageBps, "RISK_SLIPPAGE_BPS")

	setBool(&c.Live.Enabled, "LIVE_ENABLED")
	setStr(&c.Live.BaseURL, "LIVE_BASE_URL")
	setStr(&c.Live.VsCurrency, "LIVE_VS_CURRENCY")
	setDuration(&c.Live.PollInterval, "LIVE_POLL_INTERVAL")
	setInt(&c.Live.Days, "LIVE_DAYS")

	setStr(&c.Store.Type, "STORE_TYPE")
	setStr(&c.Store.Path, "STORE_PATH")

	setStr(&c.Server.Addr, "SERVER_ADDR")

	setBool(&c.Redis.Enabled, "REDIS_ENABLED")
	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setStr(&c.Log.Level, "LOG_LEVEL")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
