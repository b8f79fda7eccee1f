// Package config loads application configuration from a YAML file and
// SIGNALBOT_-prefixed environment variables via viper. Environment values
// override the file; defaults cover everything except broker credentials.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// KiteConfig holds Zerodha Kite Connect credentials.
type KiteConfig struct {
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	TOTPSecret   string `mapstructure:"totp_secret"`
}

// TelegramConfig holds the notification bot settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// RedisConfig holds the snapshot cache settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TradingConfig holds the signal and execution policy.
type TradingConfig struct {
	Exchange           string  `mapstructure:"exchange"`
	AutoTrade          bool    `mapstructure:"auto_trade"`
	PaperTrading       bool    `mapstructure:"paper_trading"`
	SlippageBps        float64 `mapstructure:"slippage_bps"`
	MaxCapitalPerTrade float64 `mapstructure:"max_capital_per_trade"`
	DailyTradeCap      int     `mapstructure:"daily_trade_cap"`
	DailySignalCap     int     `mapstructure:"daily_signal_cap"`
	MaxStopLossPct     float64 `mapstructure:"max_stop_loss_pct"`
}

// Config is the root application configuration.
type Config struct {
	SQLitePath  string `mapstructure:"sqlite_path"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	APIAddr     string `mapstructure:"api_addr"`

	Kite     KiteConfig     `mapstructure:"kite"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Trading  TradingConfig  `mapstructure:"trading"`

	// BenchmarkTokens are the two index instruments gating the pipeline.
	BenchmarkTokens []uint32 `mapstructure:"benchmark_tokens"`

	// StrongSectors is the static strong-sector list for the sector filter.
	StrongSectors []string `mapstructure:"strong_sectors"`

	// Sectors maps watchlist trading symbols to their sector.
	Sectors map[string]string `mapstructure:"sectors"`

	// Banned lists symbols under F&O ban.
	Banned []string `mapstructure:"banned"`

	// Daily session refresh wall-clock time (IST).
	RefreshHour   int `mapstructure:"refresh_hour"`
	RefreshMinute int `mapstructure:"refresh_minute"`
}

// Load reads the configuration from the given file path (optional) and the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("sqlite_path", "data/signalbot.db")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("api_addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("trading.exchange", "NSE")
	v.SetDefault("trading.max_capital_per_trade", 100000)
	v.SetDefault("trading.daily_trade_cap", 6)
	v.SetDefault("trading.daily_signal_cap", 6)
	v.SetDefault("trading.max_stop_loss_pct", 0.5)
	v.SetDefault("refresh_hour", 8)
	v.SetDefault("refresh_minute", 30)

	v.SetEnvPrefix("SIGNALBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !c.Trading.PaperTrading && c.Kite.APIKey == "" {
		return fmt.Errorf("config: kite.api_key required outside paper trading")
	}
	if len(c.BenchmarkTokens) != 2 {
		return fmt.Errorf("config: exactly two benchmark_tokens required, got %d", len(c.BenchmarkTokens))
	}
	if len(c.Sectors) == 0 {
		return fmt.Errorf("config: sectors watchlist is empty")
	}
	return nil
}
