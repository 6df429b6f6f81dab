// Package config loads typed runtime configuration via spf13/viper, with
// an optional .env overlay via joho/godotenv, grounded on the same stack
// 0xtitan6-polymarket-mm and uhyunpark-hyperlicked use for their own
// config layers. The teacher hardcodes its listen address/port in
// cmd/main.go; nothing here is teacher-derived beyond that gap.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"fenrir/internal/common"
)

// SymbolSpec is one symbol's config as read from file/env, before being
// converted to common.SymbolConfig (which uses decimal.Decimal rather
// than strings).
type SymbolSpec struct {
	Symbol           string `mapstructure:"symbol"`
	PriceTick        string `mapstructure:"price_tick"`
	QtyStep          string `mapstructure:"qty_step"`
	TakerFeeRate     string `mapstructure:"taker_fee_rate"`
	MakerFeeRate     string `mapstructure:"maker_fee_rate"`
	MaxOrderNotional string `mapstructure:"max_order_notional"`
	MaxLeverage      int    `mapstructure:"max_leverage"`
}

type Config struct {
	GatewayAddr string `mapstructure:"gateway_addr"`
	GatewayPort int    `mapstructure:"gateway_port"`
	HTTPAddr    string `mapstructure:"http_addr"`

	WALDir string `mapstructure:"wal_dir"`

	FeeAccount string `mapstructure:"fee_account"`

	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`

	BusSubscriberQueueSize int           `mapstructure:"bus_subscriber_queue_size"`
	BusLagTimeout          time.Duration `mapstructure:"bus_lag_timeout"`

	Symbols []SymbolSpec `mapstructure:"symbols"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("gateway_addr", "0.0.0.0")
	v.SetDefault("gateway_port", 9001)
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("wal_dir", "./data/wal")
	v.SetDefault("fee_account", "house")
	v.SetDefault("rate_limit_per_sec", 50.0)
	v.SetDefault("rate_limit_burst", 100)
	v.SetDefault("bus_subscriber_queue_size", 256)
	v.SetDefault("bus_lag_timeout", "2s")
}

// Load reads configuration from (in ascending priority) defaults, a
// config file at configPath, and FENRIR_-prefixed environment variables.
// An optional .env file at envPath is first loaded into the process
// environment (without overriding variables already set), so its
// FENRIR_ entries rank with the environment variables, above the file.
func Load(configPath, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("FENRIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}

// SymbolConfigs converts the loaded specs into the decimal-typed form
// the engine and book packages consume.
func (c *Config) SymbolConfigs() ([]common.SymbolConfig, error) {
	out := make([]common.SymbolConfig, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		sym, err := common.ParseSymbol(s.Symbol)
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", s.Symbol, err)
		}
		tick, err := decimal.NewFromString(s.PriceTick)
		if err != nil {
			return nil, fmt.Errorf("symbol %q price_tick: %w", s.Symbol, err)
		}
		step, err := decimal.NewFromString(s.QtyStep)
		if err != nil {
			return nil, fmt.Errorf("symbol %q qty_step: %w", s.Symbol, err)
		}
		takerFee, err := decimalOrZero(s.TakerFeeRate)
		if err != nil {
			return nil, fmt.Errorf("symbol %q taker_fee_rate: %w", s.Symbol, err)
		}
		makerFee, err := decimalOrZero(s.MakerFeeRate)
		if err != nil {
			return nil, fmt.Errorf("symbol %q maker_fee_rate: %w", s.Symbol, err)
		}
		maxNotional, err := decimalOrZero(s.MaxOrderNotional)
		if err != nil {
			return nil, fmt.Errorf("symbol %q max_order_notional: %w", s.Symbol, err)
		}
		out = append(out, common.SymbolConfig{
			Symbol:           sym,
			PriceTick:        tick,
			QtyStep:          step,
			TakerFeeRate:     takerFee,
			MakerFeeRate:     makerFee,
			FeeAccount:       "", // resolved to Config.FeeAccount by the caller
			MaxOrderNotional: maxNotional,
			MaxLeverage:      s.MaxLeverage,
		})
	}
	return out, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
