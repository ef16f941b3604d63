// Package config loads the exchange's tunables via viper, with defaults
// matching the original simulator's config.py, overridable by environment
// variables prefixed EXCHANGE_ (e.g. EXCHANGE_TER_PERCENT=7.5) or a config
// file passed to Load.
package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every tunable enumerated in the specification's
// configuration table (§6.3), plus the transport/ambient additions.
type Config struct {
	Symbol string

	InitialPrice           decimal.Decimal
	TickSize               decimal.Decimal
	MaxDailyMovePercent    decimal.Decimal
	BandExpansionIncrement decimal.Decimal
	TERPercent             decimal.Decimal
	CircuitBreakerDuration time.Duration
	ClientSlippagePercent  decimal.Decimal
	BotSlippagePercent     decimal.Decimal

	PriceMultiplier int64
	StreamID        uint16
	Token           uint32

	UDPGroup string
	UDPPort  int

	MetricsAddr string
}

// Load builds a Config from defaults, an optional config file, and the
// process environment. configPath may be empty to skip file loading.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		Symbol: v.GetString("symbol"),

		InitialPrice:           decimal.NewFromFloat(v.GetFloat64("initial_price")),
		TickSize:               decimal.NewFromFloat(v.GetFloat64("tick_size")),
		MaxDailyMovePercent:    decimal.NewFromFloat(v.GetFloat64("max_daily_move_percent")),
		BandExpansionIncrement: decimal.NewFromFloat(v.GetFloat64("band_expansion_increment")),
		TERPercent:             decimal.NewFromFloat(v.GetFloat64("ter_percent")),
		CircuitBreakerDuration: v.GetDuration("circuit_breaker_duration"),
		ClientSlippagePercent:  decimal.NewFromFloat(v.GetFloat64("client_slippage_percent")),
		BotSlippagePercent:     decimal.NewFromFloat(v.GetFloat64("bot_slippage_percent")),

		PriceMultiplier: v.GetInt64("price_multiplier"),
		StreamID:        uint16(v.GetUint32("stream_id")),
		Token:           v.GetUint32("token"),

		UDPGroup: v.GetString("udp_group"),
		UDPPort:  v.GetInt("udp_port"),

		MetricsAddr: v.GetString("metrics_addr"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbol", "SBIN")
	v.SetDefault("initial_price", 700.0)
	v.SetDefault("tick_size", 0.05)
	v.SetDefault("max_daily_move_percent", 10.0)
	v.SetDefault("band_expansion_increment", 5.0)
	v.SetDefault("ter_percent", 5.0)
	v.SetDefault("circuit_breaker_duration", 5*time.Second)
	v.SetDefault("client_slippage_percent", 0.1)
	v.SetDefault("bot_slippage_percent", 0.05)
	v.SetDefault("price_multiplier", 100)
	v.SetDefault("stream_id", 1)
	v.SetDefault("token", 1001)
	v.SetDefault("udp_group", "224.1.1.1")
	v.SetDefault("udp_port", 5007)
	v.SetDefault("metrics_addr", ":9090")
}
