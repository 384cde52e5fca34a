package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the engine.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Redis      Redis      `mapstructure:"redis"`
	Logger     Logger     `mapstructure:"logger"`
	Synthesis  Synthesis  `mapstructure:"synthesis"`
	Snapshot   Snapshot   `mapstructure:"snapshot"`
	Commission Commission `mapstructure:"commission"`
	Recovery   Recovery   `mapstructure:"recovery"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the PostgreSQL connection string. Empty means the engine
// runs on the in-memory store.
type Database struct {
	URL string `mapstructure:"url"`
}

// Redis holds the Redis connection string. Empty means the engine runs on
// the in-memory price cache.
type Redis struct {
	URL string `mapstructure:"url"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Synthesis tunes the price synthesis engine.
type Synthesis struct {
	IntervalSeconds int     `mapstructure:"interval_seconds"`
	Sensitivity     float64 `mapstructure:"sensitivity"`
	MaxChangePct    float64 `mapstructure:"max_change_pct"`
	SmoothingAlpha  float64 `mapstructure:"smoothing_alpha"`
	JitterPct       float64 `mapstructure:"jitter_pct"`
	LiquidityScale  float64 `mapstructure:"liquidity_scale"`
}

// Snapshot holds the snapshot writer schedule (cron expression with a
// seconds field).
type Snapshot struct {
	Schedule string `mapstructure:"schedule"`
}

// Commission holds the per-operation commission rates.
type Commission struct {
	MarketBuy  float64 `mapstructure:"market_buy"`
	MarketSell float64 `mapstructure:"market_sell"`
	OrderBuy   float64 `mapstructure:"order_buy"`
	OrderSell  float64 `mapstructure:"order_sell"`
}

// Recovery holds the recovery-code registry limits.
type Recovery struct {
	Limit      int `mapstructure:"limit"`
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// TTL returns the configured code lifetime.
func (r Recovery) TTL() time.Duration {
	return time.Duration(r.TTLMinutes) * time.Minute
}

// LoadConfig reads configuration from config.yml in path, with environment
// variables overriding file values. A missing config file is not an error;
// defaults and environment apply.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("synthesis.interval_seconds", 10)
	viper.SetDefault("synthesis.sensitivity", 0.05)
	viper.SetDefault("synthesis.max_change_pct", 0.05)
	viper.SetDefault("synthesis.smoothing_alpha", 0.5)
	viper.SetDefault("synthesis.jitter_pct", 0.002)
	viper.SetDefault("synthesis.liquidity_scale", 1000)
	viper.SetDefault("snapshot.schedule", "0 0 */3 * * *")
	viper.SetDefault("commission.market_buy", 0.1)
	viper.SetDefault("commission.market_sell", 0.1)
	viper.SetDefault("commission.order_buy", 0.1)
	viper.SetDefault("commission.order_sell", 0.1)
	viper.SetDefault("recovery.limit", 5)
	viper.SetDefault("recovery.ttl_minutes", 15)

	err = viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	return
}
