package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App            AppConfig
	DataCollection CollectionConfig `mapstructure:"data_collection"`
	Monitoring     MonitoringConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Exchanges      map[string]ExchangeConfig
	Arbitrage      ArbitrageConfig
}

// AppConfig defines process-level settings.
type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// CollectionConfig defines how collection rounds are scheduled.
type CollectionConfig struct {
	IntervalMinutes    int  `mapstructure:"interval_minutes"`
	ConcurrentRequests int  `mapstructure:"concurrent_requests"`
	TradeLimit         int  `mapstructure:"trade_limit"`
	StreamEnabled      bool `mapstructure:"stream_enabled"`
}

// MonitoringConfig defines the health-check loop settings.
type MonitoringConfig struct {
	HealthCheckInterval int `mapstructure:"health_check_interval"`
}

// DatabaseConfig defines the time-series database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// DSN returns the postgres connection string for this configuration.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig defines the optional latest-price cache connection.
// An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ExchangeConfig defines settings for a specific exchange. It is built once
// at load time and never mutated afterwards.
type ExchangeConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	APIKey    string   `mapstructure:"api_key"`
	APISecret string   `mapstructure:"api_secret"`
	Sandbox   bool     `mapstructure:"sandbox"`
	Symbols   []string `mapstructure:"symbols"`
	RateLimit int      `mapstructure:"rate_limit"`
}

// ArbitrageConfig defines the stablecoin-arbitrage strategy settings.
type ArbitrageConfig struct {
	InitialCapital     float64 `mapstructure:"initial_capital"`
	TransactionFee     float64 `mapstructure:"transaction_fee"`
	MinProfitThreshold float64 `mapstructure:"min_profit_threshold"`
	HistoryLimit       int     `mapstructure:"history_limit"`
	Pair               string  `mapstructure:"pair"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("data_collection.interval_minutes", 5)
	viper.SetDefault("data_collection.concurrent_requests", 5)
	viper.SetDefault("data_collection.trade_limit", 50)
	viper.SetDefault("monitoring.health_check_interval", 60)
	viper.SetDefault("arbitrage.initial_capital", 10000.0)
	viper.SetDefault("arbitrage.transaction_fee", 0.001)
	viper.SetDefault("arbitrage.min_profit_threshold", 0.05)
	viper.SetDefault("arbitrage.pair", "FDUSDUSDT")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
