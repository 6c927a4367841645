package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Broker      Broker      `mapstructure:"broker"`
	Persistence Persistence `mapstructure:"persistence"`
	Retry       Retry       `mapstructure:"retry"`
	Limiter     Limiter     `mapstructure:"limiter"`
	Queue       Queue       `mapstructure:"queue"`
	Logger      Logger      `mapstructure:"logger"`
	Database    Database    `mapstructure:"database"`
}

// Broker holds the configuration for the broker bridge.
type Broker struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Timeout returns the broker call timeout as a duration.
func (b Broker) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// Persistence holds the configuration for the durable trade store service.
type Persistence struct {
	BaseURL string `mapstructure:"base_url"`
}

// Retry holds the configuration for transient-failure retries.
type Retry struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BackoffMs   int `mapstructure:"backoff_ms"`
}

// Backoff returns the base backoff as a duration.
func (r Retry) Backoff() time.Duration {
	return time.Duration(r.BackoffMs) * time.Millisecond
}

// Limiter holds the configuration for the sliding-window call gate.
type Limiter struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	WindowMs    int `mapstructure:"window_ms"`
}

// Window returns the limiter window as a duration.
func (l Limiter) Window() time.Duration {
	return time.Duration(l.WindowMs) * time.Millisecond
}

// Queue holds the configuration for the offline outbox.
type Queue struct {
	MaxRetryCount int `mapstructure:"max_retry_count"`
	RetryDelayMs  int `mapstructure:"retry_delay_ms"`
}

// RetryDelay returns the base retry delay as a duration.
func (q Queue) RetryDelay() time.Duration {
	return time.Duration(q.RetryDelayMs) * time.Millisecond
}

// Database holds the configuration for the local durable cache.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("broker.timeout_seconds", 60)
	viper.SetDefault("broker.rate_limit", 10) // requests per second
	viper.SetDefault("broker.rate_limit_burst", 5)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.backoff_ms", 1000)
	viper.SetDefault("limiter.max_attempts", 5)
	viper.SetDefault("limiter.window_ms", 60000)
	viper.SetDefault("queue.max_retry_count", 3)
	viper.SetDefault("queue.retry_delay_ms", 1000)
	viper.SetDefault("database.dsn", "journal.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
