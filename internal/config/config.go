// Package config provides configuration management for the portfolio analyzer.
// It loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Upload     UploadConfig
	Providers  ProvidersConfig
	Resolution ResolutionConfig
	Settings   SettingsConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by golang-migrate.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration.
// History recording is disabled when Host is empty.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// Enabled reports whether a ClickHouse host is configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// UploadConfig holds CSV upload configuration
type UploadConfig struct {
	MaxSize          int64
	Dir              string
	SupportedBrokers []string
	// ClassifyTimeout bounds provider quote-type lookups while parsing
	ClassifyTimeout time.Duration
}

// ProvidersConfig holds the external data provider endpoints
type ProvidersConfig struct {
	MarketData ProviderConfig
	FundData   ProviderConfig
}

// ProviderConfig holds configuration for one HTTP data provider
type ProviderConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond int
}

// ResolutionConfig holds background resolution configuration
type ResolutionConfig struct {
	MinProviderDelay     time.Duration
	HourlyCallBudget     int
	CacheFile            string
	MaxTransientAttempts int
	CommitBatchSize      int
	SweepSchedule        string
	QueueSize            int
}

// SettingsConfig holds defaults for user-adjustable settings
type SettingsConfig struct {
	SnapshotRetention int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; variables may be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
		},
		Upload: UploadConfig{
			MaxSize:          int64(getEnvAsInt("MAX_UPLOAD_SIZE", 10<<20)),
			Dir:              getEnv("UPLOAD_FOLDER", "data/uploads"),
			SupportedBrokers: getEnvAsList("SUPPORTED_BROKERS", "merrill,fidelity,webull,robinhood,schwab"),
			ClassifyTimeout:  getEnvAsDuration("UPLOAD_CLASSIFY_TIMEOUT", 3*time.Second),
		},
		Providers: ProvidersConfig{
			MarketData: ProviderConfig{
				BaseURL:           getEnv("MARKET_DATA_BASE_URL", "https://query2.finance.yahoo.com"),
				APIKey:            getEnv("MARKET_DATA_API_KEY", ""),
				Timeout:           getEnvAsDuration("MARKET_DATA_TIMEOUT", 15*time.Second),
				RequestsPerSecond: getEnvAsInt("MARKET_DATA_RPS", 5),
			},
			FundData: ProviderConfig{
				BaseURL:           getEnv("FUND_DATA_BASE_URL", "https://eodhd.com/api"),
				APIKey:            getEnv("FUND_DATA_API_KEY", ""),
				Timeout:           getEnvAsDuration("FUND_DATA_TIMEOUT", 30*time.Second),
				RequestsPerSecond: getEnvAsInt("FUND_DATA_RPS", 2),
			},
		},
		Resolution: ResolutionConfig{
			MinProviderDelay:     getEnvAsDuration("RESOLUTION_MIN_DELAY", 200*time.Millisecond),
			HourlyCallBudget:     getEnvAsInt("RESOLUTION_HOURLY_BUDGET", 2000),
			CacheFile:            getEnv("SECURITY_INFO_CACHE_FILE", "data/security_info_cache.json"),
			MaxTransientAttempts: getEnvAsInt("RESOLUTION_MAX_TRANSIENT_ATTEMPTS", 3),
			CommitBatchSize:      getEnvAsInt("RESOLUTION_COMMIT_BATCH", 10),
			SweepSchedule:        getEnv("RESOLUTION_SWEEP_SCHEDULE", "@every 6h"),
			QueueSize:            getEnvAsInt("RESOLUTION_QUEUE_SIZE", 64),
		},
		Settings: SettingsConfig{
			SnapshotRetention: getEnvAsInt("SNAPSHOT_RETENTION_DEFAULT", 25),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("API_RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail at runtime
func (c *Config) Validate() error {
	if c.Upload.MaxSize <= 0 {
		return errors.New("MAX_UPLOAD_SIZE must be positive")
	}
	if c.Resolution.HourlyCallBudget <= 0 {
		return errors.New("RESOLUTION_HOURLY_BUDGET must be positive")
	}
	if c.Resolution.CommitBatchSize <= 0 {
		return errors.New("RESOLUTION_COMMIT_BATCH must be positive")
	}
	if c.Resolution.MaxTransientAttempts <= 0 {
		return errors.New("RESOLUTION_MAX_TRANSIENT_ATTEMPTS must be positive")
	}
	if c.Settings.SnapshotRetention <= 0 {
		return errors.New("SNAPSHOT_RETENTION_DEFAULT must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping blanks
func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
