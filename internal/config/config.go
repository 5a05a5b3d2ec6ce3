// Package config provides configuration management for the portfolio engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/portfolio-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Risk     RiskConfig
	Engine   EngineConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
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

// URL renders the connection URL used by the migration runner.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// RiskConfig holds the risk-gate policy knobs. The sizing policy is an
// explicit configuration enum, not divergent code paths.
type RiskConfig struct {
	MinConfidence       decimal.Decimal
	MaxPositionFraction decimal.Decimal
	Policy              types.RiskPolicy
}

// EngineConfig holds decision-cycle configuration
type EngineConfig struct {
	PortfolioName string
	SeedCash      decimal.Decimal
	ModelName     string
	CycleInterval time.Duration
	Symbols       []string
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	StateTTL time.Duration
	PriceTTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	minConfidence, err := getEnvAsDecimal("RISK_MIN_CONFIDENCE", "0.6")
	if err != nil {
		return nil, err
	}

	maxPositionFraction, err := getEnvAsDecimal("RISK_MAX_POSITION_FRACTION", "0.20")
	if err != nil {
		return nil, err
	}

	seedCash, err := getEnvAsDecimal("SEED_CASH", "1000000")
	if err != nil {
		return nil, err
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
				Database:       getEnv("POSTGRES_DB", "portfolio_engine"),
				User:           getEnv("POSTGRES_USER", "engine"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Risk: RiskConfig{
			MinConfidence:       minConfidence,
			MaxPositionFraction: maxPositionFraction,
			Policy:              types.ParseRiskPolicy(getEnv("RISK_POLICY", "fixed-fraction")),
		},
		Engine: EngineConfig{
			PortfolioName: getEnv("PORTFOLIO_NAME", "Primary Portfolio"),
			SeedCash:      seedCash,
			ModelName:     getEnv("DECISION_MODEL", "mock"),
			CycleInterval: getEnvAsDuration("ENGINE_CYCLE_INTERVAL", 24*time.Hour),
			Symbols:       splitList(getEnv("ENGINE_SYMBOLS", "RELIANCE,INFY,TCS,HDFCBANK,ICICIBANK")),
		},
		Cache: CacheConfig{
			StateTTL: getEnvAsDuration("CACHE_STATE_TTL", 20*time.Second),
			PriceTTL: getEnvAsDuration("CACHE_PRICE_TTL", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if config.Risk.MaxPositionFraction.Sign() <= 0 || config.Risk.MaxPositionFraction.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("RISK_MAX_POSITION_FRACTION must be in (0, 1], got %s", config.Risk.MaxPositionFraction)
	}

	return config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := getEnv(key, defaultValue)
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %w", key, err)
	}
	return value, nil
}
