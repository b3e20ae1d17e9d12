package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds process-wide settings sourced from the environment.
// Credentials are read once here and injected into the components that
// need them; nothing else touches os.Getenv at runtime.
type Config struct {
	Server     ServerConfig
	Monitor    MonitorConfig
	Polymarket PolymarketConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
}

// ServerConfig configures the HTTP API layer.
type ServerConfig struct {
	Port int
}

// MonitorConfig configures the two periodic copy-trading loops.
type MonitorConfig struct {
	Interval     time.Duration // position monitor + order manager cadence
	MinTradeSize float64       // notional floor in USDC; smaller copies are skipped
	ReadTimeout  time.Duration // market data / status fetches
	WriteTimeout time.Duration // order submission and cancellation
}

// PolymarketConfig holds exchange endpoints and signing credentials.
type PolymarketConfig struct {
	DataAPIURL    string
	ClobAPIURL    string
	ClobWSURL     string
	PrivateKey    string
	FunderAddress string // set for Magic/Email wallets, empty for EOA
}

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RedisConfig holds cache connection settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
		},
		Monitor: MonitorConfig{
			Interval:     time.Duration(getEnvInt("COPY_INTERVAL_MINUTES", 5)) * time.Minute,
			MinTradeSize: getEnvFloat("COPY_MIN_TRADE_SIZE", 1.0),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Polymarket: PolymarketConfig{
			DataAPIURL:    getEnv("POLYMARKET_DATA_API_URL", "https://data-api.polymarket.com"),
			ClobAPIURL:    getEnv("POLYMARKET_CLOB_API_URL", "https://clob.polymarket.com"),
			ClobWSURL:     getEnv("POLYMARKET_CLOB_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
			PrivateKey:    os.Getenv("POLYMARKET_PRIVATE_KEY"),
			FunderAddress: os.Getenv("POLYMARKET_FUNDER_ADDRESS"),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "polymarket"),
			Password: getEnv("POSTGRES_PASSWORD", "polymarket123"),
			DBName:   getEnv("POSTGRES_DB", "polymarket"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}

	if cfg.Polymarket.PrivateKey == "" {
		return nil, fmt.Errorf("POLYMARKET_PRIVATE_KEY not set")
	}
	if cfg.Monitor.Interval < time.Minute {
		return nil, fmt.Errorf("COPY_INTERVAL_MINUTES must be at least 1, got %s", cfg.Monitor.Interval)
	}
	if cfg.Monitor.MinTradeSize <= 0 {
		return nil, fmt.Errorf("COPY_MIN_TRADE_SIZE must be positive, got %f", cfg.Monitor.MinTradeSize)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
