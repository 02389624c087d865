// Package config loads application configuration from environment
// variables with sensible defaults.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Canonical store
	Store *StoreConfig

	// Optional warehouse row source
	Warehouse *WarehouseConfig

	// Reconciliation settings
	ChunkSize          int     // max operations per atomic commit chunk
	NameMatchThreshold float64 // fuzzy name similarity cutoff

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ChunkSize:          getEnvAsInt("CHUNK_SIZE", 500),
		NameMatchThreshold: getEnvAsFloat("NAME_MATCH_THRESHOLD", 0.85),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}

	storeConfig, err := LoadStoreConfig()
	if err != nil {
		return nil, errors.New("failed to load store configuration: " + err.Error())
	}
	cfg.Store = storeConfig

	// The warehouse source is optional; only load it when configured.
	if os.Getenv("SNOWFLAKE_ACCOUNT") != "" {
		whConfig, err := LoadWarehouseConfig()
		if err != nil {
			return nil, errors.New("failed to load warehouse configuration: " + err.Error())
		}
		cfg.Warehouse = whConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store configuration is required")
	}

	if c.ChunkSize <= 0 {
		return errors.New("chunk size must be positive")
	}

	if c.NameMatchThreshold <= 0 || c.NameMatchThreshold > 1 {
		return errors.New("name match threshold must be in (0, 1]")
	}

	return nil
}

// StoreConfig holds PostgreSQL connection parameters for the canonical
// store.
type StoreConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoadStoreConfig loads store configuration from environment variables
func LoadStoreConfig() (*StoreConfig, error) {
	host := getEnv("PG_HOST", "localhost")

	user := os.Getenv("PG_USER")
	if user == "" {
		return nil, errors.New("PG_USER environment variable is required")
	}

	database := os.Getenv("PG_DATABASE")
	if database == "" {
		return nil, errors.New("PG_DATABASE environment variable is required")
	}

	return &StoreConfig{
		Host:            host,
		Port:            getEnvAsInt("PG_PORT", 5432),
		User:            user,
		Password:        os.Getenv("PG_PASSWORD"),
		Database:        database,
		SSLMode:         getEnv("PG_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("PG_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("PG_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Duration(getEnvAsInt("PG_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
	}, nil
}

// ConnectionString builds the lib/pq connection string.
func (c *StoreConfig) ConnectionString() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// WarehouseConfig holds Snowflake connection parameters for the optional
// normalized-row staging source.
type WarehouseConfig struct {
	User      string
	Password  string
	Account   string
	Warehouse string
	Database  string
	Schema    string

	QueryTimeout time.Duration
}

// LoadWarehouseConfig loads warehouse configuration from environment variables
func LoadWarehouseConfig() (*WarehouseConfig, error) {
	user := os.Getenv("SNOWFLAKE_USER")
	if user == "" {
		return nil, errors.New("SNOWFLAKE_USER environment variable is required")
	}

	password := os.Getenv("SNOWFLAKE_PASSWORD")
	if password == "" {
		return nil, errors.New("SNOWFLAKE_PASSWORD environment variable is required")
	}

	account := os.Getenv("SNOWFLAKE_ACCOUNT")
	if account == "" {
		return nil, errors.New("SNOWFLAKE_ACCOUNT environment variable is required")
	}

	return &WarehouseConfig{
		User:         user,
		Password:     password,
		Account:      account,
		Warehouse:    getEnv("SNOWFLAKE_WAREHOUSE", "COMPUTE_WH"),
		Database:     getEnv("SNOWFLAKE_DATABASE", "REGISTRAR_STAGING"),
		Schema:       getEnv("SNOWFLAKE_SCHEMA", "PUBLIC"),
		QueryTimeout: time.Duration(getEnvAsInt("SNOWFLAKE_QUERY_TIMEOUT_SEC", 60)) * time.Second,
	}, nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
