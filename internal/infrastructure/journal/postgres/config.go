package postgres

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the journal's database connection settings. Pool sizing is
// left to pgxpool defaults: the journal's unit of work is one short
// transaction per append, so there is nothing to tune per deployment.
type Config struct {
	// URL, when set, is used verbatim as the connection string and the
	// individual fields below are ignored.
	URL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// NewConfigFromEnv creates a journal configuration from environment variables
func NewConfigFromEnv() *Config {
	return &Config{
		URL:      os.Getenv("JOURNAL_DB_URL"),
		Host:     getEnv("JOURNAL_DB_HOST", "localhost"),
		Port:     getEnvAsInt("JOURNAL_DB_PORT", 5432),
		Database: getEnv("JOURNAL_DB_NAME", "bank_saga"),
		User:     getEnv("JOURNAL_DB_USER", "bank_saga"),
		Password: getEnv("JOURNAL_DB_PASSWORD", "bank_saga_dev"),
		SSLMode:  getEnv("JOURNAL_DB_SSLMODE", "disable"),
	}
}

// ConnString builds the PostgreSQL connection string
func (c *Config) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
