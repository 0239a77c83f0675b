package archive

import (
	"fmt"
	"time"
)

// Config holds archive connection configuration.
type Config struct {
	// Driver specifies which database to use: "sqlite" or "postgres"
	Driver DialectType

	// SQLite configuration
	SQLitePath string

	// DSN, when set, is passed to the driver as is and wins over the
	// structured settings.
	DSN string

	// PostgreSQL configuration
	Postgres PostgresConfig
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Config for a SQLite archive at the given path.
func DefaultConfig(sqlitePath string) Config {
	return Config{
		Driver:     DialectSQLite,
		SQLitePath: sqlitePath,
	}
}

// DefaultPostgresConfig returns PostgresConfig with recommended pool settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// connString builds a lib/pq keyword/value connection string.
func (c PostgresConfig) connString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}
