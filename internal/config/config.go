// Package config loads the engine and service settings from balance.yaml.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/balancelab/internal/archive"
	"github.com/lawnchairsociety/balancelab/internal/combat"
	"github.com/lawnchairsociety/balancelab/internal/curve"
	"github.com/lawnchairsociety/balancelab/internal/deadzone"
	"github.com/lawnchairsociety/balancelab/internal/matchup"
)

// ArchiveDSNEnv overrides the archive connection with a full DSN. A
// postgres:// URL selects the postgres driver; anything else is a SQLite path.
const ArchiveDSNEnv = "BALANCE_ARCHIVE_DSN"

// EngineConfig holds every tunable of the engine and its outer surfaces.
type EngineConfig struct {
	Combat     combat.BattleConfig      `yaml:"combat"`
	MonteCarlo MonteCarloConfig         `yaml:"monte_carlo"`
	Imbalance  matchup.ImbalanceOptions `yaml:"imbalance"`
	Curve      curve.Options            `yaml:"curve"`
	DeadZone   deadzone.Options         `yaml:"dead_zone"`
	Server     ServerConfig             `yaml:"server"`
	Archive    ArchiveConfig            `yaml:"archive"`
}

// MonteCarloConfig holds defaults for repeated-battle runs.
type MonteCarloConfig struct {
	// Runs is the default battle count for a single matchup.
	Runs int `yaml:"runs"`

	// RunsPerMatch is the default battle count per ordered pair in a matrix.
	RunsPerMatch int `yaml:"runs_per_match"`

	SampleBattles int `yaml:"sample_battles"`
	HistogramBins int `yaml:"histogram_bins"`

	// Workers bounds parallelism. 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// ServerConfig holds settings for the WebSocket analysis service.
type ServerConfig struct {
	Address     string            `yaml:"address"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Connections ConnectionsConfig `yaml:"connections"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`

	// CacheSize is the number of results kept in memory by input fingerprint.
	CacheSize int `yaml:"cache_size"`

	// MaxRuns caps the runs a single request may ask for, per matchup.
	MaxRuns int `yaml:"max_runs"`

	// MaxRosterSize caps matrix requests.
	MaxRosterSize int `yaml:"max_roster_size"`
}

// ConnectionsConfig holds connection limit settings.
type ConnectionsConfig struct {
	// MaxPerIP is the maximum concurrent connections allowed from a single IP address.
	// 0 means unlimited (not recommended).
	MaxPerIP int `yaml:"max_per_ip"`

	// MaxTotal is the maximum total concurrent connections to the server.
	// 0 means unlimited.
	MaxTotal int `yaml:"max_total"`
}

// RateLimitConfig holds the lockout applied to clients that keep sending
// requests the service rejects.
type RateLimitConfig struct {
	// MaxRejected is the number of rejected requests before lockout.
	MaxRejected int `yaml:"max_rejected"`

	// LockoutSeconds is the initial lockout duration.
	LockoutSeconds int `yaml:"lockout_seconds"`

	// MaxLockoutSeconds caps the doubling lockout.
	MaxLockoutSeconds int `yaml:"max_lockout_seconds"`
}

// WebSocketConfig holds WebSocket-specific settings.
type WebSocketConfig struct {
	// AllowedOrigins is a list of origins allowed to connect via WebSocket.
	// Empty list enforces same-origin policy.
	// Use "*" to allow all origins (not recommended for production).
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize is the maximum WebSocket message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// ArchiveConfig selects where analysis results are archived.
type ArchiveConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Driver     string         `yaml:"driver"`
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`

	// dsn is set from ArchiveDSNEnv and wins over the fields above.
	dsn string
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultConfig returns an EngineConfig with the standard calibration.
func DefaultConfig() *EngineConfig {
	pg := archive.DefaultPostgresConfig()
	return &EngineConfig{
		Combat: combat.DefaultBattleConfig(),
		MonteCarlo: MonteCarloConfig{
			Runs:          1000,
			RunsPerMatch:  500,
			SampleBattles: 10,
			HistogramBins: 20,
		},
		Imbalance: matchup.DefaultImbalanceOptions(),
		Curve:     curve.Options{OutlierThreshold: curve.DefaultOutlierThreshold},
		DeadZone: deadzone.Options{
			GapFactor:     deadzone.DefaultGapFactor,
			ClusterFactor: deadzone.DefaultClusterFactor,
		},
		Server: ServerConfig{
			Address: ":8080",
			WebSocket: WebSocketConfig{
				AllowedOrigins: []string{}, // Same-origin only by default
				MaxMessageSize: 1 << 20,
			},
			Connections: ConnectionsConfig{
				MaxPerIP: 3,
				MaxTotal: 100,
			},
			RateLimit: RateLimitConfig{
				MaxRejected:       10,
				LockoutSeconds:    30,
				MaxLockoutSeconds: 300,
			},
			CacheSize:     256,
			MaxRuns:       100000,
			MaxRosterSize: 32,
		},
		Archive: ArchiveConfig{
			Driver:     string(archive.DialectSQLite),
			SQLitePath: "data/balance.db",
			Postgres: PostgresConfig{
				Host:            pg.Host,
				Port:            pg.Port,
				SSLMode:         pg.SSLMode,
				MaxOpenConns:    pg.MaxOpenConns,
				MaxIdleConns:    pg.MaxIdleConns,
				ConnMaxLifetime: pg.ConnMaxLifetime,
			},
		},
	}
}

// LoadConfig loads configuration from a YAML file over the defaults and
// applies the archive DSN override. A missing file yields the defaults.
func LoadConfig(path string) (*EngineConfig, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return config, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return DefaultConfig(), fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if dsn := os.Getenv(ArchiveDSNEnv); dsn != "" {
		config.Archive.Enabled = true
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			config.Archive.Driver = string(archive.DialectPostgres)
		} else {
			config.Archive.Driver = string(archive.DialectSQLite)
			config.Archive.SQLitePath = dsn
		}
		config.Archive.dsn = dsn
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate checks the settings that cannot be defaulted at use.
func (c *EngineConfig) Validate() error {
	if _, err := c.Combat.Normalize(); err != nil {
		return fmt.Errorf("combat: %w", err)
	}
	if c.MonteCarlo.Runs < 0 || c.MonteCarlo.RunsPerMatch < 0 || c.MonteCarlo.Workers < 0 {
		return fmt.Errorf("monte_carlo: runs and workers must not be negative")
	}
	switch archive.DialectType(c.Archive.Driver) {
	case archive.DialectSQLite, archive.DialectPostgres:
	default:
		return fmt.Errorf("archive: unknown driver %q", c.Archive.Driver)
	}
	if c.Server.MaxRuns < 0 || c.Server.MaxRosterSize < 0 || c.Server.CacheSize < 0 {
		return fmt.Errorf("server: limits must not be negative")
	}
	return nil
}

// ArchiveSettings converts the YAML archive section to the archive's own config.
func (a ArchiveConfig) ArchiveSettings() archive.Config {
	return archive.Config{
		Driver:     archive.DialectType(a.Driver),
		SQLitePath: a.SQLitePath,
		DSN:        a.dsn,
		Postgres: archive.PostgresConfig{
			Host:            a.Postgres.Host,
			Port:            a.Postgres.Port,
			User:            a.Postgres.User,
			Password:        a.Postgres.Password,
			Database:        a.Postgres.Database,
			SSLMode:         a.Postgres.SSLMode,
			MaxOpenConns:    a.Postgres.MaxOpenConns,
			MaxIdleConns:    a.Postgres.MaxIdleConns,
			ConnMaxLifetime: a.Postgres.ConnMaxLifetime,
		},
	}
}

// IsOriginAllowed checks if the given origin is allowed based on the config.
// Returns true if:
// - AllowedOrigins contains "*" (allow all)
// - AllowedOrigins contains the exact origin
// - AllowedOrigins is empty and origin matches the request host (same-origin)
func (c *WebSocketConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// isSameOrigin checks if the origin matches the request host (same-origin policy).
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // No origin header means a non-browser client
	}

	// "http://localhost:3000" -> "localhost:3000"
	originHost := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		originHost = origin[idx+3:]
	}
	originHost = strings.TrimSuffix(originHost, "/")

	return originHost == requestHost
}
