package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Config holds runtime configuration values for the maintenance tools.
type Config struct {
	DBDriver      string
	DBPath        string
	DBDSN         string
	DBTablePrefix string
	DBAutoMigrate bool
	DBPool        PoolConfig
	LogLevel      string
	SentryDSN     string
	Environment   string
}

// PoolConfig tunes the database connection pool. Zero values keep the driver defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdle     time.Duration
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	defaultDBDriver    = DriverSQLite
	defaultDBPath      = "./data/wiki.db"
	defaultLogLevel    = "info"
	defaultEnvironment = "development"
	defaultBusyTimeout = 5 * time.Second
)

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	cfg := &Config{
		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", defaultDBDriver)),
		DBPath:        getEnv("DB_PATH", defaultDBPath),
		DBDSN:         os.Getenv("DB_DSN"),
		DBTablePrefix: os.Getenv("DB_TABLE_PREFIX"),
		LogLevel:      getEnv("LOG_LEVEL", defaultLogLevel),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		Environment:   getEnv("ENV", defaultEnvironment),
	}

	switch cfg.DBDriver {
	case DriverSQLite:
	case DriverPostgres, DriverMySQL:
		if cfg.DBDSN == "" {
			return nil, eris.Errorf("DB_DSN is required for driver %s", cfg.DBDriver)
		}
	default:
		return nil, eris.Errorf("invalid DB_DRIVER value: %s", cfg.DBDriver)
	}

	if raw := os.Getenv("DB_AUTO_MIGRATE"); raw != "" {
		migrate, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid DB_AUTO_MIGRATE value: %s", raw)
		}
		cfg.DBAutoMigrate = migrate
	}

	pool, err := loadPool()
	if err != nil {
		return nil, err
	}
	cfg.DBPool = pool

	return cfg, nil
}

func loadPool() (PoolConfig, error) {
	pool := PoolConfig{BusyTimeout: defaultBusyTimeout}

	var err error
	if pool.MaxOpenConns, err = getEnvInt("DB_MAX_OPEN_CONNS"); err != nil {
		return PoolConfig{}, err
	}
	if pool.MaxIdleConns, err = getEnvInt("DB_MAX_IDLE_CONNS"); err != nil {
		return PoolConfig{}, err
	}
	if pool.ConnMaxIdle, err = getEnvDuration("DB_CONN_MAX_IDLE", 0); err != nil {
		return PoolConfig{}, err
	}
	if pool.ConnMaxLifetime, err = getEnvDuration("DB_CONN_MAX_LIFETIME", 0); err != nil {
		return PoolConfig{}, err
	}
	if pool.BusyTimeout, err = getEnvDuration("DB_BUSY_TIMEOUT", defaultBusyTimeout); err != nil {
		return PoolConfig{}, err
	}

	return pool, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	if value < 0 {
		return 0, eris.Errorf("invalid %s value: %s must not be negative", key, raw)
	}

	return value, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	if value < 0 {
		return 0, eris.Errorf("invalid %s value: %s must not be negative", key, raw)
	}

	return value, nil
}
