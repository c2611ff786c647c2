package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Ledger       LedgerConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"ARMORY_APP_ENV" required:"true"`
	Port         string   `envconfig:"ARMORY_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"ARMORY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"ARMORY_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"ARMORY_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"ARMORY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ARMORY_DB_DSN" required:"true"`
	Driver string `envconfig:"ARMORY_DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"ARMORY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ARMORY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ARMORY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ARMORY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the ledger is backed by a local SQLite file.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

func (db DBConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(db.Driver)) {
	case DriverPostgres, DriverSQLite:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvDBDriver, DriverPostgres, DriverSQLite, db.Driver)
	}
}

// RedisConfig is optional: with neither URL nor address set, the service runs
// single-instance with in-process locks and no idempotency cache.
type RedisConfig struct {
	URL          string        `envconfig:"ARMORY_REDIS_URL"`
	Address      string        `envconfig:"ARMORY_REDIS_ADDR"`
	Password     string        `envconfig:"ARMORY_REDIS_PASSWORD"`
	DB           int           `envconfig:"ARMORY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ARMORY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ARMORY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ARMORY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ARMORY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ARMORY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type LedgerConfig struct {
	ConflictRetries int           `envconfig:"ARMORY_LEDGER_CONFLICT_RETRIES" default:"3"`
	StorageRetries  int           `envconfig:"ARMORY_LEDGER_STORAGE_RETRIES" default:"3"`
	RetryBackoff    time.Duration `envconfig:"ARMORY_LEDGER_RETRY_BACKOFF" default:"50ms"`
	MaxBackoff      time.Duration `envconfig:"ARMORY_LEDGER_MAX_BACKOFF" default:"1s"`
	LockTTL         time.Duration `envconfig:"ARMORY_LEDGER_LOCK_TTL" default:"10s"`
	LockWait        time.Duration `envconfig:"ARMORY_LEDGER_LOCK_WAIT" default:"2s"`
	ReadBatch       int           `envconfig:"ARMORY_LEDGER_READ_BATCH" default:"500"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"ARMORY_RATE_LIMIT_RPS" default:"20"`
	Burst             int     `envconfig:"ARMORY_RATE_LIMIT_BURST" default:"40"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ARMORY_AUTO_MIGRATE" default:"false"`
}
