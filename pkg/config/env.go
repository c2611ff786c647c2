package config

// EnvPrefix is handed to envconfig; every field carries an explicit name so the
// prefix only matters for unnamed fields.
const EnvPrefix = "ARMORY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv       = "ARMORY_APP_ENV"
	EnvPort         = "ARMORY_APP_PORT"
	EnvLogLevel     = "ARMORY_LOG_LEVEL"
	EnvDBDSN        = "ARMORY_DB_DSN"
	EnvDBDriver     = "ARMORY_DB_DRIVER"
	EnvRedisURL     = "ARMORY_REDIS_URL"
	EnvConflictTry  = "ARMORY_LEDGER_CONFLICT_RETRIES"
	EnvStorageTry   = "ARMORY_LEDGER_STORAGE_RETRIES"
	EnvRetryBackoff = "ARMORY_LEDGER_RETRY_BACKOFF"
	EnvLockWait     = "ARMORY_LEDGER_LOCK_WAIT"
	EnvAutoMigrate  = "ARMORY_AUTO_MIGRATE"
)
