package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	LoggingFormatKey        = "logging.format"
	DefaultLoggingFormat    = "text"
	LoggingLevelKey         = "logging.level"
	DefaultLoggingLevel     = "INFO"
	LoggingOutputKey        = "logging.output"
	DefaultLoggingOutput    = "-"
	LoggingFileMaxSizeMBKey = "logging.file_max_size_mb"
	DefaultLoggingMaxSizeMB = 100
	LoggingFilesKeepKey     = "logging.files_keep"
	DefaultLoggingFilesKeep = 10

	DatabaseTypeKey     = "database.type"
	DefaultDatabaseType = DatabaseTypeSqlite

	DatabaseLocalPathKey     = "database.local.path"
	DefaultDatabaseLocalPath = "~/.unmanic/kv"

	DatabaseLocalPrefetchSizeKey     = "database.local.prefetch_size"
	DefaultDatabaseLocalPrefetchSize = 256

	DatabaseLocalSyncWritesKey     = "database.local.sync_writes"
	DefaultDatabaseLocalSyncWrites = true

	DatabaseSqlitePathKey     = "database.sqlite.path"
	DefaultDatabaseSqlitePath = "~/.unmanic/config/installation.db"

	DatabaseSqliteBusyTimeoutKey     = "database.sqlite.busy_timeout"
	DefaultDatabaseSqliteBusyTimeout = 5 * time.Second

	DatabasePostgresMaxOpenConnectionsKey     = "database.postgres.max_open_connections"
	DefaultDatabasePostgresMaxOpenConnections = 25

	DatabasePostgresMaxIdleConnectionsKey     = "database.postgres.max_idle_connections"
	DefaultDatabasePostgresMaxIdleConnections = 25

	DatabasePostgresConnectionMaxLifetimeKey     = "database.postgres.connection_max_lifetime"
	DefaultDatabasePostgresConnectionMaxLifetime = "5m"

	SessionTimeoutKey     = "session.timeout"
	DefaultSessionTimeout = 30 * time.Second
)

func setDefaults() {
	viper.SetDefault(LoggingFormatKey, DefaultLoggingFormat)
	viper.SetDefault(LoggingLevelKey, DefaultLoggingLevel)
	viper.SetDefault(LoggingOutputKey, DefaultLoggingOutput)
	viper.SetDefault(LoggingFileMaxSizeMBKey, DefaultLoggingMaxSizeMB)
	viper.SetDefault(LoggingFilesKeepKey, DefaultLoggingFilesKeep)

	viper.SetDefault(DatabaseTypeKey, DefaultDatabaseType)
	viper.SetDefault(DatabaseLocalPathKey, DefaultDatabaseLocalPath)
	viper.SetDefault(DatabaseLocalPrefetchSizeKey, DefaultDatabaseLocalPrefetchSize)
	viper.SetDefault(DatabaseLocalSyncWritesKey, DefaultDatabaseLocalSyncWrites)
	viper.SetDefault(DatabaseSqlitePathKey, DefaultDatabaseSqlitePath)
	viper.SetDefault(DatabaseSqliteBusyTimeoutKey, DefaultDatabaseSqliteBusyTimeout)
	viper.SetDefault(DatabasePostgresMaxOpenConnectionsKey, DefaultDatabasePostgresMaxOpenConnections)
	viper.SetDefault(DatabasePostgresMaxIdleConnectionsKey, DefaultDatabasePostgresMaxIdleConnections)
	viper.SetDefault(DatabasePostgresConnectionMaxLifetimeKey, DefaultDatabasePostgresConnectionMaxLifetime)

	viper.SetDefault(SessionTimeoutKey, DefaultSessionTimeout)
}
