package kvparams

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/unmanic/unmanic/pkg/config"
)

type Config struct {
	Type     string
	Local    *Local
	Sqlite   *Sqlite
	Postgres *Postgres
}

type Local struct {
	// Path - Local directory path to store the DB files
	Path string
	// SyncWrites - Sync ensures data written to disk on each writing instead of mem cache
	SyncWrites bool
	// PrefetchSize - Number of elements to prefetch while iterating
	PrefetchSize int
	// EnableLogging - Enable store and badger (trace only) logging
	EnableLogging bool
}

type Sqlite struct {
	// Path - database file, created with its parent directory when missing
	Path        string
	BusyTimeout time.Duration
	// ScanPageSize - rows fetched per query while iterating
	ScanPageSize int
}

type Postgres struct {
	ConnectionString      string
	MaxOpenConnections    int32
	MaxIdleConnections    int32
	ConnectionMaxLifetime time.Duration
	ScanPageSize          int
}

func NewConfig(cfg *config.Config) (Config, error) {
	p := Config{
		Type: cfg.Database.Type,
	}
	if cfg.Database.Local != nil {
		localPath, err := homedir.Expand(cfg.Database.Local.Path)
		if err != nil {
			return Config{}, fmt.Errorf("parse database local path '%s': %w", cfg.Database.Local.Path, err)
		}
		p.Local = &Local{
			Path:          localPath,
			SyncWrites:    cfg.Database.Local.SyncWrites,
			PrefetchSize:  cfg.Database.Local.PrefetchSize,
			EnableLogging: cfg.Database.Local.EnableLogging,
		}
	}

	if cfg.Database.Sqlite != nil {
		sqlitePath, err := homedir.Expand(cfg.Database.Sqlite.Path)
		if err != nil {
			return Config{}, fmt.Errorf("parse database sqlite path '%s': %w", cfg.Database.Sqlite.Path, err)
		}
		p.Sqlite = &Sqlite{
			Path:        sqlitePath,
			BusyTimeout: cfg.Database.Sqlite.BusyTimeout,
		}
	}

	if cfg.Database.Postgres != nil {
		p.Postgres = &Postgres{
			ConnectionString:      cfg.Database.Postgres.ConnectionString.SecureValue(),
			MaxOpenConnections:    cfg.Database.Postgres.MaxOpenConnections,
			MaxIdleConnections:    cfg.Database.Postgres.MaxIdleConnections,
			ConnectionMaxLifetime: cfg.Database.Postgres.ConnectionMaxLifetime,
		}
	}
	return p, nil
}
