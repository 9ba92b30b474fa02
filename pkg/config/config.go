package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/unmanic/unmanic/pkg/logging"
)

var (
	ErrBadConfiguration    = errors.New("bad configuration")
	ErrUnknownDatabaseType = fmt.Errorf("%w: unknown database type", ErrBadConfiguration)
	ErrMissingConnection   = fmt.Errorf("%w: database.postgres.connection_string cannot be empty", ErrBadConfiguration)
	ErrInvalidFixedID      = fmt.Errorf("%w: installation.fixed_id is not a valid UUID", ErrBadConfiguration)
)

const (
	DatabaseTypeMem      = "mem"
	DatabaseTypeLocal    = "local"
	DatabaseTypeSqlite   = "sqlite"
	DatabaseTypePostgres = "postgres"
)

var databaseTypes = []string{DatabaseTypeMem, DatabaseTypeLocal, DatabaseTypeSqlite, DatabaseTypePostgres}

type Local struct {
	Path          string `mapstructure:"path"`
	PrefetchSize  int    `mapstructure:"prefetch_size"`
	SyncWrites    bool   `mapstructure:"sync_writes"`
	EnableLogging bool   `mapstructure:"enable_logging"`
}

type Sqlite struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type Postgres struct {
	ConnectionString      SecureString  `mapstructure:"connection_string"`
	MaxOpenConnections    int32         `mapstructure:"max_open_connections"`
	MaxIdleConnections    int32         `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
}

// Config - Output struct of configuration, used to validate.  If you read a key using a viper accessor
// rather than accessing a field of this struct, that key will *not* be validated.  So don't
// do that.
type Config struct {
	Logging struct {
		Format        string  `mapstructure:"format"`
		Level         string  `mapstructure:"level"`
		Output        Strings `mapstructure:"output"`
		FileMaxSizeMB int     `mapstructure:"file_max_size_mb"`
		FilesKeep     int     `mapstructure:"files_keep"`
	} `mapstructure:"logging"`
	Database struct {
		Type     string    `mapstructure:"type"`
		Local    *Local    `mapstructure:"local"`
		Sqlite   *Sqlite   `mapstructure:"sqlite"`
		Postgres *Postgres `mapstructure:"postgres"`
	} `mapstructure:"database"`
	Installation struct {
		// FixedID is used instead of a random identifier when a new installation record is created
		FixedID string `mapstructure:"fixed_id"`
	} `mapstructure:"installation"`
	Session struct {
		DevAPI  string        `mapstructure:"dev_api"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"session"`
}

// NewConfig reads the configuration currently loaded into viper, applying defaults, and sets up
// the default logger from it.
func NewConfig() (*Config, error) {
	c := &Config{}

	// Inform viper of all expected fields.  Otherwise, it fails to deserialize from the
	// environment.
	keys := GetStructKeys(reflect.TypeOf(c), "mapstructure", "squash")
	for _, key := range keys {
		viper.SetDefault(key, nil)
	}
	setDefaults()

	err := viper.UnmarshalExact(c, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			DecodeStrings, mapstructure.StringToTimeDurationHookFunc())))
	if err != nil {
		return nil, err
	}

	if err := c.setupLogger(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if !slices.Contains(databaseTypes, c.Database.Type) {
		return fmt.Errorf("%w: '%s' (expected one of %s)", ErrUnknownDatabaseType, c.Database.Type, strings.Join(databaseTypes, ", "))
	}
	if c.Database.Type == DatabaseTypePostgres &&
		(c.Database.Postgres == nil || c.Database.Postgres.ConnectionString.SecureValue() == "") {
		return ErrMissingConnection
	}
	if c.Installation.FixedID != "" {
		if _, err := uuid.Parse(c.Installation.FixedID); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidFixedID, err)
		}
	}
	return nil
}

// ToLoggerFields flattens the configuration into dotted keys.  Secrets are elided by their
// String method.
func (c *Config) ToLoggerFields() logging.Fields {
	fields := logging.Fields{}
	appendLoggerFields(reflect.ValueOf(c), nil, fields)
	return fields
}

func appendLoggerFields(v reflect.Value, prefix []string, fields logging.Fields) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		key := strings.Join(prefix, sep)
		if s, ok := v.Interface().(fmt.Stringer); ok {
			fields[key] = s.String()
		} else {
			fields[key] = v.Interface()
		}
		return
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, ok := t.Field(i).Tag.Lookup("mapstructure")
		if !ok {
			name = t.Field(i).Name
		}
		appendLoggerFields(v.Field(i), append(slices.Clone(prefix), name), fields)
	}
}
