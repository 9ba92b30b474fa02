package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
	"github.com/unmanic/unmanic/pkg/logging"
)

const (
	DriverName          = "local"
	DefaultPrefetchSize = 256
)

var (
	driverLock    = &sync.Mutex{}
	connectionMap = make(map[string]*Store)
)

type Driver struct{}

//nolint:gochecknoinits
func init() {
	kv.Register(DriverName, &Driver{})
}

// Open returns the store for params.Local.Path. Badger allows a single process handle per directory,
// so stores opened on the same path share a reference-counted connection.
func (d *Driver) Open(ctx context.Context, kvParams kvparams.Config) (kv.Store, error) {
	params := kvParams.Local
	if params == nil || params.Path == "" {
		return nil, fmt.Errorf("missing %s settings: %w", DriverName, kv.ErrDriverConfiguration)
	}
	driverLock.Lock()
	defer driverLock.Unlock()
	connection, ok := connectionMap[params.Path]
	if !ok {
		// no database open for this path
		logger := logging.Dummy()
		if params.EnableLogging {
			logger = logging.FromContext(ctx).WithField(logging.StoreFieldKey, DriverName)
		}
		opts := badger.DefaultOptions(params.Path).
			WithSyncWrites(params.SyncWrites).
			WithLogger(&BadgerLogger{logger})
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w: %s", params.Path, kv.ErrConnectFailed, err)
		}
		prefetchSize := params.PrefetchSize
		if prefetchSize <= 0 {
			prefetchSize = DefaultPrefetchSize
		}
		connection = &Store{
			db:           db,
			logger:       logger,
			prefetchSize: prefetchSize,
			path:         params.Path,
		}
		connectionMap[params.Path] = connection
	}
	connection.refCount++
	return connection, nil
}
