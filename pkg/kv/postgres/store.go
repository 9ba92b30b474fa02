package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
	"github.com/unmanic/unmanic/pkg/logging"
)

type Driver struct{}

type Store struct {
	Pool   *pgxpool.Pool
	Params *Params

	logger    logging.Logger
	collector prometheus.Collector
}

// poolCollectors tracks open stores per table. The first open store of a table exports the pool
// stats, and hands over to the next open store when it closes.
var poolCollectors = struct {
	sync.Mutex
	byTable map[string][]*Store
}{byTable: make(map[string][]*Store)}

type Params struct {
	TableName          string
	SanitizedTableName string
	ScanPageSize       int
}

type entryRow struct {
	Key   []byte `db:"key"`
	Value []byte `db:"value"`
}

// EntriesIterator reads a partition in pages of ScanPageSize rows, so no cursor is held between pages.
type EntriesIterator struct {
	ctx          context.Context
	store        *Store
	partitionKey []byte
	start        []byte
	afterStart   bool
	entries      []kv.Entry
	current      int
	done         bool
	err          error
}

const (
	DriverName = "postgres"

	DefaultTableName    = "kv"
	DefaultScanPageSize = 1000

	paramTableName = "unmanic_kv_table"
)

//nolint:gochecknoinits
func init() {
	kv.Register(DriverName, &Driver{})
}

func (d *Driver) Open(ctx context.Context, kvParams kvparams.Config) (kv.Store, error) {
	if kvParams.Postgres == nil || kvParams.Postgres.ConnectionString == "" {
		return nil, fmt.Errorf("missing %s settings: %w", DriverName, kv.ErrDriverConfiguration)
	}
	config, err := pgxpool.ParseConfig(kvParams.Postgres.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrDriverConfiguration, err)
	}
	if kvParams.Postgres.MaxOpenConnections > 0 {
		config.MaxConns = kvParams.Postgres.MaxOpenConnections
	}
	if kvParams.Postgres.MaxIdleConnections > 0 {
		config.MinConns = min(kvParams.Postgres.MaxIdleConnections, config.MaxConns)
	}
	if kvParams.Postgres.ConnectionMaxLifetime > 0 {
		config.MaxConnLifetime = kvParams.Postgres.ConnectionMaxLifetime
	}
	params := parseStoreConfig(config.ConnConfig.RuntimeParams, kvParams.Postgres)
	// the table name is ours, not a server setting
	delete(config.ConnConfig.RuntimeParams, paramTableName)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrConnectFailed, err)
	}
	defer func() {
		// if we return before store uses the pool, free it
		if pool != nil {
			pool.Close()
		}
	}()

	// acquire connection and make sure we reach the database
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrConnectFailed, err)
	}
	defer conn.Release()
	err = conn.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrConnectFailed, err)
	}

	err = setupKeyValueDatabase(ctx, conn, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrSetupFailed, err)
	}
	store := &Store{
		Pool:   pool,
		Params: params,
		logger: logging.FromContext(ctx).WithField(logging.StoreFieldKey, DriverName),
	}
	store.registerPoolCollector()
	pool = nil
	return store, nil
}

func (s *Store) registerPoolCollector() {
	poolCollectors.Lock()
	defer poolCollectors.Unlock()
	stores := append(poolCollectors.byTable[s.Params.TableName], s)
	poolCollectors.byTable[s.Params.TableName] = stores
	if len(stores) == 1 {
		s.exportPoolStats()
	}
}

func (s *Store) unregisterPoolCollector() {
	poolCollectors.Lock()
	defer poolCollectors.Unlock()
	table := s.Params.TableName
	stores := slices.DeleteFunc(poolCollectors.byTable[table], func(o *Store) bool { return o == s })
	if len(stores) == 0 {
		delete(poolCollectors.byTable, table)
	} else {
		poolCollectors.byTable[table] = stores
	}
	if s.collector == nil {
		return
	}
	prometheus.Unregister(s.collector)
	s.collector = nil
	if len(stores) > 0 {
		stores[0].exportPoolStats()
	}
}

// exportPoolStats registers the pool stats collector labeled by table, called with poolCollectors held.
func (s *Store) exportPoolStats() {
	collector := pgxpoolprometheus.NewCollector(s.Pool, map[string]string{"db_name": s.Params.TableName})
	if err := prometheus.Register(collector); err != nil {
		s.logger.WithError(err).WithField("table", s.Params.TableName).Debug("Pool stats collector not registered")
		return
	}
	s.collector = collector
}

func parseStoreConfig(runtimeParams map[string]string, pgParams *kvparams.Postgres) *Params {
	p := &Params{
		TableName:    DefaultTableName,
		ScanPageSize: DefaultScanPageSize,
	}
	if tableName, ok := runtimeParams[paramTableName]; ok {
		p.TableName = tableName
	}
	if pgParams.ScanPageSize > 0 {
		p.ScanPageSize = pgParams.ScanPageSize
	}
	p.SanitizedTableName = pgx.Identifier{p.TableName}.Sanitize()
	return p
}

// setupKeyValueDatabase setup everything required to enable kv over postgres
func setupKeyValueDatabase(ctx context.Context, conn *pgxpool.Conn, params *Params) error {
	_, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+params.SanitizedTableName+` (
    partition_key BYTEA NOT NULL,
    key BYTEA NOT NULL,
    value BYTEA NOT NULL,
    PRIMARY KEY (partition_key, key));`)
	return err
}

func (s *Store) Get(ctx context.Context, partitionKey, key []byte) (*kv.ValueWithPredicate, error) {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return nil, err
	}
	row := s.Pool.QueryRow(ctx, `SELECT value FROM `+s.Params.SanitizedTableName+` WHERE partition_key = $1 AND key = $2`,
		partitionKey, key)
	var val []byte
	err := row.Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("key=%s: %w", key, kv.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	return &kv.ValueWithPredicate{
		Value:     val,
		Predicate: kv.Predicate(val),
	}, nil
}

func (s *Store) Set(ctx context.Context, partitionKey, key, value []byte) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO `+s.Params.SanitizedTableName+`(partition_key,key,value) VALUES($1,$2,$3)
			ON CONFLICT (partition_key,key) DO UPDATE SET value = $3`, partitionKey, key, value)
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	return nil
}

func (s *Store) SetIf(ctx context.Context, partitionKey, key, value []byte, valuePredicate kv.Predicate) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	var (
		res pgconn.CommandTag
		err error
	)
	if valuePredicate == nil {
		// use insert to make sure there was no previous value before
		res, err = s.Pool.Exec(ctx, `INSERT INTO `+s.Params.SanitizedTableName+`(partition_key,key,value) VALUES($1,$2,$3)
			ON CONFLICT DO NOTHING`, partitionKey, key, value)
	} else {
		pred, ok := valuePredicate.([]byte)
		if !ok {
			return fmt.Errorf("predicate type %T: %w", valuePredicate, kv.ErrPredicateFailed)
		}
		// update just in case the previous value was same as predicate value
		res, err = s.Pool.Exec(ctx, `UPDATE `+s.Params.SanitizedTableName+` SET value=$3
			WHERE partition_key=$1 AND key=$2 AND value=$4`, partitionKey, key, value, pred)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("key=%s: %w", key, kv.ErrPredicateFailed)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, partitionKey, key []byte) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	_, err := s.Pool.Exec(ctx, `DELETE FROM `+s.Params.SanitizedTableName+` WHERE partition_key=$1 AND key=$2`,
		partitionKey, key)
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, partitionKey, start []byte) (kv.EntriesIterator, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	it := &EntriesIterator{
		ctx:          ctx,
		store:        s,
		partitionKey: partitionKey,
		start:        start,
		current:      -1,
	}
	// load the first page eagerly so connection errors surface from Scan
	it.loadPage()
	if it.err != nil {
		return nil, it.err
	}
	return it, nil
}

func (s *Store) Close() {
	s.unregisterPoolCollector()
	s.Pool.Close()
}

func (e *EntriesIterator) loadPage() {
	var (
		rows  pgx.Rows
		err   error
		table = e.store.Params.SanitizedTableName
	)
	switch {
	case e.afterStart:
		rows, err = e.store.Pool.Query(e.ctx, `SELECT key,value FROM `+table+`
			WHERE partition_key=$1 AND key > $2 ORDER BY key LIMIT $3`,
			e.partitionKey, e.start, e.store.Params.ScanPageSize)
	case len(e.start) > 0:
		rows, err = e.store.Pool.Query(e.ctx, `SELECT key,value FROM `+table+`
			WHERE partition_key=$1 AND key >= $2 ORDER BY key LIMIT $3`,
			e.partitionKey, e.start, e.store.Params.ScanPageSize)
	default:
		rows, err = e.store.Pool.Query(e.ctx, `SELECT key,value FROM `+table+`
			WHERE partition_key=$1 ORDER BY key LIMIT $2`,
			e.partitionKey, e.store.Params.ScanPageSize)
	}
	if err != nil {
		e.err = fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
		return
	}
	var page []entryRow
	if err := pgxscan.ScanAll(&page, rows); err != nil {
		e.err = fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
		return
	}
	e.entries = make([]kv.Entry, 0, len(page))
	for _, r := range page {
		e.entries = append(e.entries, kv.Entry{PartitionKey: e.partitionKey, Key: r.Key, Value: r.Value})
	}
	e.current = -1
	e.done = len(e.entries) < e.store.Params.ScanPageSize
	if len(e.entries) > 0 {
		e.start = e.entries[len(e.entries)-1].Key
		e.afterStart = true
	}
}

// Next reads the next key/value.
func (e *EntriesIterator) Next() bool {
	if e.err != nil {
		return false
	}
	if e.current+1 >= len(e.entries) {
		if e.done {
			e.current = len(e.entries)
			return false
		}
		e.loadPage()
		if e.err != nil || len(e.entries) == 0 {
			return false
		}
	}
	e.current++
	return true
}

func (e *EntriesIterator) Entry() *kv.Entry {
	if e.err != nil || e.current < 0 || e.current >= len(e.entries) {
		return nil
	}
	return &e.entries[e.current]
}

func (e *EntriesIterator) Err() error {
	return e.err
}

func (e *EntriesIterator) Close() {
	e.entries = nil
	e.err = kv.ErrClosedEntries
}
