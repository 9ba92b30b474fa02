package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
	_ "modernc.org/sqlite"
)

const (
	DriverName = "sqlite"

	DefaultBusyTimeout  = 5 * time.Second
	DefaultScanPageSize = 1000

	dirPermissions = 0o700
)

const setupTableQuery = `
CREATE TABLE IF NOT EXISTS kv (
    partition_key BLOB NOT NULL,
    key BLOB NOT NULL,
    value BLOB NOT NULL,
    PRIMARY KEY (partition_key, key)
) WITHOUT ROWID;
`

type Driver struct{}

// Store implements kv.Store over a single SQLite file.
type Store struct {
	sqlDB        *sql.DB
	path         string
	scanPageSize int
}

// EntriesIterator reads a partition in pages, so no statement is held open between pages.
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

//nolint:gochecknoinits
func init() {
	kv.Register(DriverName, &Driver{})
}

// Open opens the database file, creating it and its parent directory when missing.
func (d *Driver) Open(ctx context.Context, kvParams kvparams.Config) (kv.Store, error) {
	params := kvParams.Sqlite
	if params == nil || strings.TrimSpace(params.Path) == "" {
		return nil, fmt.Errorf("missing %s settings: %w", DriverName, kv.ErrDriverConfiguration)
	}
	cleanPath := filepath.Clean(params.Path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), dirPermissions); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w: %s", cleanPath, kv.ErrSetupFailed, err)
	}
	busyTimeout := params.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cleanPath, busyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w: %s", kv.ErrConnectFailed, err)
	}
	// a single writer avoids SQLITE_BUSY between connections of the same process
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w: %s", kv.ErrConnectFailed, err)
	}
	if _, err := sqlDB.ExecContext(ctx, setupTableQuery); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("setup sqlite db: %w: %s", kv.ErrSetupFailed, err)
	}

	scanPageSize := params.ScanPageSize
	if scanPageSize <= 0 {
		scanPageSize = DefaultScanPageSize
	}
	return &Store{
		sqlDB:        sqlDB,
		path:         cleanPath,
		scanPageSize: scanPageSize,
	}, nil
}

func (s *Store) Get(ctx context.Context, partitionKey, key []byte) (*kv.ValueWithPredicate, error) {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return nil, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM kv WHERE partition_key = ? AND key = ?`, partitionKey, key)
	var val []byte
	err := row.Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
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
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO kv(partition_key, key, value) VALUES (?1, ?2, ?3)
		ON CONFLICT (partition_key, key) DO UPDATE SET value = ?3`, partitionKey, key, value)
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
		res sql.Result
		err error
	)
	if valuePredicate == nil {
		res, err = s.sqlDB.ExecContext(ctx, `INSERT INTO kv(partition_key, key, value) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING`, partitionKey, key, value)
	} else {
		pred, ok := valuePredicate.([]byte)
		if !ok {
			return fmt.Errorf("predicate type %T: %w", valuePredicate, kv.ErrPredicateFailed)
		}
		res, err = s.sqlDB.ExecContext(ctx, `UPDATE kv SET value = ? WHERE partition_key = ? AND key = ? AND value = ?`,
			value, partitionKey, key, pred)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	if affected != 1 {
		return fmt.Errorf("key=%s: %w", key, kv.ErrPredicateFailed)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, partitionKey, key []byte) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv WHERE partition_key = ? AND key = ?`, partitionKey, key)
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
	it.loadPage()
	if it.err != nil {
		return nil, it.err
	}
	return it, nil
}

func (s *Store) Close() {
	_ = s.sqlDB.Close()
}

func (e *EntriesIterator) loadPage() {
	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case e.afterStart:
		rows, err = e.store.sqlDB.QueryContext(e.ctx, `SELECT key, value FROM kv
			WHERE partition_key = ? AND key > ? ORDER BY key LIMIT ?`,
			e.partitionKey, e.start, e.store.scanPageSize)
	case len(e.start) > 0:
		rows, err = e.store.sqlDB.QueryContext(e.ctx, `SELECT key, value FROM kv
			WHERE partition_key = ? AND key >= ? ORDER BY key LIMIT ?`,
			e.partitionKey, e.start, e.store.scanPageSize)
	default:
		rows, err = e.store.sqlDB.QueryContext(e.ctx, `SELECT key, value FROM kv
			WHERE partition_key = ? ORDER BY key LIMIT ?`,
			e.partitionKey, e.store.scanPageSize)
	}
	if err != nil {
		e.err = fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
		return
	}
	defer func() { _ = rows.Close() }()
	e.entries = make([]kv.Entry, 0, e.store.scanPageSize)
	for rows.Next() {
		ent := kv.Entry{PartitionKey: e.partitionKey}
		if err := rows.Scan(&ent.Key, &ent.Value); err != nil {
			e.err = fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
			return
		}
		e.entries = append(e.entries, ent)
	}
	if err := rows.Err(); err != nil {
		e.err = fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
		return
	}
	e.current = -1
	e.done = len(e.entries) < e.store.scanPageSize
	if len(e.entries) > 0 {
		e.start = e.entries[len(e.entries)-1].Key
		e.afterStart = true
	}
}

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
