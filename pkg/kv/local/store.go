package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/logging"
)

type Store struct {
	db           *badger.DB
	logger       logging.Logger
	prefetchSize int
	path         string
	refCount     int
}

type EntriesIterator struct {
	txn          *badger.Txn
	iter         *badger.Iterator
	partitionKey []byte
	prefix       []byte
	start        []byte
	started      bool
	entry        *kv.Entry
	err          error
}

// composeKey prefixes key with the length-encoded partition key, so partitions never overlap.
func composeKey(partitionKey, key []byte) []byte {
	b := make([]byte, 0, 2+len(partitionKey)+len(key))
	b = binary.BigEndian.AppendUint16(b, uint16(len(partitionKey))) //nolint:gosec
	b = append(b, partitionKey...)
	return append(b, key...)
}

func (s *Store) Get(ctx context.Context, partitionKey, key []byte) (*kv.ValueWithPredicate, error) {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return nil, err
	}
	k := composeKey(partitionKey, key)
	log := s.logger.WithContext(ctx).WithField("key", string(key))
	log.Trace("get key")
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("key=%s: %w", key, kv.ErrNotFound)
	}
	if err != nil {
		log.WithError(err).Error("failed to get key")
		return nil, fmt.Errorf("get key=%s: %w: %s", key, kv.ErrOperationFailed, err)
	}
	return &kv.ValueWithPredicate{
		Value:     value,
		Predicate: kv.Predicate(value),
	}, nil
}

func (s *Store) Set(ctx context.Context, partitionKey, key, value []byte) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	k := composeKey(partitionKey, key)
	log := s.logger.WithContext(ctx).WithField("key", string(key))
	log.Trace("set key")
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, value)
	})
	if err != nil {
		log.WithError(err).Error("failed to set key")
		return fmt.Errorf("set key=%s: %w: %s", key, kv.ErrOperationFailed, err)
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
	k := composeKey(partitionKey, key)
	log := s.logger.WithContext(ctx).WithFields(logging.Fields{"key": string(key), "predicate": valuePredicate})
	log.Trace("set if key")
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if valuePredicate != nil {
				return kv.ErrPredicateFailed
			}
		case err != nil:
			return err
		case valuePredicate == nil:
			return kv.ErrPredicateFailed
		default:
			current, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pred, ok := valuePredicate.([]byte)
			if !ok || !bytes.Equal(current, pred) {
				return kv.ErrPredicateFailed
			}
		}
		return txn.Set(k, value)
	})
	// a concurrent writer committed the same key first
	if errors.Is(err, kv.ErrPredicateFailed) || errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("key=%s: %w", key, kv.ErrPredicateFailed)
	}
	if err != nil {
		log.WithError(err).Error("failed to set if key")
		return fmt.Errorf("set if key=%s: %w: %s", key, kv.ErrOperationFailed, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, partitionKey, key []byte) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	k := composeKey(partitionKey, key)
	log := s.logger.WithContext(ctx).WithField("key", string(key))
	log.Trace("delete key")
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
	if err != nil {
		log.WithError(err).Error("failed to delete key")
		return fmt.Errorf("delete key=%s: %w: %s", key, kv.ErrOperationFailed, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, partitionKey, start []byte) (kv.EntriesIterator, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	s.logger.WithContext(ctx).WithFields(logging.Fields{
		"partition_key": string(partitionKey),
		"start":         string(start),
	}).Trace("scan")
	prefix := composeKey(partitionKey, nil)
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = s.prefetchSize
	opts.Prefix = prefix
	return &EntriesIterator{
		txn:          txn,
		iter:         txn.NewIterator(opts),
		partitionKey: partitionKey,
		prefix:       prefix,
		start:        composeKey(partitionKey, start),
	}, nil
}

// Close releases one reference to the shared connection, closing the database with the last one.
func (s *Store) Close() {
	driverLock.Lock()
	defer driverLock.Unlock()
	s.refCount--
	if s.refCount > 0 {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Error("failed to close database")
	}
	delete(connectionMap, s.path)
}

func (e *EntriesIterator) Next() bool {
	if e.err != nil || e.iter == nil {
		return false
	}
	if !e.started {
		e.started = true
		e.iter.Seek(e.start)
	} else {
		e.iter.Next()
	}
	if !e.iter.ValidForPrefix(e.prefix) {
		e.entry = nil
		return false
	}
	item := e.iter.Item()
	value, err := item.ValueCopy(nil)
	if err != nil {
		e.entry = nil
		e.err = err
		return false
	}
	e.entry = &kv.Entry{
		PartitionKey: e.partitionKey,
		Key:          item.KeyCopy(nil)[len(e.prefix):],
		Value:        value,
	}
	return true
}

func (e *EntriesIterator) Entry() *kv.Entry {
	return e.entry
}

func (e *EntriesIterator) Err() error {
	return e.err
}

func (e *EntriesIterator) Close() {
	if e.iter == nil {
		return
	}
	e.iter.Close()
	e.txn.Discard()
	e.iter = nil
	e.entry = nil
	e.err = kv.ErrClosedEntries
}
