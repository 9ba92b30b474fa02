package mem

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
)

const DriverName = "mem"

type Driver struct{}

type partition struct {
	keys   []string
	values map[string][]byte
}

type Store struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

type EntriesIterator struct {
	entries []kv.Entry
	current int
	err     error
}

//nolint:gochecknoinits
func init() {
	kv.Register(DriverName, &Driver{})
}

// Open returns a new, empty store. Each call gets its own storage.
func (d *Driver) Open(_ context.Context, _ kvparams.Config) (kv.Store, error) {
	return New(), nil
}

func New() *Store {
	return &Store{partitions: make(map[string]*partition)}
}

func (s *Store) Get(_ context.Context, partitionKey, key []byte) (*kv.ValueWithPredicate, error) {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.lookup(partitionKey, key)
	if !ok {
		return nil, fmt.Errorf("key=%s: %w", key, kv.ErrNotFound)
	}
	return &kv.ValueWithPredicate{
		Value:     slices.Clone(value),
		Predicate: kv.Predicate(slices.Clone(value)),
	}, nil
}

func (s *Store) Set(_ context.Context, partitionKey, key, value []byte) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(partitionKey, key, value)
	return nil
}

func (s *Store) SetIf(_ context.Context, partitionKey, key, value []byte, valuePredicate kv.Predicate) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.lookup(partitionKey, key)
	if valuePredicate == nil {
		if exists {
			return fmt.Errorf("key=%s: %w", key, kv.ErrPredicateFailed)
		}
	} else {
		pred, ok := valuePredicate.([]byte)
		if !ok || !exists || !bytes.Equal(pred, current) {
			return fmt.Errorf("key=%s: %w", key, kv.ErrPredicateFailed)
		}
	}
	s.put(partitionKey, key, value)
	return nil
}

func (s *Store) Delete(_ context.Context, partitionKey, key []byte) error {
	if err := kv.ValidateArgs(partitionKey, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[string(partitionKey)]
	if !ok {
		return nil
	}
	k := string(key)
	if _, ok := p.values[k]; !ok {
		return nil
	}
	delete(p.values, k)
	if idx, found := slices.BinarySearch(p.keys, k); found {
		p.keys = slices.Delete(p.keys, idx, idx+1)
	}
	return nil
}

// Scan copies the matching entries under the read lock, so writes during iteration are not observed.
func (s *Store) Scan(_ context.Context, partitionKey, start []byte) (kv.EntriesIterator, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[string(partitionKey)]
	if !ok {
		return &EntriesIterator{current: -1}, nil
	}
	idx, _ := slices.BinarySearch(p.keys, string(start))
	entries := make([]kv.Entry, 0, len(p.keys)-idx)
	for _, k := range p.keys[idx:] {
		entries = append(entries, kv.Entry{
			PartitionKey: slices.Clone(partitionKey),
			Key:          []byte(k),
			Value:        slices.Clone(p.values[k]),
		})
	}
	return &EntriesIterator{entries: entries, current: -1}, nil
}

func (s *Store) Close() {}

func (s *Store) lookup(partitionKey, key []byte) ([]byte, bool) {
	p, ok := s.partitions[string(partitionKey)]
	if !ok {
		return nil, false
	}
	v, ok := p.values[string(key)]
	return v, ok
}

func (s *Store) put(partitionKey, key, value []byte) {
	p, ok := s.partitions[string(partitionKey)]
	if !ok {
		p = &partition{values: make(map[string][]byte)}
		s.partitions[string(partitionKey)] = p
	}
	k := string(key)
	if _, exists := p.values[k]; !exists {
		idx, _ := slices.BinarySearch(p.keys, k)
		p.keys = slices.Insert(p.keys, idx, k)
	}
	p.values[k] = slices.Clone(value)
}

func (e *EntriesIterator) Next() bool {
	if e.err != nil || e.current+1 >= len(e.entries) {
		return false
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
