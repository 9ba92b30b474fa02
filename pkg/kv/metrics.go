package kv

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestHistograms = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kv_request_duration_seconds",
			Help:    "request durations for the kv Store",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type", "operation"})

	requestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kv_request_failures_total",
			Help: "kv Store requests that returned an error other than not-found or predicate-failed",
		},
		[]string{"type", "operation"})
)

// StoreMetricsWrapper wraps any Store with metrics
type StoreMetricsWrapper struct {
	Store     Store
	storeType string
}

func newStoreMetricsWrapper(store Store, storeType string) *StoreMetricsWrapper {
	return &StoreMetricsWrapper{Store: store, storeType: storeType}
}

func (s *StoreMetricsWrapper) observe(op string, start time.Time, err error) {
	requestHistograms.WithLabelValues(s.storeType, op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrPredicateFailed) {
		requestFailures.WithLabelValues(s.storeType, op).Inc()
	}
}

func (s *StoreMetricsWrapper) Get(ctx context.Context, partitionKey, key []byte) (*ValueWithPredicate, error) {
	start := time.Now()
	res, err := s.Store.Get(ctx, partitionKey, key)
	s.observe("Get", start, err)
	return res, err
}

func (s *StoreMetricsWrapper) Set(ctx context.Context, partitionKey, key, value []byte) error {
	start := time.Now()
	err := s.Store.Set(ctx, partitionKey, key, value)
	s.observe("Set", start, err)
	return err
}

func (s *StoreMetricsWrapper) SetIf(ctx context.Context, partitionKey, key, value []byte, valuePredicate Predicate) error {
	start := time.Now()
	err := s.Store.SetIf(ctx, partitionKey, key, value, valuePredicate)
	s.observe("SetIf", start, err)
	return err
}

func (s *StoreMetricsWrapper) Delete(ctx context.Context, partitionKey, key []byte) error {
	start := time.Now()
	err := s.Store.Delete(ctx, partitionKey, key)
	s.observe("Delete", start, err)
	return err
}

func (s *StoreMetricsWrapper) Scan(ctx context.Context, partitionKey, start []byte) (EntriesIterator, error) {
	begin := time.Now()
	res, err := s.Store.Scan(ctx, partitionKey, start)
	s.observe("Scan", begin, err)
	return res, err
}

func (s *StoreMetricsWrapper) Close() {
	s.Store.Close()
}
