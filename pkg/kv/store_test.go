package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
	"github.com/unmanic/unmanic/pkg/kv/kvtest"
	"github.com/unmanic/unmanic/pkg/kv/mem"
)

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := kv.Open(context.Background(), kvparams.Config{Type: "no-such-driver"})
	require.ErrorIs(t, err, kv.ErrUnknownDriver)
}

func TestDrivers(t *testing.T) {
	require.Contains(t, kv.Drivers(), "mem")
}

func TestRegister_Duplicate(t *testing.T) {
	require.Panics(t, func() {
		kv.Register("mem", &struct{ kv.Driver }{})
	})
}

func TestUnregisterAllDrivers(t *testing.T) {
	t.Cleanup(func() {
		kv.UnregisterAllDrivers()
		kv.Register(mem.DriverName, &mem.Driver{})
	})

	kv.UnregisterAllDrivers()
	require.Empty(t, kv.Drivers())
	_, err := kv.Open(context.Background(), kvparams.Config{Type: mem.DriverName})
	require.ErrorIs(t, err, kv.ErrUnknownDriver)

	kv.Register("scratch", &mem.Driver{})
	require.Equal(t, []string{"scratch"}, kv.Drivers())
	store, err := kv.Open(context.Background(), kvparams.Config{Type: "scratch"})
	require.NoError(t, err)
	store.Close()
}

func TestOpen_MetricsWrapper(t *testing.T) {
	ctx := context.Background()
	store := kvtest.GetStore(ctx, t)
	_, ok := store.(*kv.StoreMetricsWrapper)
	require.True(t, ok, "store should be wrapped with metrics, got %T", store)

	require.NoError(t, store.Set(ctx, []byte("p"), []byte("k"), []byte("v")))
	_, err := store.Get(ctx, []byte("p"), []byte("missing"))
	require.ErrorIs(t, err, kv.ErrNotFound)
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "kv_request_duration_seconds")
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 2)
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name         string
		partitionKey []byte
		key          []byte
		expectedErr  error
	}{
		{name: "valid", partitionKey: []byte("p"), key: []byte("k")},
		{name: "missing_partition", key: []byte("k"), expectedErr: kv.ErrMissingPartitionKey},
		{name: "missing_key", partitionKey: []byte("p"), expectedErr: kv.ErrMissingKey},
		{name: "empty_key", partitionKey: []byte("p"), key: []byte{}, expectedErr: kv.ErrMissingKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := kv.ValidateArgs(tt.partitionKey, tt.key)
			if !errors.Is(err, tt.expectedErr) {
				t.Fatalf("ValidateArgs err=%v, expected=%v", err, tt.expectedErr)
			}
		})
	}
}

func TestFormatPath(t *testing.T) {
	require.Equal(t, "records/abc", kv.FormatPath("records", "abc"))
	require.Equal(t, "single", kv.FormatPath("single"))
}
