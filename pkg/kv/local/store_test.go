package local_test

import (
	"context"
	"testing"

	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
	"github.com/unmanic/unmanic/pkg/kv/kvtest"
	"github.com/unmanic/unmanic/pkg/kv/local"
)

func TestLocalKV(t *testing.T) {
	path := t.TempDir()
	kvtest.DriverTest(t, func(t *testing.T, ctx context.Context) kv.Store {
		t.Helper()
		store, err := kv.Open(ctx, kvparams.Config{
			Type: local.DriverName,
			Local: &kvparams.Local{
				Path:          path,
				PrefetchSize:  16,
				EnableLogging: true,
			},
		})
		if err != nil {
			t.Fatalf("failed to open kv '%s' store: %s", local.DriverName, err)
		}
		return store
	})
}

func TestLocalKV_SharedConnection(t *testing.T) {
	ctx := context.Background()
	params := kvparams.Config{
		Type:  local.DriverName,
		Local: &kvparams.Local{Path: t.TempDir()},
	}
	store1, err := kv.Open(ctx, params)
	if err != nil {
		t.Fatalf("failed to open first store: %s", err)
	}
	store2, err := kv.Open(ctx, params)
	if err != nil {
		t.Fatalf("failed to open second store on the same path: %s", err)
	}
	partitionKey := []byte("installation")
	if err := store1.Set(ctx, partitionKey, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("set on first store: %s", err)
	}
	store1.Close()

	// the connection stays open while store2 holds a reference
	res, err := store2.Get(ctx, partitionKey, []byte("k"))
	if err != nil {
		t.Fatalf("get on second store after first closed: %s", err)
	}
	if string(res.Value) != "v" {
		t.Fatalf("value='%s', expected 'v'", res.Value)
	}
	store2.Close()
}

func TestLocalKV_MissingSettings(t *testing.T) {
	_, err := kv.Open(context.Background(), kvparams.Config{Type: local.DriverName})
	if err == nil {
		t.Fatal("expected error opening local store without settings")
	}
}
