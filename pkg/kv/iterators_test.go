package kv_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-test/deep"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvtest"
)

func collectKeys(t *testing.T, it kv.EntriesIterator) []string {
	t.Helper()
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Entry().Key))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator ended with an error: %s", err)
	}
	return keys
}

func TestSkipFirstIterator(t *testing.T) {
	ctx := context.Background()
	store := kvtest.GetStore(ctx, t)
	partitionKey := []byte("skip")
	for i := 0; i < 3; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		if err := store.Set(ctx, partitionKey, k, k); err != nil {
			t.Fatalf("set %s: %s", k, err)
		}
	}

	tests := []struct {
		name     string
		start    string
		after    string
		expected []string
	}{
		{name: "skip_existing_first", start: "key-0", after: "key-0", expected: []string{"key-1", "key-2"}},
		{name: "first_differs", start: "key-1", after: "key-0", expected: []string{"key-1", "key-2"}},
		{name: "skip_last", start: "key-2", after: "key-2", expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iter, err := store.Scan(ctx, partitionKey, []byte(tt.start))
			if err != nil {
				t.Fatalf("scan: %s", err)
			}
			keys := collectKeys(t, kv.NewSkipIterator(iter, []byte(tt.after)))
			if diff := deep.Equal(keys, tt.expected); diff != nil {
				t.Fatalf("keys didn't match: %s", diff)
			}
		})
	}
}

func TestScanPrefix_Empty(t *testing.T) {
	ctx := context.Background()
	store := kvtest.GetStore(ctx, t)
	if err := store.Set(ctx, []byte("p"), []byte("other/1"), []byte("v")); err != nil {
		t.Fatalf("set: %s", err)
	}
	it, err := kv.ScanPrefix(ctx, store, []byte("p"), []byte("records/"), nil)
	if err != nil {
		t.Fatalf("ScanPrefix: %s", err)
	}
	if keys := collectKeys(t, it); len(keys) != 0 {
		t.Fatalf("ScanPrefix returned %v, expected no keys", keys)
	}
}
