package kvtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-test/deep"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvparams"
	_ "github.com/unmanic/unmanic/pkg/kv/mem"
)

type MakeStore func(t *testing.T, ctx context.Context) kv.Store

var runTestID = nanoid.MustGenerate("abcdef1234567890", 8)

func uniqueKey(k string) []byte {
	return []byte(runTestID + "-" + k)
}

func uniquePartitionKey() []byte {
	return []byte("test-partition-" + nanoid.MustGenerate("abcdef1234567890", 16))
}

func setupSampleData(t *testing.T, ctx context.Context, store kv.Store, partitionKey []byte, prefix string, items int) []kv.Entry {
	t.Helper()
	entries := make([]kv.Entry, 0, items)
	for i := 0; i < items; i++ {
		entry := sampleEntry(partitionKey, prefix, i)
		err := store.Set(ctx, entry.PartitionKey, entry.Key, entry.Value)
		if err != nil {
			t.Fatalf("failed to setup data with '%s': %s", entry.String(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func sampleEntry(partitionKey []byte, prefix string, n int) kv.Entry {
	k := fmt.Sprintf("%s-key-%04d", prefix, n)
	v := fmt.Sprintf("%s-value-%04d", prefix, n)
	return kv.Entry{PartitionKey: partitionKey, Key: []byte(k), Value: []byte(v)}
}

// DriverTest runs the common Store behaviour checks against the stores created by ms.
func DriverTest(t *testing.T, ms MakeStore) {
	t.Run("Driver_Open", func(t *testing.T) { testDriverOpen(t, ms) })
	t.Run("Store_SetGet", func(t *testing.T) { testStoreSetGet(t, ms) })
	t.Run("Store_SetIf", func(t *testing.T) { testStoreSetIf(t, ms) })
	t.Run("Store_SetIfConcurrent", func(t *testing.T) { testStoreSetIfConcurrent(t, ms) })
	t.Run("Store_Delete", func(t *testing.T) { testStoreDelete(t, ms) })
	t.Run("Store_Scan", func(t *testing.T) { testStoreScan(t, ms) })
	t.Run("Store_Partitions", func(t *testing.T) { testStorePartitions(t, ms) })
	t.Run("Store_MissingArgument", func(t *testing.T) { testStoreMissingArgument(t, ms) })
	t.Run("ScanPrefix", func(t *testing.T) { testScanPrefix(t, ms) })
}

func testDriverOpen(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store1 := ms(t, ctx)
	store2 := ms(t, ctx)
	store1.Close()
	store2.Close()
}

func testStoreSetGet(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()

	partitionKey := uniquePartitionKey()
	testKey := uniqueKey("key")
	testValue1 := []byte("value")
	testValue2 := []byte("a different kind of value")

	// set test key with value1
	err := store.Set(ctx, partitionKey, testKey, testValue1)
	if err != nil {
		t.Fatalf("failed to set key '%s', to value '%s': %s", testKey, testValue1, err)
	}

	// get test key with value1
	res, err := store.Get(ctx, partitionKey, testKey)
	switch {
	case err != nil:
		t.Fatalf("failed to get key '%s': %s", testKey, err)
	case res == nil:
		t.Fatalf("got value with nil")
	case !bytes.Equal(testValue1, res.Value):
		t.Fatalf("key='%s' value='%s' doesn't match, expected='%s'", testKey, res.Value, testValue1)
	}

	// override key with value2
	err = store.Set(ctx, partitionKey, testKey, testValue2)
	if err != nil {
		t.Fatalf("failed to set key '%s', to value '%s': %s", testKey, testValue2, err)
	}

	// get test key with value2
	res2, err := store.Get(ctx, partitionKey, testKey)
	if err != nil {
		t.Fatalf("failed to get key '%s': %s", testKey, err)
	}
	if !bytes.Equal(testValue2, res2.Value) {
		t.Fatalf("key='%s' value='%s' doesn't match, expected='%s'", testKey, res2.Value, testValue2)
	}

	// get a missing key
	keyNotExists := uniqueKey("key-not-exists")
	res3, err := store.Get(ctx, partitionKey, keyNotExists)
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("get key='%s' err=%s, expected not found", keyNotExists, err)
	}
	if res3 != nil {
		t.Fatalf("get key='%s' value='%s', expected nil", keyNotExists, res3.Value)
	}
}

func testStoreDelete(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()
	partitionKey := uniquePartitionKey()

	t.Run("exists", func(t *testing.T) {
		keyToDel := uniqueKey("key-to-delete")
		err := store.Set(ctx, partitionKey, keyToDel, []byte("value to delete"))
		if err != nil {
			t.Fatalf("failed to set key='%s': %s", keyToDel, err)
		}
		err = store.Delete(ctx, partitionKey, keyToDel)
		if err != nil {
			t.Fatalf("failed to delete key='%s': %s", keyToDel, err)
		}
		_, err = store.Get(ctx, partitionKey, keyToDel)
		if !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("get deleted key='%s' err=%v, expected not found", keyToDel, err)
		}
	})

	t.Run("non_exists", func(t *testing.T) {
		keyToDel := uniqueKey("missing-key-to-delete")
		err := store.Delete(ctx, partitionKey, keyToDel)
		if err != nil {
			t.Fatalf("delete missing key '%s', err=%v expected nil", keyToDel, err)
		}
	})
}

func testStoreSetIf(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()
	partitionKey := uniquePartitionKey()

	t.Run("set_first", func(t *testing.T) {
		key := uniqueKey("set-if-first")
		val := []byte("v")
		err := store.SetIf(ctx, partitionKey, key, val, nil)
		if err != nil {
			t.Fatalf("SetIf without previous key - key=%s value=%s pred=nil: %s", key, val, err)
		}
	})

	t.Run("set_exists", func(t *testing.T) {
		key := uniqueKey("set-if-exists")
		val1 := []byte("v1")
		err := store.Set(ctx, partitionKey, key, val1)
		if err != nil {
			t.Fatalf("Set while testing SetIf - key=%s value=%s: %s", key, val1, err)
		}
		res, err := store.Get(ctx, partitionKey, key)
		if err != nil {
			t.Fatalf("Get while testing SetIf - key=%s: %s", key, err)
		}

		val2 := []byte("v2")
		err = store.SetIf(ctx, partitionKey, key, val2, res.Predicate)
		if err != nil {
			t.Fatalf("SetIf with previous value - key=%s value=%s pred=%v: %s", key, val2, res.Predicate, err)
		}

		// the predicate no longer holds after the update
		err = store.SetIf(ctx, partitionKey, key, []byte("v3"), res.Predicate)
		if !errors.Is(err, kv.ErrPredicateFailed) {
			t.Fatalf("SetIf with stale predicate err=%v - key=%s, expected err=%s", err, key, kv.ErrPredicateFailed)
		}
	})

	t.Run("fail_predicate_nil", func(t *testing.T) {
		key := uniqueKey("fail-predicate-nil")
		val1 := []byte("v1")
		err := store.Set(ctx, partitionKey, key, val1)
		if err != nil {
			t.Fatalf("Set while testing fail predicate - key=%s value=%s: %s", key, val1, err)
		}

		val2 := []byte("v2")
		err = store.SetIf(ctx, partitionKey, key, val2, nil)
		if !errors.Is(err, kv.ErrPredicateFailed) {
			t.Fatalf("SetIf err=%v - key=%s, value=%s, pred=nil, expected err=%s", err, key, val2, kv.ErrPredicateFailed)
		}

		res, err := store.Get(ctx, partitionKey, key)
		if err != nil {
			t.Fatalf("Get after failed SetIf - key=%s: %s", key, err)
		}
		if !bytes.Equal(res.Value, val1) {
			t.Fatalf("key='%s' value='%s' changed by failed SetIf, expected='%s'", key, res.Value, val1)
		}
	})

	t.Run("fail_predicate_missing_key", func(t *testing.T) {
		key := uniqueKey("fail-predicate-missing-key")
		err := store.SetIf(ctx, partitionKey, key, []byte("v"), []byte("v0"))
		if !errors.Is(err, kv.ErrPredicateFailed) {
			t.Fatalf("SetIf on missing key err=%v - key=%s, expected err=%s", err, key, kv.ErrPredicateFailed)
		}
	})
}

func testStoreSetIfConcurrent(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()
	partitionKey := uniquePartitionKey()
	key := uniqueKey("set-if-concurrent")

	const workers = 8
	var (
		wg        sync.WaitGroup
		succeeded int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := store.SetIf(ctx, partitionKey, key, []byte(fmt.Sprintf("value-%d", n)), nil)
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case !errors.Is(err, kv.ErrPredicateFailed):
				t.Errorf("concurrent SetIf worker %d: %s", n, err)
			}
		}(i)
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("concurrent SetIf with nil predicate succeeded %d times, expected exactly once", succeeded)
	}
}

func testStoreScan(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()

	// setup sample data
	partitionKey := uniquePartitionKey()
	const sampleItems = 100
	sampleData := setupSampleData(t, ctx, store, partitionKey, "scan", sampleItems)

	t.Run("full", func(t *testing.T) {
		scan, err := store.Scan(ctx, partitionKey, nil)
		if err != nil {
			t.Fatal("failed to scan", err)
		}
		defer scan.Close()
		entries := readEntries(t, scan)
		if diff := deep.Equal(entries, sampleData); diff != nil {
			t.Fatal("scan data didn't match:", diff)
		}
	})

	t.Run("part", func(t *testing.T) {
		const fromIndex = 5
		fromKey := []byte(fmt.Sprintf("scan-key-%04d", fromIndex))
		scan, err := store.Scan(ctx, partitionKey, fromKey)
		if err != nil {
			t.Fatal("failed to scan", err)
		}
		defer scan.Close()
		entries := readEntries(t, scan)
		if diff := deep.Equal(entries, sampleData[fromIndex:]); diff != nil {
			t.Fatal("scan data didn't match:", diff)
		}
	})

	t.Run("empty_partition", func(t *testing.T) {
		scan, err := store.Scan(ctx, uniquePartitionKey(), nil)
		if err != nil {
			t.Fatal("failed to scan", err)
		}
		defer scan.Close()
		if scan.Next() {
			t.Fatalf("scan of empty partition returned entry %s", scan.Entry())
		}
		if err := scan.Err(); err != nil {
			t.Fatal("scan ended with an error", err)
		}
	})
}

func testStorePartitions(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()

	firstPartitionKey := uniquePartitionKey()
	secondPartitionKey := uniquePartitionKey()
	key := uniqueKey("shared-key")
	if err := store.Set(ctx, firstPartitionKey, key, []byte("first")); err != nil {
		t.Fatalf("failed to set key '%s' on first partition: %s", key, err)
	}
	if _, err := store.Get(ctx, secondPartitionKey, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("get key '%s' on second partition err=%v, expected not found", key, err)
	}
	if err := store.SetIf(ctx, secondPartitionKey, key, []byte("second"), nil); err != nil {
		t.Fatalf("SetIf key '%s' on second partition: %s", key, err)
	}
	res, err := store.Get(ctx, firstPartitionKey, key)
	if err != nil {
		t.Fatalf("failed to get key '%s' on first partition: %s", key, err)
	}
	if !bytes.Equal(res.Value, []byte("first")) {
		t.Fatalf("first partition value='%s', expected 'first'", res.Value)
	}
}

func testStoreMissingArgument(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()
	partitionKey := uniquePartitionKey()

	t.Run("Get", func(t *testing.T) {
		_, err := store.Get(ctx, partitionKey, nil)
		if !errors.Is(err, kv.ErrMissingKey) {
			t.Errorf("Get using nil key - err=%v, expected %s", err, kv.ErrMissingKey)
		}
		_, err = store.Get(ctx, nil, []byte("key"))
		if !errors.Is(err, kv.ErrMissingPartitionKey) {
			t.Errorf("Get using nil partition key - err=%v, expected %s", err, kv.ErrMissingPartitionKey)
		}
	})

	t.Run("Set", func(t *testing.T) {
		if err := store.Set(ctx, partitionKey, nil, []byte("v")); !errors.Is(err, kv.ErrMissingKey) {
			t.Errorf("Set using nil key - err=%v, expected %s", err, kv.ErrMissingKey)
		}

		key := uniqueKey("test-missing-argument")
		if err := store.Set(ctx, partitionKey, key, nil); !errors.Is(err, kv.ErrMissingValue) {
			t.Errorf("Set using nil value - err=%v, expected %s", err, kv.ErrMissingValue)
		}
	})

	t.Run("SetIf", func(t *testing.T) {
		if err := store.SetIf(ctx, partitionKey, nil, []byte("v"), []byte("p")); !errors.Is(err, kv.ErrMissingKey) {
			t.Errorf("SetIf using nil key - err=%v, expected %s", err, kv.ErrMissingKey)
		}

		key := uniqueKey("test-missing-argument")
		if err := store.SetIf(ctx, partitionKey, key, nil, []byte("p")); !errors.Is(err, kv.ErrMissingValue) {
			t.Errorf("SetIf using nil value - err=%v, expected %s", err, kv.ErrMissingValue)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Delete(ctx, partitionKey, nil)
		if !errors.Is(err, kv.ErrMissingKey) {
			t.Errorf("Delete using nil key - err=%v, expected %s", err, kv.ErrMissingKey)
		}
	})

	t.Run("Scan", func(t *testing.T) {
		_, err := store.Scan(ctx, nil, nil)
		if !errors.Is(err, kv.ErrMissingPartitionKey) {
			t.Errorf("Scan using nil partition key - err=%v, expected %s", err, kv.ErrMissingPartitionKey)
		}
	})
}

func testScanPrefix(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	store := ms(t, ctx)
	defer store.Close()

	// setup data - surround the scanned prefix with other sets
	partitionKey := uniquePartitionKey()
	const sampleItems = 20
	_ = setupSampleData(t, ctx, store, partitionKey, "a", sampleItems)
	sampleData := setupSampleData(t, ctx, store, partitionKey, "b", sampleItems)
	_ = setupSampleData(t, ctx, store, partitionKey, "c", sampleItems)

	t.Run("prefix", func(t *testing.T) {
		scan, err := kv.ScanPrefix(ctx, store, partitionKey, []byte("b-"), nil)
		if err != nil {
			t.Fatal("ScanPrefix failed", err)
		}
		defer scan.Close()
		entries := readEntries(t, scan)
		if diff := deep.Equal(entries, sampleData); diff != nil {
			t.Fatal("ScanPrefix entries didn't match:", diff)
		}
	})

	t.Run("after", func(t *testing.T) {
		const afterIndex = 9
		after := sampleData[afterIndex].Key
		scan, err := kv.ScanPrefix(ctx, store, partitionKey, []byte("b-"), after)
		if err != nil {
			t.Fatal("ScanPrefix failed", err)
		}
		defer scan.Close()
		entries := readEntries(t, scan)
		if diff := deep.Equal(entries, sampleData[afterIndex+1:]); diff != nil {
			t.Fatal("ScanPrefix after entries didn't match:", diff)
		}
	})
}

func readEntries(t *testing.T, it kv.EntriesIterator) []kv.Entry {
	t.Helper()
	var entries []kv.Entry
	for it.Next() {
		ent := it.Entry()
		switch {
		case ent == nil:
			t.Fatal("scan got nil entry")
		case ent.Key == nil:
			t.Fatal("Key is nil while scan item", len(entries))
		case ent.Value == nil:
			t.Fatal("Value is nil while scan item", len(entries))
		}
		entries = append(entries, *ent)
	}
	if err := it.Err(); err != nil {
		t.Fatal("scan ended with an error", err)
	}
	return entries
}

// MakeStoreByParams returns a MakeStore that opens the registered driver named by params.Type.
func MakeStoreByParams(params kvparams.Config) MakeStore {
	return func(t *testing.T, ctx context.Context) kv.Store {
		t.Helper()
		store, err := kv.Open(ctx, params)
		if err != nil {
			t.Fatalf("failed to open kv '%s' store: %s", params.Type, err)
		}
		return store
	}
}

// GetStore returns an in-memory store closed at the end of the test.
func GetStore(ctx context.Context, t testing.TB) kv.Store {
	t.Helper()
	store, err := kv.Open(ctx, kvparams.Config{Type: "mem"})
	if err != nil {
		t.Fatalf("failed to open kv mem store: %s", err)
	}
	t.Cleanup(store.Close)
	return store
}
