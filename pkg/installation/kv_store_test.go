package installation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/kv/kvtest"
	"github.com/unmanic/unmanic/pkg/logging"
)

var errStoreDown = errors.New("store down")

type failingStore struct {
	kv.Store
}

func (f *failingStore) Get(context.Context, []byte, []byte) (*kv.ValueWithPredicate, error) {
	return nil, errStoreDown
}

func (f *failingStore) Scan(context.Context, []byte, []byte) (kv.EntriesIterator, error) {
	return nil, errStoreDown
}

func newTestStore(t *testing.T) (*KVStore, kv.Store) {
	t.Helper()
	store := kvtest.GetStore(context.Background(), t)
	return NewKVStore(store, logging.Dummy()), store
}

func TestKVStore_Empty(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	res := s.Earliest(ctx)
	require.Equal(t, NotFound, res.Status)
	require.True(t, res.Absent())
	require.NoError(t, res.Err)

	require.Equal(t, NotFound, s.Get(ctx, uuid.NewString()).Status)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestKVStore_Upsert(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	id := uuid.NewString()

	rec, err := s.Upsert(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, rec.UUID)
	require.NotEmpty(t, rec.ID)

	earliest := s.Earliest(ctx)
	require.Equal(t, Found, earliest.Status)
	if diff := deep.Equal(earliest.Record, rec); diff != nil {
		t.Fatal("earliest record didn't match:", diff)
	}

	byUUID := s.Get(ctx, id)
	require.Equal(t, Found, byUUID.Status)
	require.Equal(t, rec.ID, byUUID.Record.ID)

	// storing the same uuid again keeps a single record
	again, err := s.Upsert(ctx, id)
	require.NoError(t, err)
	require.Equal(t, rec.ID, again.ID)
	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestKVStore_UpsertEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upsert(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestKVStore_EarliestWins(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// insert the later record first
	s.now = func() time.Time { return base.Add(time.Hour) }
	later, err := s.Upsert(ctx, uuid.NewString())
	require.NoError(t, err)
	s.now = func() time.Time { return base }
	earlier, err := s.Upsert(ctx, uuid.NewString())
	require.NoError(t, err)

	res := s.Earliest(ctx)
	require.Equal(t, Found, res.Status)
	require.Equal(t, earlier.UUID, res.Record.UUID)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, earlier.ID, records[0].ID)
	require.Equal(t, later.ID, records[1].ID)
}

func TestKVStore_ConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	id := uuid.NewString()

	const workers = 10
	var wg sync.WaitGroup
	results := make([]*Record, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec, err := s.Upsert(ctx, id)
			if err != nil {
				t.Errorf("upsert worker %d: %s", n, err)
				return
			}
			results[n] = rec
		}(i)
	}
	wg.Wait()

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	for _, rec := range results {
		require.NotNil(t, rec)
		require.Equal(t, records[0].ID, rec.ID)
	}
}

func TestKVStore_DanglingIndex(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStore(t)
	id := uuid.NewString()

	// index entry written without its record
	require.NoError(t, store.Set(ctx, []byte(PartitionKey), uuidPath(id), []byte("cnf0000000000000000g")))
	require.Equal(t, NotFound, s.Get(ctx, id).Status)

	rec, err := s.Upsert(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "cnf0000000000000000g", rec.ID)
	require.Equal(t, Found, s.Get(ctx, id).Status)
}

func TestKVStore_LogsPartition(t *testing.T) {
	ctx := context.Background()
	store := kvtest.GetStore(ctx, t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewKVStore(store, logging.New(logger))
	id := uuid.NewString()
	require.NoError(t, store.Set(ctx, []byte(PartitionKey), uuidPath(id), []byte("cnf0000000000000000g")))

	_, err := s.Upsert(ctx, id)
	require.NoError(t, err)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, PartitionKey, entry.Data[logging.PartitionFieldKey])
	require.Equal(t, id, entry.Data[logging.InstallationIDFieldKey])
	require.NotContains(t, entry.Data, logging.StoreFieldKey)
}

func TestKVStore_InvalidRecord(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStore(t)
	require.NoError(t, store.Set(ctx, []byte(PartitionKey), recordPath("broken"), []byte("{not json")))

	res := s.Earliest(ctx)
	require.Equal(t, Failed, res.Status)
	require.True(t, res.Absent())
	require.ErrorIs(t, res.Err, ErrInvalidRecord)

	_, err := s.List(ctx)
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestKVStore_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := kvtest.GetStore(ctx, t)
	s := NewKVStore(&failingStore{Store: store}, logging.Dummy())

	res := s.Earliest(ctx)
	require.Equal(t, Failed, res.Status)
	require.ErrorIs(t, res.Err, errStoreDown)

	require.Equal(t, Failed, s.Get(ctx, uuid.NewString()).Status)

	_, err := s.Upsert(ctx, uuid.NewString())
	require.ErrorIs(t, err, errStoreDown)

	_, err = s.List(ctx)
	require.ErrorIs(t, err, errStoreDown)
}

func TestLookupStatus_String(t *testing.T) {
	tests := map[LookupStatus]string{
		Found:           "found",
		NotFound:        "not_found",
		Failed:          "failed",
		LookupStatus(9): "unknown",
	}
	for status, expected := range tests {
		require.Equal(t, expected, status.String())
	}
}
