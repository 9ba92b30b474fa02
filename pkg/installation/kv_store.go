package installation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/xid"
	"github.com/unmanic/unmanic/pkg/kv"
	"github.com/unmanic/unmanic/pkg/logging"
)

var recordsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "installation_records_created_total",
	Help: "installation records created in the store",
})

// KVStore keeps installation records in a kv.Store partition. Each record is written under
// records/<id> with a uuids/<uuid> index entry pointing back to its id.
type KVStore struct {
	store  kv.Store
	logger logging.Logger
	now    func() time.Time
}

func NewKVStore(store kv.Store, logger logging.Logger) *KVStore {
	return &KVStore{
		store:  store,
		logger: logger.WithField(logging.PartitionFieldKey, PartitionKey),
		now:    time.Now,
	}
}

func recordPath(id string) []byte {
	return []byte(kv.FormatPath(recordsPrefix, id))
}

func uuidPath(uuid string) []byte {
	return []byte(kv.FormatPath(uuidsPrefix, uuid))
}

func lookupFailed(err error) Lookup {
	if errors.Is(err, kv.ErrNotFound) {
		return Lookup{Status: NotFound}
	}
	return Lookup{Status: Failed, Err: err}
}

func (s *KVStore) Earliest(ctx context.Context) Lookup {
	it, err := kv.ScanPrefix(ctx, s.store, []byte(PartitionKey), []byte(recordsPrefix+kv.PathDelimiter), nil)
	if err != nil {
		return lookupFailed(err)
	}
	defer it.Close()
	if !it.Next() {
		if err := it.Err(); err != nil {
			return lookupFailed(err)
		}
		return Lookup{Status: NotFound}
	}
	rec, err := decodeRecord(it.Entry().Value)
	if err != nil {
		return lookupFailed(fmt.Errorf("key=%s: %w", it.Entry().Key, err))
	}
	return Lookup{Status: Found, Record: rec}
}

func (s *KVStore) Get(ctx context.Context, uuid string) Lookup {
	res, err := s.store.Get(ctx, []byte(PartitionKey), uuidPath(uuid))
	if err != nil {
		return lookupFailed(err)
	}
	return s.getByID(ctx, string(res.Value))
}

func (s *KVStore) getByID(ctx context.Context, id string) Lookup {
	var rec Record
	_, err := kv.GetJSON(ctx, s.store, []byte(PartitionKey), recordPath(id), &rec)
	if err != nil {
		return lookupFailed(err)
	}
	if err := rec.validate(); err != nil {
		return lookupFailed(err)
	}
	return Lookup{Status: Found, Record: &rec}
}

func (s *KVStore) Upsert(ctx context.Context, uuid string) (*Record, error) {
	if uuid == "" {
		return nil, fmt.Errorf("empty uuid: %w", ErrInvalidRecord)
	}
	log := s.logger.WithContext(ctx).WithField(logging.InstallationIDFieldKey, uuid)

	// existing uuid: store the same value again
	existing := s.Get(ctx, uuid)
	switch existing.Status {
	case Found:
		rec := existing.Record
		rec.UUID = uuid
		if err := kv.SetJSON(ctx, s.store, []byte(PartitionKey), recordPath(rec.ID), rec); err != nil {
			return nil, fmt.Errorf("update installation record %s: %w", rec.ID, err)
		}
		return rec, nil
	case Failed:
		return nil, existing.Err
	}

	rec := &Record{
		ID:        xid.NewWithTime(s.now()).String(),
		UUID:      uuid,
		CreatedAt: s.now().UTC(),
	}
	created := true
	err := s.store.SetIf(ctx, []byte(PartitionKey), uuidPath(uuid), []byte(rec.ID), nil)
	if errors.Is(err, kv.ErrPredicateFailed) {
		// a concurrent upsert indexed the uuid first, or an earlier one failed before writing its record
		log.Debug("installation uuid already indexed, using existing record id")
		res, err := s.store.Get(ctx, []byte(PartitionKey), uuidPath(uuid))
		if err != nil {
			return nil, fmt.Errorf("read installation index: %w", err)
		}
		rec.ID = string(res.Value)
		created = false
	} else if err != nil {
		return nil, fmt.Errorf("index installation uuid: %w", err)
	}
	if err := kv.SetJSON(ctx, s.store, []byte(PartitionKey), recordPath(rec.ID), rec); err != nil {
		return nil, fmt.Errorf("write installation record %s: %w", rec.ID, err)
	}
	if created {
		recordsCreated.Inc()
		log.WithField("record_id", rec.ID).Info("Created installation record")
	}
	return rec, nil
}

func (s *KVStore) List(ctx context.Context) ([]*Record, error) {
	it, err := kv.ScanPrefix(ctx, s.store, []byte(PartitionKey), []byte(recordsPrefix+kv.PathDelimiter), nil)
	if err != nil {
		return nil, fmt.Errorf("scan installation records: %w", err)
	}
	defer it.Close()
	var records []*Record
	for it.Next() {
		rec, err := decodeRecord(it.Entry().Value)
		if err != nil {
			return nil, fmt.Errorf("key=%s: %w", it.Entry().Key, err)
		}
		records = append(records, rec)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("scan installation records: %w", err)
	}
	return records, nil
}

func (r *Record) validate() error {
	if r.ID == "" || r.UUID == "" {
		return ErrInvalidRecord
	}
	return nil
}
