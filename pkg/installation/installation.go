package installation

//go:generate mockgen -source=installation.go -destination=mock/store.go -package=mock

import (
	"context"
	"errors"
	"time"
)

const (
	PartitionKey = "installation"

	recordsPrefix = "records"
	uuidsPrefix   = "uuids"
)

var ErrInvalidRecord = errors.New("invalid installation record")

// Record is the persisted identity of an Unmanic installation.
// Records are never modified by the session once created.
type Record struct {
	// ID orders records by creation time, the lowest ID is the earliest record
	ID        string    `json:"id"`
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
}

type LookupStatus int

const (
	NotFound LookupStatus = iota
	Found
	Failed
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lookup is the result of reading a record. Err is set only when Status is Failed.
type Lookup struct {
	Status LookupStatus
	Record *Record
	Err    error
}

// Absent reports whether no record is available, either because none exists or because the read failed.
func (l Lookup) Absent() bool {
	return l.Status != Found || l.Record == nil
}

type Store interface {
	// Earliest returns the record created first
	Earliest(ctx context.Context) Lookup
	// Get returns the record holding uuid
	Get(ctx context.Context, uuid string) Lookup
	// Upsert stores uuid, returning the record that holds it. Storing an existing uuid is idempotent.
	Upsert(ctx context.Context, uuid string) (*Record, error)
	// List returns all records ordered by creation
	List(ctx context.Context) ([]*Record, error)
}
