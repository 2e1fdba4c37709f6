// Package store defines the persistent-store collaborator the importer
// writes through. Every collection is partitioned by agency key.
package store

import (
	"context"
	"errors"
	"fmt"
)

// AgencyKeyField is the field every record is scoped by.
const AgencyKeyField = "agency_key"

// ID is the opaque storage identity of a persisted record.
type ID string

// Record is one normalized entity row. Values are strings, int64,
// float64, []float64 or nested maps.
type Record map[string]interface{}

// Document is a persisted record together with its identity.
type Document struct {
	ID     ID
	Record Record
}

// Index declares an index on one collection.
type Index struct {
	Name   string
	Fields []string
}

// Store is the persistence collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	// InsertMany writes records in one unordered bulk operation. A failure
	// on one record does not prevent the others from being written; the
	// number written is returned together with a *BulkWriteError
	// describing the failures, if any.
	InsertMany(ctx context.Context, collection string, records []Record) (int, error)

	// DeleteAgency removes every record of the collection for agencyKey.
	DeleteAgency(ctx context.Context, collection, agencyKey string) (int64, error)

	// Find returns every record of the collection for agencyKey.
	Find(ctx context.Context, collection, agencyKey string) ([]Document, error)

	// FindOne looks up the first record of the collection for agencyKey
	// whose fields equal match. found is false when nothing matches.
	FindOne(ctx context.Context, collection, agencyKey string, match map[string]string) (id ID, found bool, err error)

	// Update merges fields into the record with the given identity.
	Update(ctx context.Context, collection string, id ID, fields Record) error

	// UpdateAgency merges fields into every record of the collection for
	// agencyKey.
	UpdateAgency(ctx context.Context, collection, agencyKey string, fields Record) (int64, error)

	// EnsureIndexes creates the declared indexes when they do not exist.
	EnsureIndexes(ctx context.Context, collection string, indexes []Index) error

	Close() error
}

// BulkWriteError reports the records of one bulk insert that failed.
type BulkWriteError struct {
	Collection string
	Attempted  int
	Errs       []error
}

func (e *BulkWriteError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("bulk write to %s: no failures", e.Collection)
	}
	return fmt.Sprintf("bulk write to %s: %d of %d records failed: %v",
		e.Collection, len(e.Errs), e.Attempted, e.Errs[0])
}

// Failed is the number of records that were not written.
func (e *BulkWriteError) Failed() int {
	return len(e.Errs)
}

func (e *BulkWriteError) Unwrap() []error {
	return e.Errs
}

// ErrMissingAgencyKey is returned when a record is written without an
// agency key.
var ErrMissingAgencyKey = errors.New("record has no agency_key")

// AgencyKey returns the agency key stamped on r.
func (r Record) AgencyKey() (string, bool) {
	v, ok := r[AgencyKeyField].(string)
	return v, ok && v != ""
}

// String returns the field as text. Numbers are not converted.
func (r Record) String(field string) string {
	v, _ := r[field].(string)
	return v
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
