package loader

import (
	"context"

	"github.com/gtfsload/internal/store"
)

// batchWriter accumulates records for one collection and writes them in
// unordered bulk operations of a fixed size.
type batchWriter struct {
	store      store.Store
	collection string
	batchSize  int
	records    []store.Record
}

func newBatchWriter(s store.Store, collection string, batchSize int) *batchWriter {
	return &batchWriter{
		store:      s,
		collection: collection,
		batchSize:  batchSize,
		records:    make([]store.Record, 0, batchSize),
	}
}

// Add queues r and reports whether the batch is full.
func (b *batchWriter) Add(r store.Record) bool {
	b.records = append(b.records, r)
	return len(b.records) >= b.batchSize
}

// Pending is the number of queued records.
func (b *batchWriter) Pending() int {
	return len(b.records)
}

// Flush writes the queued records. The batch is reset whether or not the
// write failed; a failure carries the count of records that did persist.
func (b *batchWriter) Flush(ctx context.Context) (int, error) {
	if len(b.records) == 0 {
		return 0, nil
	}

	written, err := b.store.InsertMany(ctx, b.collection, b.records)

	// Reset
	b.records = make([]store.Record, 0, b.batchSize)

	return written, err
}
