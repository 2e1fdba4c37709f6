// Package loader streams one feed file into the store: parse, normalize,
// accumulate bounds and write in fixed-size batches.
package loader

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gtfsload/internal/common/metrics"
	"github.com/gtfsload/internal/geo"
	"github.com/gtfsload/internal/gtfs-static/entity"
	"github.com/gtfsload/internal/gtfs-static/normalize"
	"github.com/gtfsload/internal/gtfs-static/task"
	"github.com/gtfsload/internal/store"
)

// DefaultBatchSize is the number of records written per bulk operation.
const DefaultBatchSize = 10000

const utf8BOM = "\uFEFF"

type Loader struct {
	store     store.Store
	batchSize int
}

func New(s store.Store) *Loader {
	return &Loader{store: s, batchSize: DefaultBatchSize}
}

// WithBatchSize returns a copy of l writing batches of n records.
func (l *Loader) WithBatchSize(n int) *Loader {
	if n <= 0 {
		n = DefaultBatchSize
	}
	return &Loader{store: l.store, batchSize: n}
}

// Result describes one file's import.
type Result struct {
	File    string
	Parsed  int
	Written int
	Batches int
	// Failures holds every bulk write error. They do not stop the import.
	Failures []error
	Bounds   geo.Bounds
}

// Err joins the write failures, or returns nil.
func (r Result) Err() error {
	return errors.Join(r.Failures...)
}

// Load reads a header-delimited file from r into the collection of d.
// bounds is extended by every synthesized location and returned on the
// result. A malformed row stops the load with a *task.ParseError; bulk
// write failures are collected on the result instead.
func (l *Loader) Load(ctx context.Context, r io.Reader, d entity.Descriptor, t *task.Task, bounds geo.Bounds) (Result, error) {
	res := Result{File: d.Filename(), Bounds: bounds}

	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1 // Variable number of fields
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	// Read header
	header, err := reader.Read()
	if err == io.EOF {
		t.Log.Warn("Empty file", "file", res.File)
		return res, nil
	}
	if err != nil {
		return res, parseError(res.File, err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		columns[i] = strings.TrimSpace(h)
	}

	norm := normalize.Normalizer{AgencyKey: t.AgencyKey, Projection: t.Projection}
	batch := newBatchWriter(l.store, d.Collection, l.batchSize)

	flush := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		written, err := batch.Flush(ctx)
		res.Batches++
		res.Written += written
		metrics.RecordsImported.WithLabelValues(res.File).Add(float64(written))
		if err != nil {
			var bulkErr *store.BulkWriteError
			if errors.As(err, &bulkErr) {
				metrics.WriteFailures.WithLabelValues(res.File).Add(float64(bulkErr.Failed()))
			}
			t.Log.Error("Bulk write failed", "file", res.File, "batch", res.Batches, "error", err)
			res.Failures = append(res.Failures, fmt.Errorf("%s batch %d: %w", res.File, res.Batches, err))
		}
		t.Log.Progress(fmt.Sprintf("Importing - %s - %d lines imported", res.File, res.Written),
			"file", res.File, "records", res.Written)
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, parseError(res.File, err)
		}
		if len(record) > len(columns) {
			line, _ := reader.FieldPos(0)
			return res, &task.ParseError{
				File: res.File,
				Line: line,
				Err:  fmt.Errorf("record has %d fields, header has %d", len(record), len(columns)),
			}
		}

		// Columns past the end of a short row stay absent.
		raw := make(map[string]string, len(record))
		for i, v := range record {
			if columns[i] == "" {
				continue
			}
			raw[columns[i]] = strings.TrimSpace(v)
		}

		rec := norm.Normalize(raw)
		if p, ok := normalize.Location(rec); ok {
			res.Bounds = geo.Extend(res.Bounds, p)
		}
		res.Parsed++

		if batch.Add(rec) {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}

	if batch.Pending() > 0 {
		if err := flush(); err != nil {
			return res, err
		}
	}

	return res, nil
}

func parseError(file string, err error) error {
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return &task.ParseError{File: file, Line: csvErr.Line, Err: csvErr.Err}
	}
	return &task.ParseError{File: file, Err: err}
}
