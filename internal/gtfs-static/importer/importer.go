package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gtfsload/internal/geo"
	"github.com/gtfsload/internal/gtfs-static/entity"
	"github.com/gtfsload/internal/gtfs-static/loader"
	"github.com/gtfsload/internal/gtfs-static/task"
	"github.com/gtfsload/internal/store"
)

// Importer loads the files of one agency's feed in descriptor order.
type Importer struct {
	store    store.Store
	entities entity.Set
	loader   *loader.Loader
}

func NewImporter(s store.Store, entities entity.Set, l *loader.Loader) *Importer {
	if l == nil {
		l = loader.New(s)
	}
	return &Importer{
		store:    s,
		entities: entities,
		loader:   l,
	}
}

// Result summarises the import of every file of one agency.
type Result struct {
	Files   []loader.Result
	Missing []string
	Skipped []string
	// Bounds covers every location seen across all files.
	Bounds geo.Bounds
}

// Records is the number of records written across all files.
func (r Result) Records() int {
	n := 0
	for _, f := range r.Files {
		n += f.Written
	}
	return n
}

// Err joins the write failures of every file.
func (r Result) Err() error {
	var errs []error
	for _, f := range r.Files {
		if err := f.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveData deletes every record of the agency from every collection.
func (i *Importer) RemoveData(ctx context.Context, t *task.Task) error {
	for _, d := range i.entities.All() {
		n, err := i.store.DeleteAgency(ctx, d.Collection, t.AgencyKey)
		if err != nil {
			return fmt.Errorf("removing %s: %w", d.Collection, err)
		}
		if n > 0 {
			t.Log.Debug("Removed previous records", "collection", d.Collection, "records", n)
		}
	}
	return nil
}

// Import loads every known file found in t.Dir. Files run one after the
// other; a parse failure stops the remaining files.
func (i *Importer) Import(ctx context.Context, t *task.Task) (Result, error) {
	var result Result

	for _, d := range i.entities.All() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		file := d.Filename()
		if t.Excluded(d.Name) {
			t.Log.Info("Skipping - "+file, "file", file)
			result.Skipped = append(result.Skipped, file)
			continue
		}

		f, err := os.Open(filepath.Join(t.Dir, file))
		if errors.Is(err, fs.ErrNotExist) {
			result.Missing = append(result.Missing, file)
			switch {
			case d.Required:
				t.Log.Warn("Importing - "+file+" - No file found", "file", file, "required", true)
			case d.Nonstandard:
				t.Log.Debug("Importing - "+file+" - No file found", "file", file)
			default:
				t.Log.Info("Importing - "+file+" - No file found", "file", file)
			}
			continue
		}
		if err != nil {
			return result, fmt.Errorf("opening %s: %w", file, err)
		}

		t.Log.Info("Importing - "+file, "file", file)
		res, err := i.loader.Load(ctx, f, d, t, result.Bounds)
		f.Close()

		result.Files = append(result.Files, res)
		result.Bounds = res.Bounds
		if err != nil {
			t.Log.Error("Import of file failed", "file", file, "error", err)
			return result, fmt.Errorf("importing %s: %w", file, err)
		}

		if len(res.Failures) > 0 {
			t.Log.Warn("File imported with write failures",
				"file", file,
				"records", res.Written,
				"parsed", res.Parsed,
				"failed_batches", len(res.Failures))
		} else {
			t.Log.Info("File imported", "file", file, "records", res.Written, "batches", res.Batches)
		}
	}

	return result, nil
}

// EnsureIndexes declares every descriptor's indexes on the store.
func (i *Importer) EnsureIndexes(ctx context.Context) error {
	for _, d := range i.entities.All() {
		if err := i.store.EnsureIndexes(ctx, d.Collection, d.Indexes()); err != nil {
			return fmt.Errorf("indexing %s: %w", d.Collection, err)
		}
	}
	return nil
}
