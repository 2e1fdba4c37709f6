// Package driver imports the configured agencies one after another:
// acquire the feed, replace the agency's data, resolve references and
// release the workspace.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gtfsload/internal/common/config"
	"github.com/gtfsload/internal/common/discord"
	"github.com/gtfsload/internal/common/logger"
	"github.com/gtfsload/internal/common/metrics"
	"github.com/gtfsload/internal/geo"
	"github.com/gtfsload/internal/gtfs-static/entity"
	"github.com/gtfsload/internal/gtfs-static/importer"
	"github.com/gtfsload/internal/gtfs-static/resolver"
	"github.com/gtfsload/internal/gtfs-static/source"
	"github.com/gtfsload/internal/gtfs-static/task"
	"github.com/gtfsload/internal/store"
)

type Options struct {
	// DownloadDir is where per-agency workspaces are created.
	DownloadDir string
	SkipDelete  bool
	// ContinueOnError keeps importing the remaining agencies after one
	// fails. By default the run stops at the first failure.
	ContinueOnError    bool
	ResolveConcurrency int
}

// Notifier is told the outcome of every agency import.
type Notifier interface {
	SendImportSummary(ctx context.Context, s discord.ImportSummary) error
}

type Driver struct {
	importer *importer.Importer
	resolver *resolver.Resolver
	acquirer source.Acquirer
	logger   logger.Logger
	opts     Options
	validate *validator.Validate

	notifier Notifier
	// OnState, when set, is called on every transition.
	OnState func(agencyKey string, s State)

	indexMu sync.Mutex
	indexed bool
}

func New(s store.Store, entities entity.Set, acq source.Acquirer, log logger.Logger, opts Options) *Driver {
	if log == nil {
		log = logger.Nop()
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = os.TempDir()
	}
	return &Driver{
		importer: importer.NewImporter(s, entities, nil),
		resolver: resolver.New(s, entities, opts.ResolveConcurrency),
		acquirer: acq,
		logger:   log,
		opts:     opts,
		validate: validator.New(),
	}
}

// WithNotifier sends every agency outcome to n.
func (d *Driver) WithNotifier(n Notifier) *Driver {
	d.notifier = n
	return d
}

// Report is the outcome of one agency import.
type Report struct {
	AgencyKey string
	RunID     string
	// State is Done or Failed; FailedIn is the step that failed.
	State    State
	FailedIn State
	Import   importer.Result
	Duration time.Duration
	Err      error
}

// WriteFailures is the number of records that bulk writes failed to persist.
func (r Report) WriteFailures() int {
	n := 0
	for _, f := range r.Import.Files {
		for _, err := range f.Failures {
			var bulkErr *store.BulkWriteError
			if errors.As(err, &bulkErr) {
				n += bulkErr.Failed()
			} else {
				n++
			}
		}
	}
	return n
}

// Run imports the agencies in order. Agencies never run concurrently.
func (d *Driver) Run(ctx context.Context, agencies []config.Agency) ([]Report, error) {
	d.logger.Info(fmt.Sprintf("Starting GTFS import for %d %s", len(agencies), pluralize("file", len(agencies))))

	var reports []Report
	var errs []error
	for _, a := range agencies {
		rep := d.ImportAgency(ctx, a)
		reports = append(reports, rep)
		if rep.Err == nil {
			continue
		}
		if !d.opts.ContinueOnError {
			return reports, rep.Err
		}
		errs = append(errs, rep.Err)
		if ctx.Err() != nil {
			break
		}
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("GTFS import finished with failures", "failed", len(errs), "agencies", len(agencies))
		return reports, err
	}
	d.logger.Info(fmt.Sprintf("Completed GTFS import for %d %s", len(agencies), pluralize("file", len(agencies))))
	return reports, nil
}

// ImportAgency runs one agency through every step. The workspace is
// removed whether or not the import succeeded.
func (d *Driver) ImportAgency(ctx context.Context, a config.Agency) Report {
	start := time.Now()
	rep := Report{AgencyKey: a.AgencyKey, RunID: uuid.NewString()}

	base := d.logger.With("run_id", rep.RunID)
	log := base.With("agency_key", a.AgencyKey)

	transition := func(s State) {
		rep.State = s
		if d.OnState != nil {
			d.OnState(a.AgencyKey, s)
		}
	}
	transition(StatePending)

	t, err := d.newTask(a, base)
	if err == nil {
		err = d.run(ctx, t, a, &rep, transition)
	}

	rep.Duration = time.Since(start)
	if err != nil {
		if rep.State != StateCleaningUp {
			rep.FailedIn = rep.State
		}
		rep.Err = err
		transition(StateFailed)
		log.Error("GTFS import failed", "state", rep.FailedIn.String(), "error", err)
	} else {
		transition(StateDone)
		log.Info("Completed GTFS import",
			"records", rep.Import.Records(),
			"write_failures", rep.WriteFailures(),
			"duration", rep.Duration.String())
	}
	metrics.AgencyImports.WithLabelValues(rep.State.String()).Inc()
	metrics.ImportDuration.Observe(rep.Duration.Seconds())

	d.notify(ctx, log, rep)
	return rep
}

func (d *Driver) run(ctx context.Context, t *task.Task, a config.Agency, rep *Report, transition func(State)) (err error) {
	if err := os.MkdirAll(d.opts.DownloadDir, 0755); err != nil {
		return &task.AcquisitionError{AgencyKey: t.AgencyKey, Source: d.opts.DownloadDir, Err: err}
	}
	workspace, err := os.MkdirTemp(d.opts.DownloadDir, t.FileKey()+"-*")
	if err != nil {
		return &task.AcquisitionError{AgencyKey: t.AgencyKey, Source: d.opts.DownloadDir, Err: err}
	}
	defer func() {
		if err != nil {
			rep.FailedIn = rep.State
		}
		transition(StateCleaningUp)
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			t.Log.Warn("Failed to remove workspace", "path", workspace, "error", rmErr)
		}
	}()

	path := a.Path
	if a.URL != "" {
		transition(StateDownloading)
		if path, err = d.acquirer.Fetch(ctx, t, a.URL, workspace); err != nil {
			return err
		}
	}

	transition(StateExtracting)
	if t.Dir, err = d.acquirer.Unpack(t, path, workspace); err != nil {
		return err
	}

	if t.SkipDelete {
		t.Log.Info("Skipping deletion of existing data")
	} else {
		transition(StateDeletingOldData)
		if err := d.importer.RemoveData(ctx, t); err != nil {
			return err
		}
	}

	transition(StateLoadingEntities)
	rep.Import, err = d.importer.Import(ctx, t)
	if err != nil {
		return err
	}

	transition(StateResolvingRelationships)
	t.Log.Info("Post Processing data")
	if err := d.resolver.Resolve(ctx, t); err != nil {
		return err
	}
	if err := d.resolver.Finalize(ctx, t, rep.Import.Bounds); err != nil {
		return err
	}

	transition(StateIndexing)
	return d.ensureIndexes(ctx)
}

// ensureIndexes declares the indexes once per driver.
func (d *Driver) ensureIndexes(ctx context.Context) error {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	if d.indexed {
		return nil
	}
	if err := d.importer.EnsureIndexes(ctx); err != nil {
		return err
	}
	d.indexed = true
	return nil
}

// newTask checks the agency description and turns it into a task.
func (d *Driver) newTask(a config.Agency, log logger.Logger) (*task.Task, error) {
	if err := d.validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "AgencyKey" {
			err = task.ErrMissingAgencyKey
		} else {
			err = task.ErrMissingSource
		}
		return nil, &task.ConfigurationError{AgencyKey: a.AgencyKey, Err: err}
	}

	proj, err := geo.ParseProjection(a.Proj)
	if err != nil {
		return nil, &task.ConfigurationError{AgencyKey: a.AgencyKey, Err: err}
	}

	t := task.New(a.AgencyKey, log)
	t.Projection = proj
	t.SkipDelete = d.opts.SkipDelete || a.SkipDelete
	for _, name := range a.Exclude {
		t.Exclude[strings.TrimSuffix(name, ".txt")] = true
	}
	return t, nil
}

func (d *Driver) notify(ctx context.Context, log logger.Logger, rep Report) {
	if d.notifier == nil {
		return
	}
	state := rep.State.String()
	if rep.State == StateFailed {
		state = "failed while " + rep.FailedIn.String()
	}
	err := d.notifier.SendImportSummary(ctx, discord.ImportSummary{
		AgencyKey: rep.AgencyKey,
		State:     state,
		Records:   rep.Import.Records(),
		Failures:  rep.WriteFailures(),
		Duration:  rep.Duration,
		Err:       rep.Err,
	})
	if err != nil {
		log.Warn("Failed to send import summary", "error", err)
	}
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
