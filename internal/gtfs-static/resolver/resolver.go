// Package resolver links imported records to the records they reference
// and stamps the agency with its geographic extent.
package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gtfsload/internal/common/metrics"
	"github.com/gtfsload/internal/geo"
	"github.com/gtfsload/internal/gtfs-static/entity"
	"github.com/gtfsload/internal/gtfs-static/task"
	"github.com/gtfsload/internal/store"
)

// DefaultConcurrency bounds the lookups in flight for one collection.
const DefaultConcurrency = 32

const (
	AgencyBoundsField  = "agency_bounds"
	AgencyCenterField  = "agency_center"
	LastUpdatedField   = "date_last_updated"
	agencyDescriptorID = "agency"
)

type Resolver struct {
	store       store.Store
	entities    entity.Set
	concurrency int
	now         func() time.Time
}

func New(s store.Store, entities entity.Set, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{
		store:       s,
		entities:    entities,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Resolve runs one pass per referencing collection. Passes run
// concurrently; each pass updates only records of its own collection, and
// each record is updated at most once with all of its references.
func (r *Resolver) Resolve(ctx context.Context, t *task.Task) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, d := range r.entities.All() {
		if len(d.Relationships) == 0 || t.Excluded(d.Name) {
			continue
		}
		d := d
		g.Go(func() error {
			return r.resolveCollection(ctx, t, d)
		})
	}

	return g.Wait()
}

type link struct {
	entity.Relationship
	collection string
}

func (r *Resolver) resolveCollection(ctx context.Context, t *task.Task, d entity.Descriptor) error {
	links := make([]link, 0, len(d.Relationships))
	for _, rel := range d.Relationships {
		target, ok := r.entities.Lookup(rel.Target)
		if !ok {
			return fmt.Errorf("resolving %s: unknown target %s", d.Collection, rel.Target)
		}
		links = append(links, link{Relationship: rel, collection: target.Collection})
	}

	docs, err := r.store.Find(ctx, d.Collection, t.AgencyKey)
	if err != nil {
		return fmt.Errorf("reading %s: %w", d.Collection, err)
	}
	if len(docs) == 0 {
		return nil
	}

	t.Log.Debug("Resolving references", "collection", d.Collection, "records", len(docs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			return r.resolveDocument(ctx, t, d.Collection, links, doc)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("resolving %s: %w", d.Collection, err)
	}
	return nil
}

func (r *Resolver) resolveDocument(ctx context.Context, t *task.Task, collection string, links []link, doc store.Document) error {
	fields := store.Record{}

	for _, l := range links {
		value, ok := doc.Record[l.SourceField].(string)
		if !ok || (value == "" && l.SkipEmpty) {
			continue
		}

		id, found, err := r.store.FindOne(ctx, l.collection, t.AgencyKey, map[string]string{l.TargetField: value})
		if err != nil {
			return fmt.Errorf("looking up %s %s=%s: %w", l.collection, l.TargetField, value, err)
		}
		if !found {
			metrics.ReferencesResolved.WithLabelValues(collection, "missing").Inc()
			continue
		}
		metrics.ReferencesResolved.WithLabelValues(collection, "linked").Inc()
		fields[l.Field] = string(id)
	}

	if len(fields) == 0 {
		return nil
	}
	if err := r.store.Update(ctx, collection, doc.ID, fields); err != nil {
		return fmt.Errorf("updating %s: %w", doc.ID, err)
	}
	return nil
}

// Finalize stamps every agency record of the task with the bounds of the
// import, their center and the time of the update.
func (r *Resolver) Finalize(ctx context.Context, t *task.Task, bounds geo.Bounds) error {
	d, ok := r.entities.Lookup(agencyDescriptorID)
	if !ok {
		return nil
	}

	fields := store.Record{
		AgencyBoundsField: bounds.Document(),
		LastUpdatedField:  r.now().UnixMilli(),
	}
	if center, ok := geo.Center(bounds); ok {
		fields[AgencyCenterField] = []float64{center[0], center[1]}
	}

	n, err := r.store.UpdateAgency(ctx, d.Collection, t.AgencyKey, fields)
	if err != nil {
		return fmt.Errorf("updating agency bounds: %w", err)
	}
	t.Log.Debug("Agency bounds updated", "records", n, "points", bounds.Count())
	return nil
}
