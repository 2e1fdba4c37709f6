// Package memstore is an in-memory store.Store used by tests and dry runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gtfsload/internal/store"
)

type entry struct {
	seq    int64
	record store.Record
}

type collection struct {
	entries map[store.ID]*entry
	indexes map[string]store.Index
}

// Store keeps records per collection in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	seq         int64
	collections map[string]*collection
}

// New returns an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{
			entries: make(map[store.ID]*entry),
			indexes: make(map[string]store.Index),
		}
		s.collections[name] = c
	}
	return c
}

func (s *Store) InsertMany(ctx context.Context, name string, records []store.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name)
	var errs []error
	written := 0
	for i, r := range records {
		if _, ok := r.AgencyKey(); !ok {
			errs = append(errs, fmt.Errorf("record %d: %w", i, store.ErrMissingAgencyKey))
			continue
		}
		s.seq++
		c.entries[store.ID(uuid.NewString())] = &entry{seq: s.seq, record: r.Clone()}
		written++
	}

	if len(errs) > 0 {
		return written, &store.BulkWriteError{Collection: name, Attempted: len(records), Errs: errs}
	}
	return written, nil
}

func (s *Store) DeleteAgency(ctx context.Context, name, agencyKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name)
	var n int64
	for id, e := range c.entries {
		if e.record[store.AgencyKeyField] == agencyKey {
			delete(c.entries, id)
			n++
		}
	}
	return n, nil
}

// sorted returns the agency's entries in insertion order.
func (c *collection) sorted(agencyKey string) []store.ID {
	var ids []store.ID
	for id, e := range c.entries {
		if e.record[store.AgencyKeyField] == agencyKey {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.entries[ids[i]].seq < c.entries[ids[j]].seq
	})
	return ids
}

func (s *Store) Find(ctx context.Context, name, agencyKey string) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	var docs []store.Document
	for _, id := range c.sorted(agencyKey) {
		docs = append(docs, store.Document{ID: id, Record: c.entries[id].record.Clone()})
	}
	return docs, nil
}

func (s *Store) FindOne(ctx context.Context, name, agencyKey string, match map[string]string) (store.ID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return "", false, nil
	}
	// Earliest inserted match wins, found in a single scan.
	var (
		found store.ID
		best  *entry
	)
	for id, e := range c.entries {
		if e.record[store.AgencyKeyField] != agencyKey || !matches(e.record, match) {
			continue
		}
		if best == nil || e.seq < best.seq {
			found, best = id, e
		}
	}
	return found, best != nil, nil
}

func matches(r store.Record, match map[string]string) bool {
	for k, v := range match {
		if s, ok := r[k].(string); !ok || s != v {
			return false
		}
	}
	return true
}

func (s *Store) Update(ctx context.Context, name string, id store.ID, fields store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("updating %s/%s: not found", name, id)
	}
	e, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("updating %s/%s: not found", name, id)
	}
	merged := e.record.Clone()
	for k, v := range fields {
		merged[k] = v
	}
	e.record = merged
	return nil
}

func (s *Store) UpdateAgency(ctx context.Context, name, agencyKey string, fields store.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name)
	var n int64
	for _, e := range c.entries {
		if e.record[store.AgencyKeyField] != agencyKey {
			continue
		}
		merged := e.record.Clone()
		for k, v := range fields {
			merged[k] = v
		}
		e.record = merged
		n++
	}
	return n, nil
}

func (s *Store) EnsureIndexes(ctx context.Context, name string, indexes []store.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name)
	for _, idx := range indexes {
		c.indexes[idx.Name] = idx
	}
	return nil
}

// Indexes lists the index names declared on a collection.
func (s *Store) Indexes(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	var names []string
	for n := range c.indexes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of records of a collection for agencyKey.
func (s *Store) Count(name, agencyKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return 0
	}
	return len(c.sorted(agencyKey))
}

func (s *Store) Close() error {
	return nil
}
