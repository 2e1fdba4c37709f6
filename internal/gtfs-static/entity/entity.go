// Package entity describes the feed files the importer knows about: their
// collection, natural key, import order and the references between them.
package entity

import (
	"fmt"

	"github.com/gtfsload/internal/store"
)

// Relationship links a referencing record to the record of Target whose
// TargetField equals the referencing record's SourceField. The storage
// identity of the match is written to Field.
type Relationship struct {
	Field       string
	SourceField string
	Target      string
	TargetField string
	// SkipEmpty leaves Field unset without a lookup when SourceField is
	// empty.
	SkipEmpty bool
}

// Descriptor describes one feed file.
type Descriptor struct {
	// Name is the filename without the .txt extension.
	Name          string
	Collection    string
	NaturalKey    []string
	Required      bool
	Nonstandard   bool
	Relationships []Relationship
}

// Filename is the name of the file inside the feed.
func (d Descriptor) Filename() string {
	return d.Name + ".txt"
}

// Indexes lists the indexes the collection needs: one for the natural
// key and one per relationship source field, all scoped by agency key.
func (d Descriptor) Indexes() []store.Index {
	var out []store.Index
	seen := map[string]bool{}
	add := func(field string) {
		if seen[field] {
			return
		}
		seen[field] = true
		out = append(out, store.Index{
			Name:   d.Collection + "_" + field,
			Fields: []string{store.AgencyKeyField, field},
		})
	}
	for _, f := range d.NaturalKey {
		add(f)
	}
	for _, r := range d.Relationships {
		add(r.SourceField)
	}
	return out
}

// Set is an ordered, immutable list of descriptors. Files are imported in
// this order.
type Set struct {
	list   []Descriptor
	byName map[string]int
}

// NewSet checks that names are unique and that every relationship targets
// a descriptor that comes earlier in the list.
func NewSet(descs ...Descriptor) (Set, error) {
	s := Set{
		list:   make([]Descriptor, len(descs)),
		byName: make(map[string]int, len(descs)),
	}
	for i, d := range descs {
		if d.Name == "" || d.Collection == "" {
			return Set{}, fmt.Errorf("descriptor %d: name and collection are required", i)
		}
		if _, dup := s.byName[d.Name]; dup {
			return Set{}, fmt.Errorf("descriptor %s: duplicate name", d.Name)
		}
		for _, r := range d.Relationships {
			if _, ok := s.byName[r.Target]; !ok {
				return Set{}, fmt.Errorf("descriptor %s: relationship %s targets %s which is not imported before it",
					d.Name, r.Field, r.Target)
			}
		}
		d.NaturalKey = append([]string(nil), d.NaturalKey...)
		d.Relationships = append([]Relationship(nil), d.Relationships...)
		s.list[i] = d
		s.byName[d.Name] = i
	}
	return s, nil
}

// All returns the descriptors in import order.
func (s Set) All() []Descriptor {
	out := make([]Descriptor, len(s.list))
	copy(out, s.list)
	return out
}

// Lookup returns the descriptor with the given name.
func (s Set) Lookup(name string) (Descriptor, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return s.list[i], true
}

// Len is the number of descriptors.
func (s Set) Len() int {
	return len(s.list)
}
