package graph

import (
	"slices"

	"github.com/roach88/objgraph/internal/value"
)

// Row is the persisted state of one object.
//
// Attrs holds every attribute the entity declares (missing means Null).
// Links holds relationship targets by relationship name, in insertion
// order; to-one relationships hold at most one id. Version is stamped by
// the backing store on every write and is zero for rows never stored.
type Row struct {
	ID      ObjectID
	Version int64
	Attrs   map[string]value.Value
	Links   map[string][]ObjectID
}

// NewRow returns an empty row for id.
func NewRow(id ObjectID) Row {
	return Row{
		ID:    id,
		Attrs: map[string]value.Value{},
		Links: map[string][]ObjectID{},
	}
}

// ObjectID returns r.ID.
func (r Row) ObjectID() ObjectID {
	return r.ID
}

// Attr returns the attribute value or Null.
func (r Row) Attr(name string) value.Value {
	if v, ok := r.Attrs[name]; ok && v != nil {
		return v
	}
	return value.Null{}
}

// Targets returns the ids linked through relationship name.
func (r Row) Targets(name string) []ObjectID {
	return r.Links[name]
}

// Clone returns a deep copy of r.
func (r Row) Clone() Row {
	out := Row{
		ID:      r.ID,
		Version: r.Version,
		Attrs:   value.CloneMap(r.Attrs),
		Links:   make(map[string][]ObjectID, len(r.Links)),
	}
	for k, ids := range r.Links {
		out.Links[k] = slices.Clone(ids)
	}
	return out
}

// SortRows orders rows by id for deterministic output.
func SortRows(rows []Row) {
	slices.SortFunc(rows, func(a, b Row) int { return Compare(a.ID, b.ID) })
}
