package query

import (
	"slices"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/value"
)

// IdentifiedRecord is a Record that carries its object id.
type IdentifiedRecord interface {
	Record
	ObjectID() graph.ObjectID
}

// SortRecords orders records by sort and then by id, matching the
// ORDER BY the SQL backend emits.
func SortRecords[R IdentifiedRecord](records []R, sort []SortDescriptor) {
	slices.SortStableFunc(records, func(a, b R) int {
		for _, s := range sort {
			av, bv := a.Attr(s.Key), b.Attr(s.Key)
			if mode := s.Options.FoldMode(); mode != 0 {
				av, bv = foldValue(av, mode), foldValue(bv, mode)
			}
			c := value.Compare(av, bv)
			if c == 0 {
				continue
			}
			if !s.Ascending {
				c = -c
			}
			return c
		}
		return graph.Compare(a.ObjectID(), b.ObjectID())
	})
}

// Page applies offset and limit to an ordered slice.
func Page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
