package query

import (
	"strings"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/value"
)

// Record is the view of an object a predicate is evaluated against.
// graph.Row implements it.
type Record interface {
	Attr(name string) value.Value
	Targets(relationship string) []graph.ObjectID
}

// Resolver looks up a related object by id. It returns false for objects
// that are not visible (deleted or unknown); those never match.
type Resolver func(id graph.ObjectID) (Record, bool)

// Eval reports whether rec matches pred. resolve is consulted for
// relationship paths and subqueries and may be nil when pred has none.
// pred must have passed Validate.
func Eval(pred Predicate, rec Record, resolve Resolver) bool {
	switch n := pred.(type) {
	case nil:
		return true
	case Compare:
		hop, attr := SplitPath(n.Path)
		if hop == "" {
			return compareValue(rec.Attr(attr), n)
		}
		return anyRelated(rec, hop, resolve, func(r Record) bool {
			return compareValue(r.Attr(attr), n)
		})
	case RelatedTo:
		for _, id := range rec.Targets(n.Relationship) {
			if id == n.ID {
				return true
			}
		}
		return false
	case IsNull:
		hop, attr := SplitPath(n.Path)
		if hop == "" {
			if targets := rec.Targets(attr); len(targets) > 0 {
				return false
			}
			return value.IsNull(rec.Attr(attr))
		}
		return anyRelated(rec, hop, resolve, func(r Record) bool {
			return value.IsNull(r.Attr(attr))
		})
	case And:
		for _, c := range n.Predicates {
			if !Eval(c, rec, resolve) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range n.Predicates {
			if Eval(c, rec, resolve) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(n.Predicate, rec, resolve)
	case Subquery:
		count := 0
		for _, id := range rec.Targets(n.Relationship) {
			if resolve == nil {
				if n.Where == nil {
					count++
				}
				continue
			}
			r, ok := resolve(id)
			if ok && Eval(n.Where, r, resolve) {
				count++
			}
		}
		return compareOrdered(value.Compare(value.Int(count), value.Int(n.Count)), n.Op)
	default:
		return false
	}
}

func anyRelated(rec Record, rel string, resolve Resolver, match func(Record) bool) bool {
	if resolve == nil {
		return false
	}
	for _, id := range rec.Targets(rel) {
		if r, ok := resolve(id); ok && match(r) {
			return true
		}
	}
	return false
}

// compareValue applies a comparison to an attribute value.
func compareValue(v value.Value, c Compare) bool {
	if value.IsNull(v) {
		return c.Op == OpNe
	}

	mode := c.Options.FoldMode()
	if c.Op.IsStringOp() {
		s, ok := v.(value.String)
		lit, ok2 := c.Value.(value.String)
		if !ok || !ok2 {
			return false
		}
		hay, needle := string(s), string(lit)
		if mode != 0 {
			hay, needle = value.Fold(hay, mode), value.Fold(needle, mode)
		}
		switch c.Op {
		case OpBeginsWith:
			return strings.HasPrefix(hay, needle)
		case OpContains:
			return strings.Contains(hay, needle)
		default:
			return strings.HasSuffix(hay, needle)
		}
	}

	lhs, rhs := v, c.Value
	if mode != 0 {
		lhs, rhs = foldValue(lhs, mode), foldValue(rhs, mode)
	}
	return compareOrdered(value.Compare(lhs, rhs), c.Op)
}

func foldValue(v value.Value, mode value.FoldMode) value.Value {
	if s, ok := v.(value.String); ok {
		return value.String(value.Fold(string(s), mode))
	}
	return v
}

func compareOrdered(cmp int, op Op) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}
