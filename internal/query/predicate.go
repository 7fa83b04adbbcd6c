package query

import (
	"fmt"
	"strings"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/value"
)

// Predicate is a filter over objects of one entity.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

const (
	OpEq         Op = "=="
	OpNe         Op = "!="
	OpLt         Op = "<"
	OpLe         Op = "<="
	OpGt         Op = ">"
	OpGe         Op = ">="
	OpBeginsWith Op = "BEGINSWITH"
	OpContains   Op = "CONTAINS"
	OpEndsWith   Op = "ENDSWITH"
)

// IsStringOp reports whether op only applies to strings.
func (op Op) IsStringOp() bool {
	return op == OpBeginsWith || op == OpContains || op == OpEndsWith
}

// IsOrdering reports whether op is one of ==, !=, <, <=, >, >=.
func (op Op) IsOrdering() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	return op.IsOrdering() || op.IsStringOp()
}

// ParseOp accepts the operator spellings used on the command line.
// String operators are case-insensitive.
func ParseOp(s string) (Op, error) {
	switch strings.ToUpper(s) {
	case "==", "=":
		return OpEq, nil
	case "!=", "<>":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	case "BEGINSWITH":
		return OpBeginsWith, nil
	case "CONTAINS":
		return OpContains, nil
	case "ENDSWITH":
		return OpEndsWith, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Options modify string comparisons.
type Options struct {
	CaseInsensitive      bool
	DiacriticInsensitive bool
}

// FoldMode returns the value.FoldMode equivalent of o.
func (o Options) FoldMode() value.FoldMode {
	var m value.FoldMode
	if o.CaseInsensitive {
		m |= value.FoldCase
	}
	if o.DiacriticInsensitive {
		m |= value.FoldDiacritics
	}
	return m
}

// Folded is the [cd] option set.
var Folded = Options{CaseInsensitive: true, DiacriticInsensitive: true}

// Compare tests an attribute (or a related object's attribute) against a
// literal.
type Compare struct {
	Path    string
	Op      Op
	Value   value.Value
	Options Options
}

func (Compare) predicateNode() {}

// RelatedTo matches objects whose relationship contains ID.
type RelatedTo struct {
	Relationship string
	ID           graph.ObjectID
}

func (RelatedTo) predicateNode() {}

// IsNull matches a null attribute, or a relationship with no targets.
// For a relationship.attribute path it matches when any related object
// has a null attribute.
type IsNull struct {
	Path string
}

func (IsNull) predicateNode() {}

// And matches when every predicate matches. An empty And matches all.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when any predicate matches. An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Subquery counts the objects reachable through Relationship that match
// Where (nil matches all) and compares the count against Count with Op.
type Subquery struct {
	Relationship string
	Where        Predicate
	Op           Op
	Count        int
}

func (Subquery) predicateNode() {}

// Eq is shorthand for Compare{Path: path, Op: OpEq, Value: v}.
func Eq(path string, v value.Value) Compare {
	return Compare{Path: path, Op: OpEq, Value: v}
}

// BeginsWith builds a BEGINSWITH comparison.
func BeginsWith(path, prefix string, opts Options) Compare {
	return Compare{Path: path, Op: OpBeginsWith, Value: value.String(prefix), Options: opts}
}

// Contains builds a CONTAINS comparison.
func Contains(path, substr string, opts Options) Compare {
	return Compare{Path: path, Op: OpContains, Value: value.String(substr), Options: opts}
}

// AllOf is shorthand for And.
func AllOf(preds ...Predicate) And {
	return And{Predicates: preds}
}

// AnyOf is shorthand for Or.
func AnyOf(preds ...Predicate) Or {
	return Or{Predicates: preds}
}

// SplitPath separates "rel.attr" into its relationship hop and attribute.
// relationship is empty for plain attribute paths.
func SplitPath(path string) (relationship, attribute string) {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

// String renders a predicate in the familiar predicate-format syntax.
// The output is for logs and CLI display only.
func String(p Predicate) string {
	var sb strings.Builder
	writePredicate(&sb, p)
	return sb.String()
}

func writePredicate(sb *strings.Builder, p Predicate) {
	switch n := p.(type) {
	case nil:
		sb.WriteString("TRUEPREDICATE")
	case Compare:
		sb.WriteString(n.Path)
		sb.WriteByte(' ')
		sb.WriteString(string(n.Op))
		if n.Options.CaseInsensitive || n.Options.DiacriticInsensitive {
			sb.WriteByte('[')
			if n.Options.CaseInsensitive {
				sb.WriteByte('c')
			}
			if n.Options.DiacriticInsensitive {
				sb.WriteByte('d')
			}
			sb.WriteByte(']')
		}
		sb.WriteByte(' ')
		raw, err := value.Marshal(n.Value)
		if err != nil {
			sb.WriteString("?")
		} else {
			sb.Write(raw)
		}
	case RelatedTo:
		fmt.Fprintf(sb, "%s == %s", n.Relationship, n.ID)
	case IsNull:
		fmt.Fprintf(sb, "%s == nil", n.Path)
	case And:
		writeJoined(sb, n.Predicates, " AND ", "TRUEPREDICATE")
	case Or:
		writeJoined(sb, n.Predicates, " OR ", "FALSEPREDICATE")
	case Not:
		sb.WriteString("NOT (")
		writePredicate(sb, n.Predicate)
		sb.WriteByte(')')
	case Subquery:
		fmt.Fprintf(sb, "SUBQUERY(%s, $x, ", n.Relationship)
		writePredicate(sb, n.Where)
		fmt.Fprintf(sb, ").@count %s %d", n.Op, n.Count)
	default:
		fmt.Fprintf(sb, "<%T>", p)
	}
}

func writeJoined(sb *strings.Builder, preds []Predicate, sep, empty string) {
	if len(preds) == 0 {
		sb.WriteString(empty)
		return
	}
	sb.WriteByte('(')
	for i, p := range preds {
		if i > 0 {
			sb.WriteString(sep)
		}
		writePredicate(sb, p)
	}
	sb.WriteByte(')')
}
