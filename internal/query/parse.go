package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// SyntaxError reports a condition, literal or expression that cannot be
// parsed. Paths and literals that parse but do not fit the schema are
// reported as *schema.SchemaError instead.
type SyntaxError struct {
	Input   string
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Input == "" {
		return e.Message
	}
	return fmt.Sprintf("%q: %s", e.Input, e.Message)
}

// IsSyntaxError returns true if err is or wraps a SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

func syntaxErrorf(input, format string, args ...any) *SyntaxError {
	return &SyntaxError{Input: input, Message: fmt.Sprintf(format, args...)}
}

// ParseLiteral converts text to a value of type t. "null" is Null for
// every type; quotes around strings are optional.
func ParseLiteral(t value.Type, s string) (value.Value, error) {
	s = strings.TrimSpace(s)
	if s == "null" {
		return value.Null{}, nil
	}
	switch t {
	case value.TypeString:
		return value.String(unquote(s)), nil
	case value.TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, syntaxErrorf(s, "not an int")
		}
		return value.Int(n), nil
	case value.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, syntaxErrorf(s, "not a float")
		}
		return value.Float(f), nil
	case value.TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, syntaxErrorf(s, "not a bool")
		}
		return value.Bool(b), nil
	}
	return nil, syntaxErrorf(s, "unsupported type %s", t)
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			if u, err := strconv.Unquote(s); err == nil {
				return u
			}
		case s[0] == '\'' && s[len(s)-1] == '\'':
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ParseCondition parses one condition over entity:
//
//	path OP literal
//	path OP[cd] literal
//	path IS NULL | path IS NOT NULL
//	relationship == Entity/key
//	COUNT(relationship) OP n
//
// path is an attribute or relationship.attribute and OP one of
// == != < <= > >= BEGINSWITH CONTAINS ENDSWITH. The [c] and [d] suffixes
// make string comparisons case and diacritic insensitive. The literal is
// the rest of the condition, typed by the attribute.
func ParseCondition(reg *schema.Registry, entity, expr string) (Predicate, error) {
	e, ok := reg.Entity(entity)
	if !ok {
		return nil, &schema.SchemaError{Entity: entity, Message: "unknown entity"}
	}
	fields := strings.Fields(expr)
	if len(fields) < 3 {
		return nil, syntaxErrorf(expr, "want path OP value")
	}
	path, rawOp := fields[0], fields[1]
	rest := strings.TrimPrefix(strings.TrimSpace(expr), path)
	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), rawOp))

	if strings.EqualFold(rawOp, "IS") {
		switch strings.ToUpper(rest) {
		case "NULL":
			return IsNull{Path: path}, nil
		case "NOT NULL":
			return Not{Predicate: IsNull{Path: path}}, nil
		}
		return nil, syntaxErrorf(expr, "want IS NULL or IS NOT NULL")
	}

	op, opts, err := parseOp(rawOp)
	if err != nil {
		return nil, err
	}

	if inner, ok := strings.CutPrefix(path, "COUNT("); ok && strings.HasSuffix(inner, ")") {
		n, err := strconv.Atoi(rest)
		if err != nil || !op.IsOrdering() {
			return nil, syntaxErrorf(expr, "want COUNT(relationship) OP n")
		}
		return Subquery{Relationship: strings.TrimSuffix(inner, ")"), Op: op, Count: n}, nil
	}

	if _, isRel := e.Relationship(path); isRel {
		if op != OpEq && op != OpNe {
			return nil, syntaxErrorf(expr, "relationship %s only supports == and !=", path)
		}
		var p Predicate
		if rest == "null" {
			p = IsNull{Path: path}
		} else {
			id, err := graph.ParseObjectID(rest)
			if err != nil {
				return nil, syntaxErrorf(expr, "%v", err)
			}
			p = RelatedTo{Relationship: path, ID: id}
		}
		if op == OpNe {
			p = Not{Predicate: p}
		}
		return p, nil
	}

	attr, err := attributeAt(reg, e, path)
	if err != nil {
		return nil, err
	}
	lit, err := ParseLiteral(attr.Type, rest)
	if err != nil {
		return nil, err
	}
	if value.IsNull(lit) {
		switch op {
		case OpEq:
			return IsNull{Path: path}, nil
		case OpNe:
			return Not{Predicate: IsNull{Path: path}}, nil
		}
	}
	return Compare{Path: path, Op: op, Value: lit, Options: opts}, nil
}

// parseOp parses an operator with an optional [c], [d] or [cd] suffix.
func parseOp(s string) (Op, Options, error) {
	var opts Options
	raw := s
	if i := strings.IndexByte(s, '['); i >= 0 && strings.HasSuffix(s, "]") {
		for _, r := range strings.ToLower(s[i+1 : len(s)-1]) {
			switch r {
			case 'c':
				opts.CaseInsensitive = true
			case 'd':
				opts.DiacriticInsensitive = true
			default:
				return "", opts, syntaxErrorf(raw, "unknown operator option %q", r)
			}
		}
		s = s[:i]
	}
	op, err := ParseOp(s)
	if err != nil {
		return "", opts, syntaxErrorf(raw, "unknown operator")
	}
	return op, opts, nil
}

// attributeAt resolves an attribute path, following one relationship hop.
func attributeAt(reg *schema.Registry, e *schema.EntityType, path string) (schema.Attribute, error) {
	hop, name := SplitPath(path)
	if hop != "" {
		rel, ok := e.Relationship(hop)
		if !ok {
			return schema.Attribute{}, &schema.SchemaError{Entity: e.Name(), Field: hop, Message: "unknown relationship"}
		}
		e = reg.MustEntity(rel.Target)
	}
	attr, ok := e.Attribute(name)
	if !ok {
		return schema.Attribute{}, &schema.SchemaError{Entity: e.Name(), Field: name, Message: "unknown attribute"}
	}
	return attr, nil
}

// ParseConditions combines conditions with AND, or with OR when anyOf is
// set. No conditions yields a nil predicate.
func ParseConditions(reg *schema.Registry, entity string, exprs []string, anyOf bool) (Predicate, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	preds := make([]Predicate, 0, len(exprs))
	for _, expr := range exprs {
		p, err := ParseCondition(reg, entity, expr)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	if anyOf {
		return AnyOf(preds...), nil
	}
	return AllOf(preds...), nil
}

// ParseSort parses sort keys written as key, key:asc or key:desc.
func ParseSort(specs []string) []SortDescriptor {
	out := make([]SortDescriptor, 0, len(specs))
	for _, spec := range specs {
		key, dir, _ := strings.Cut(spec, ":")
		if strings.EqualFold(dir, "desc") {
			out = append(out, Desc(key))
		} else {
			out = append(out, Asc(key))
		}
	}
	return out
}

// ParseExpression parses an aggregate column written as name=func(attr)
// or name=count.
func ParseExpression(s string) (Expression, error) {
	name, fn, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return Expression{}, syntaxErrorf(s, "want name=func(attr)")
	}
	x := Expression{Name: name}
	if open := strings.IndexByte(fn, '('); open >= 0 && strings.HasSuffix(fn, ")") {
		x.Func = AggregateFunc(strings.ToLower(fn[:open]))
		x.Attribute = fn[open+1 : len(fn)-1]
	} else {
		x.Func = AggregateFunc(strings.ToLower(fn))
	}
	return x, nil
}
