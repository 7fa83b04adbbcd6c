package query

import (
	"fmt"

	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// Validate resolves every path in pred against entity and type-checks the
// literals. A nil predicate is valid and matches everything.
//
// Errors are *schema.SchemaError naming the offending path.
func Validate(reg *schema.Registry, entity string, pred Predicate) error {
	e, ok := reg.Entity(entity)
	if !ok {
		return &schema.SchemaError{Entity: entity, Message: "unknown entity"}
	}
	v := &validator{reg: reg}
	return v.predicate(e, pred)
}

type validator struct {
	reg *schema.Registry
}

func (v *validator) errorf(e *schema.EntityType, field, format string, args ...any) error {
	return &schema.SchemaError{Entity: e.Name(), Field: field, Message: fmt.Sprintf(format, args...)}
}

func (v *validator) predicate(e *schema.EntityType, p Predicate) error {
	switch n := p.(type) {
	case nil:
		return nil
	case Compare:
		return v.compare(e, n)
	case RelatedTo:
		rel, ok := e.Relationship(n.Relationship)
		if !ok {
			return v.errorf(e, n.Relationship, "unknown relationship")
		}
		if n.ID.IsZero() {
			return v.errorf(e, n.Relationship, "related object id is required; use IsNull to match no target")
		}
		if n.ID.Entity != rel.Target {
			return v.errorf(e, n.Relationship, "object %s is not a %s", n.ID, rel.Target)
		}
		return nil
	case IsNull:
		hop, attr := SplitPath(n.Path)
		if hop == "" {
			if _, ok := e.Attribute(attr); ok {
				return nil
			}
			if _, ok := e.Relationship(attr); ok {
				return nil
			}
			return v.errorf(e, n.Path, "unknown attribute or relationship")
		}
		_, _, err := v.resolve(e, n.Path)
		return err
	case And:
		for _, c := range n.Predicates {
			if err := v.predicate(e, c); err != nil {
				return err
			}
		}
		return nil
	case Or:
		for _, c := range n.Predicates {
			if err := v.predicate(e, c); err != nil {
				return err
			}
		}
		return nil
	case Not:
		if n.Predicate == nil {
			return v.errorf(e, "", "NOT requires an operand")
		}
		return v.predicate(e, n.Predicate)
	case Subquery:
		rel, ok := e.Relationship(n.Relationship)
		if !ok {
			return v.errorf(e, n.Relationship, "unknown relationship")
		}
		if !n.Op.IsOrdering() {
			return v.errorf(e, n.Relationship, "subquery count needs a comparison operator, got %q", n.Op)
		}
		if n.Count < 0 {
			return v.errorf(e, n.Relationship, "subquery count must not be negative")
		}
		target, ok := v.reg.Entity(rel.Target)
		if !ok {
			return v.errorf(e, n.Relationship, "unknown target entity %q", rel.Target)
		}
		return v.predicate(target, n.Where)
	default:
		return v.errorf(e, "", "unsupported predicate %T", p)
	}
}

// resolve returns the attribute a path names and the entity owning it.
func (v *validator) resolve(e *schema.EntityType, path string) (*schema.EntityType, schema.Attribute, error) {
	hop, attr := SplitPath(path)
	owner := e
	if hop != "" {
		rel, ok := e.Relationship(hop)
		if !ok {
			return nil, schema.Attribute{}, v.errorf(e, path, "unknown relationship %q", hop)
		}
		target, ok := v.reg.Entity(rel.Target)
		if !ok {
			return nil, schema.Attribute{}, v.errorf(e, path, "unknown target entity %q", rel.Target)
		}
		owner = target
	}
	a, ok := owner.Attribute(attr)
	if !ok {
		return nil, schema.Attribute{}, v.errorf(e, path, "unknown attribute %q on %s", attr, owner.Name())
	}
	return owner, a, nil
}

func (v *validator) compare(e *schema.EntityType, c Compare) error {
	if !c.Op.Valid() {
		return v.errorf(e, c.Path, "unknown operator %q", c.Op)
	}
	_, attr, err := v.resolve(e, c.Path)
	if err != nil {
		return err
	}
	if value.IsNull(c.Value) {
		return v.errorf(e, c.Path, "comparison with null; use IsNull")
	}
	if !value.Conforms(attr.Type, c.Value) {
		return v.errorf(e, c.Path, "%s does not match attribute type %s", value.Describe(c.Value), attr.Type)
	}
	if c.Op.IsStringOp() && attr.Type != value.TypeString {
		return v.errorf(e, c.Path, "%s requires a string attribute", c.Op)
	}
	if (c.Options.CaseInsensitive || c.Options.DiacriticInsensitive) && attr.Type != value.TypeString {
		return v.errorf(e, c.Path, "folding options require a string attribute")
	}
	return nil
}

// ValidateSort checks that every sort key names an attribute of entity.
func ValidateSort(reg *schema.Registry, entity string, sort []SortDescriptor) error {
	e, ok := reg.Entity(entity)
	if !ok {
		return &schema.SchemaError{Entity: entity, Message: "unknown entity"}
	}
	for _, s := range sort {
		a, ok := e.Attribute(s.Key)
		if !ok {
			return &schema.SchemaError{Entity: entity, Field: s.Key, Message: "unknown sort attribute"}
		}
		if (s.Options.CaseInsensitive || s.Options.DiacriticInsensitive) && a.Type != value.TypeString {
			return &schema.SchemaError{Entity: entity, Field: s.Key, Message: "folding options require a string attribute"}
		}
	}
	return nil
}
