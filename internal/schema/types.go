package schema

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/objgraph/internal/value"
)

// DeleteRule is the policy applied to related objects when an object is
// deleted.
type DeleteRule string

const (
	// Nullify removes the deleted object from the related objects'
	// inverse relationship.
	Nullify DeleteRule = "nullify"
	// Cascade deletes the related objects as well.
	Cascade DeleteRule = "cascade"
	// Deny refuses the delete while related objects exist.
	Deny DeleteRule = "deny"
)

// Valid reports whether r is a known delete rule.
func (r DeleteRule) Valid() bool {
	return r == Nullify || r == Cascade || r == Deny
}

// Attribute declares a scalar attribute of an entity.
type Attribute struct {
	Name     string      `json:"name"`
	Type     value.Type  `json:"type"`
	Default  value.Value `json:"-"`
	Optional bool        `json:"optional,omitempty"`
}

// Required reports whether the attribute must be non-null at save time.
func (a Attribute) Required() bool {
	return !a.Optional
}

type attributeJSON struct {
	Name     string          `json:"name"`
	Type     value.Type      `json:"type"`
	Default  json.RawMessage `json:"default,omitempty"`
	Optional bool            `json:"optional,omitempty"`
}

// MarshalJSON encodes the attribute including its default value.
func (a Attribute) MarshalJSON() ([]byte, error) {
	out := attributeJSON{Name: a.Name, Type: a.Type, Optional: a.Optional}
	if !value.IsNull(a.Default) {
		raw, err := value.Marshal(a.Default)
		if err != nil {
			return nil, fmt.Errorf("attribute %s default: %w", a.Name, err)
		}
		out.Default = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an attribute including its default value.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var in attributeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*a = Attribute{Name: in.Name, Type: in.Type, Optional: in.Optional}
	if len(in.Default) > 0 {
		v, err := value.Unmarshal(in.Default)
		if err != nil {
			return fmt.Errorf("attribute %s default: %w", in.Name, err)
		}
		a.Default = v
	}
	return nil
}

// Relationship declares a link from one entity to another.
//
// MaxCount 1 makes the relationship to-one; 0 means unbounded. MinCount is
// enforced at save time unless the relationship is Optional.
type Relationship struct {
	Name       string     `json:"name"`
	Target     string     `json:"target"`
	MinCount   int        `json:"min,omitempty"`
	MaxCount   int        `json:"max,omitempty"`
	DeleteRule DeleteRule `json:"delete_rule"`
	Inverse    string     `json:"inverse,omitempty"`
	Optional   bool       `json:"optional,omitempty"`
}

// ToMany reports whether the relationship may hold more than one target.
func (r Relationship) ToMany() bool {
	return r.MaxCount != 1
}

// Required reports whether at least one target must be present at save time.
func (r Relationship) Required() bool {
	return !r.Optional && r.MinCount >= 1
}

// EntityType is a registered entity with its attributes and bound
// relationships. EntityTypes are immutable once the registry is sealed.
type EntityType struct {
	name          string
	attributes    []Attribute
	relationships []Relationship
	attrIndex     map[string]int
	relIndex      map[string]int
}

// Name returns the entity name.
func (e *EntityType) Name() string {
	return e.name
}

// Attributes returns the attributes in declaration order.
func (e *EntityType) Attributes() []Attribute {
	return append([]Attribute(nil), e.attributes...)
}

// Relationships returns the bound relationships in declaration order.
func (e *EntityType) Relationships() []Relationship {
	return append([]Relationship(nil), e.relationships...)
}

// Attribute looks up an attribute by name.
func (e *EntityType) Attribute(name string) (Attribute, bool) {
	i, ok := e.attrIndex[name]
	if !ok {
		return Attribute{}, false
	}
	return e.attributes[i], true
}

// Relationship looks up a bound relationship by name.
func (e *EntityType) Relationship(name string) (Relationship, bool) {
	i, ok := e.relIndex[name]
	if !ok {
		return Relationship{}, false
	}
	return e.relationships[i], true
}

// Defaults returns the initial attribute map for a new object:
// every attribute set to its default, or Null.
func (e *EntityType) Defaults() map[string]value.Value {
	m := make(map[string]value.Value, len(e.attributes))
	for _, a := range e.attributes {
		if a.Default != nil {
			m[a.Name] = a.Default
		} else {
			m[a.Name] = value.Null{}
		}
	}
	return m
}

// Definition is the serialisable form of an entity type.
type Definition struct {
	Name          string         `json:"name"`
	Attributes    []Attribute    `json:"attributes"`
	Relationships []Relationship `json:"relationships"`
}

// Definition returns the serialisable form of e.
func (e *EntityType) Definition() Definition {
	return Definition{
		Name:          e.name,
		Attributes:    e.Attributes(),
		Relationships: e.Relationships(),
	}
}
