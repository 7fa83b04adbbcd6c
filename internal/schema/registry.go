package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/roach88/objgraph/internal/value"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry holds entity types. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityType
	order    []string
	pending  map[string][]Relationship
	sealed   bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*EntityType),
		pending:  make(map[string][]Relationship),
	}
}

// DefineEntity declares an entity type with its attributes and queues its
// relationships for binding when the registry is sealed.
//
// Fails with DuplicateEntityError if the name is registered and with
// SchemaError for malformed attributes or relationships.
func (r *Registry) DefineEntity(name string, attributes []Attribute, relationships []Relationship) (*EntityType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.declareLocked(name, attributes)
	if err != nil {
		return nil, err
	}
	for _, rel := range relationships {
		if err := checkRelationship(e, rel); err != nil {
			delete(r.entities, name)
			r.order = r.order[:len(r.order)-1]
			return nil, err
		}
	}
	r.pending[name] = append(r.pending[name], relationships...)
	return e, nil
}

// Declare introduces an entity type without relationships (phase one).
func (r *Registry) Declare(name string, attributes ...Attribute) (*EntityType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declareLocked(name, attributes)
}

func (r *Registry) declareLocked(name string, attributes []Attribute) (*EntityType, error) {
	if r.sealed {
		return nil, schemaErrorf(name, "", "registry is sealed")
	}
	if !identRE.MatchString(name) {
		return nil, schemaErrorf(name, "", "invalid entity name")
	}
	if _, exists := r.entities[name]; exists {
		return nil, &DuplicateEntityError{Name: name}
	}

	e := &EntityType{
		name:      name,
		attrIndex: make(map[string]int, len(attributes)),
		relIndex:  make(map[string]int),
	}
	for _, a := range attributes {
		if err := checkAttribute(name, a); err != nil {
			return nil, err
		}
		if _, dup := e.attrIndex[a.Name]; dup {
			return nil, schemaErrorf(name, a.Name, "duplicate attribute")
		}
		if a.Default != nil {
			// Store defaults in the attribute's own representation.
			d, _ := value.Coerce(a.Type, a.Default)
			a.Default = d
		}
		e.attrIndex[a.Name] = len(e.attributes)
		e.attributes = append(e.attributes, a)
	}

	r.entities[name] = e
	r.order = append(r.order, name)
	return e, nil
}

func checkAttribute(entity string, a Attribute) error {
	if !identRE.MatchString(a.Name) {
		return schemaErrorf(entity, a.Name, "invalid attribute name")
	}
	if !a.Type.Valid() {
		return schemaErrorf(entity, a.Name, "unknown attribute type %q", a.Type)
	}
	if a.Default != nil && !value.Conforms(a.Type, a.Default) {
		return schemaErrorf(entity, a.Name, "default %s does not match type %s", value.Describe(a.Default), a.Type)
	}
	return nil
}

func checkRelationship(e *EntityType, rel Relationship) error {
	if !identRE.MatchString(rel.Name) {
		return schemaErrorf(e.name, rel.Name, "invalid relationship name")
	}
	if _, clash := e.attrIndex[rel.Name]; clash {
		return schemaErrorf(e.name, rel.Name, "relationship name clashes with an attribute")
	}
	if rel.Target == "" {
		return schemaErrorf(e.name, rel.Name, "relationship target is required")
	}
	if rel.DeleteRule != "" && !rel.DeleteRule.Valid() {
		return schemaErrorf(e.name, rel.Name, "unknown delete rule %q", rel.DeleteRule)
	}
	if rel.MinCount < 0 || rel.MaxCount < 0 {
		return schemaErrorf(e.name, rel.Name, "negative cardinality")
	}
	if rel.MaxCount != 0 && rel.MinCount > rel.MaxCount {
		return schemaErrorf(e.name, rel.Name, "min count %d exceeds max count %d", rel.MinCount, rel.MaxCount)
	}
	return nil
}

// Bind attaches relationships to a declared entity (phase two).
// Every relationship target must already be declared.
func (r *Registry) Bind(entity string, relationships ...Relationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return schemaErrorf(entity, "", "registry is sealed")
	}
	e, ok := r.entities[entity]
	if !ok {
		return schemaErrorf(entity, "", "unknown entity")
	}
	for _, rel := range relationships {
		if err := r.bindLocked(e, rel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) bindLocked(e *EntityType, rel Relationship) error {
	if err := checkRelationship(e, rel); err != nil {
		return err
	}
	if _, ok := r.entities[rel.Target]; !ok {
		return schemaErrorf(e.name, rel.Name, "target entity %q is not declared", rel.Target)
	}
	if _, dup := e.relIndex[rel.Name]; dup {
		return schemaErrorf(e.name, rel.Name, "duplicate relationship")
	}
	if rel.DeleteRule == "" {
		rel.DeleteRule = Nullify
	}
	e.relIndex[rel.Name] = len(e.relationships)
	e.relationships = append(e.relationships, rel)
	return nil
}

// Seal binds every queued relationship, verifies inverses and freezes the
// registry. Sealing an already sealed registry is a no-op.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}

	for _, name := range r.order {
		e := r.entities[name]
		for _, rel := range r.pending[name] {
			if err := r.bindLocked(e, rel); err != nil {
				return err
			}
		}
		delete(r.pending, name)
	}

	for _, name := range r.order {
		e := r.entities[name]
		for _, rel := range e.relationships {
			if rel.Inverse == "" {
				continue
			}
			target := r.entities[rel.Target]
			inv, ok := target.Relationship(rel.Inverse)
			if !ok {
				return schemaErrorf(e.name, rel.Name, "inverse %s.%s does not exist", rel.Target, rel.Inverse)
			}
			if inv.Target != e.name {
				return schemaErrorf(e.name, rel.Name, "inverse %s.%s targets %s", rel.Target, rel.Inverse, inv.Target)
			}
			if inv.Inverse != "" && inv.Inverse != rel.Name {
				return schemaErrorf(e.name, rel.Name, "inverse %s.%s points back to %s", rel.Target, rel.Inverse, inv.Inverse)
			}
		}
	}

	// Inverse pairs are symmetric once sealed.
	for _, name := range r.order {
		e := r.entities[name]
		for _, rel := range e.relationships {
			if rel.Inverse == "" {
				continue
			}
			target := r.entities[rel.Target]
			i := target.relIndex[rel.Inverse]
			if target.relationships[i].Inverse == "" {
				target.relationships[i].Inverse = rel.Name
			}
		}
	}

	r.sealed = true
	return nil
}

// Sealed reports whether Seal has completed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Entity looks up an entity type by name.
func (r *Registry) Entity(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// MustEntity is like Entity but panics for unknown names.
func (r *Registry) MustEntity(name string) *EntityType {
	e, ok := r.Entity(name)
	if !ok {
		panic(fmt.Sprintf("schema: unknown entity %q", name))
	}
	return e
}

// Entities returns every entity type sorted by name.
func (r *Registry) Entities() []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Sorted(slices.Values(r.order))
	out := make([]*EntityType, len(names))
	for i, n := range names {
		out[i] = r.entities[n]
	}
	return out
}

// InverseOf returns the inverse of rel if one is declared.
func (r *Registry) InverseOf(rel Relationship) (Relationship, bool) {
	if rel.Inverse == "" {
		return Relationship{}, false
	}
	target, ok := r.Entity(rel.Target)
	if !ok {
		return Relationship{}, false
	}
	return target.Relationship(rel.Inverse)
}

// Referencing returns every relationship, on any entity, that targets
// entity, keyed by the owning entity name.
func (r *Registry) Referencing(entity string) map[string][]Relationship {
	out := make(map[string][]Relationship)
	for _, e := range r.Entities() {
		for _, rel := range e.relationships {
			if rel.Target == entity {
				out[e.name] = append(out[e.name], rel)
			}
		}
	}
	return out
}

// Catalogue returns the deterministic JSON encoding of every definition.
// The backing store persists it to detect schema mismatches on open.
func (r *Registry) Catalogue() ([]byte, error) {
	entities := r.Entities()
	defs := make([]Definition, len(entities))
	for i, e := range entities {
		defs[i] = e.Definition()
	}
	return json.Marshal(defs)
}
