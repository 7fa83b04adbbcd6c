package schema

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/objgraph/internal/value"
)

//go:embed workshop.cue
var workshopCUE []byte

// Workshop returns a sealed registry with the Song/Band/Playlist catalogue.
func Workshop() *Registry {
	reg, err := CompileCUEBytes("workshop.cue", workshopCUE)
	if err != nil {
		panic(fmt.Errorf("embedded workshop schema: %w", err))
	}
	return reg
}

// WorkshopSource returns the CUE source of the embedded catalogue.
func WorkshopSource() []byte {
	return append([]byte(nil), workshopCUE...)
}

// CompileCUEBytes compiles CUE source into a sealed registry.
func CompileCUEBytes(filename string, src []byte) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return CompileCUE(v)
}

// CompileCUE builds a sealed registry from a CUE value of the form
//
//	entity: <Name>: {
//	  attributes:    <attr>: {type: "string"|"int"|"float"|"bool", default?: _, optional?: bool}
//	  relationships: <rel>:  {target: string, min?: int, max?: int,
//	                          deleteRule?: "nullify"|"cascade"|"deny",
//	                          inverse?: string, optional?: bool}
//	}
//
// Entities are declared first and relationships bound afterwards, so
// relationships may reference entities declared later in the file.
func CompileCUE(v cue.Value) (*Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, &SchemaError{Field: "entity", Message: "no entity definitions", Pos: v.Pos()}
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	reg := NewRegistry()
	type pendingRels struct {
		entity string
		rels   []Relationship
	}
	var bindings []pendingRels

	for iter.Next() {
		name := iter.Label()
		entityVal := iter.Value()

		attrs, err := parseAttributes(name, entityVal)
		if err != nil {
			return nil, err
		}
		if _, err := reg.Declare(name, attrs...); err != nil {
			return nil, withPos(err, entityVal)
		}

		rels, err := parseRelationships(name, entityVal)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, pendingRels{entity: name, rels: rels})
	}

	for _, b := range bindings {
		if err := reg.Bind(b.entity, b.rels...); err != nil {
			return nil, withPos(err, entitiesVal.LookupPath(cue.MakePath(cue.Str(b.entity))))
		}
	}

	if err := reg.Seal(); err != nil {
		return nil, withPos(err, entitiesVal)
	}
	return reg, nil
}

// parseAttributes extracts attribute definitions in declaration order.
func parseAttributes(entity string, v cue.Value) ([]Attribute, error) {
	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrsVal.Exists() {
		return nil, nil
	}

	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var attrs []Attribute
	for iter.Next() {
		attrName := iter.Label()
		attrVal := iter.Value()

		typeName, err := attrVal.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, &SchemaError{Entity: entity, Field: attrName, Message: "attribute type is required", Pos: attrVal.Pos()}
		}
		attr := Attribute{Name: attrName, Type: value.Type(typeName)}
		if !attr.Type.Valid() {
			return nil, &SchemaError{Entity: entity, Field: attrName, Message: fmt.Sprintf("unknown attribute type %q", typeName), Pos: attrVal.Pos()}
		}

		if opt := attrVal.LookupPath(cue.ParsePath("optional")); opt.Exists() {
			attr.Optional, err = opt.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}

		if def := attrVal.LookupPath(cue.ParsePath("default")); def.Exists() {
			attr.Default, err = parseDefault(attr.Type, def)
			if err != nil {
				return nil, &SchemaError{Entity: entity, Field: attrName, Message: err.Error(), Pos: def.Pos()}
			}
		}

		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// parseDefault reads a default literal as the attribute's scalar type.
func parseDefault(t value.Type, v cue.Value) (value.Value, error) {
	switch t {
	case value.TypeString:
		s, err := v.String()
		if err != nil {
			return nil, fmt.Errorf("default must be a string")
		}
		return value.String(s), nil
	case value.TypeInt:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("default must be an int")
		}
		return value.Int(n), nil
	case value.TypeFloat:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("default must be a number")
		}
		return value.Float(f), nil
	case value.TypeBool:
		b, err := v.Bool()
		if err != nil {
			return nil, fmt.Errorf("default must be a bool")
		}
		return value.Bool(b), nil
	default:
		return nil, fmt.Errorf("unsupported type %q", t)
	}
}

// parseRelationships extracts relationship definitions in declaration order.
func parseRelationships(entity string, v cue.Value) ([]Relationship, error) {
	relsVal := v.LookupPath(cue.ParsePath("relationships"))
	if !relsVal.Exists() {
		return nil, nil
	}

	iter, err := relsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rels []Relationship
	for iter.Next() {
		relName := iter.Label()
		relVal := iter.Value()

		target, err := relVal.LookupPath(cue.ParsePath("target")).String()
		if err != nil {
			return nil, &SchemaError{Entity: entity, Field: relName, Message: "relationship target is required", Pos: relVal.Pos()}
		}
		rel := Relationship{Name: relName, Target: target}

		if rel.MinCount, err = optionalInt(relVal, "min"); err != nil {
			return nil, err
		}
		if rel.MaxCount, err = optionalInt(relVal, "max"); err != nil {
			return nil, err
		}
		if rule := relVal.LookupPath(cue.ParsePath("deleteRule")); rule.Exists() {
			s, err := rule.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rel.DeleteRule = DeleteRule(s)
			if !rel.DeleteRule.Valid() {
				return nil, &SchemaError{Entity: entity, Field: relName, Message: fmt.Sprintf("unknown delete rule %q", s), Pos: rule.Pos()}
			}
		}
		if inv := relVal.LookupPath(cue.ParsePath("inverse")); inv.Exists() {
			if rel.Inverse, err = inv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if opt := relVal.LookupPath(cue.ParsePath("optional")); opt.Exists() {
			if rel.Optional, err = opt.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		rels = append(rels, rel)
	}
	return rels, nil
}

func optionalInt(v cue.Value, field string) (int, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return 0, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

// withPos attaches the CUE position of v to schema errors lacking one.
func withPos(err error, v cue.Value) error {
	if se, ok := err.(*SchemaError); ok && !se.Pos.IsValid() {
		se.Pos = v.Pos()
	}
	return err
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &SchemaError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &SchemaError{Field: "cue", Message: first.Error()}
}
