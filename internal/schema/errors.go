package schema

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
)

// SchemaError reports an invalid entity, attribute or relationship
// definition, or a predicate that does not fit the schema.
type SchemaError struct {
	// Entity is the entity type the definition belongs to (may be empty).
	Entity string

	// Field names the attribute, relationship or path at fault (may be empty).
	Field string

	// Message is a human-readable description.
	Message string

	// Pos is the CUE source position when the definition came from CUE.
	Pos token.Pos
}

func (e *SchemaError) Error() string {
	where := e.Entity
	if e.Field != "" {
		if where != "" {
			where += "."
		}
		where += e.Field
	}
	msg := e.Message
	if where != "" {
		msg = where + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	return msg
}

// DuplicateEntityError reports a second definition of an entity name.
type DuplicateEntityError struct {
	Name string
}

func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("entity %q is already defined", e.Name)
}

// IsSchemaError returns true if err is or wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsDuplicateEntity returns true if err is or wraps a DuplicateEntityError.
func IsDuplicateEntity(err error) bool {
	var de *DuplicateEntityError
	return errors.As(err, &de)
}

func schemaErrorf(entity, field, format string, args ...any) *SchemaError {
	return &SchemaError{Entity: entity, Field: field, Message: fmt.Sprintf(format, args...)}
}
