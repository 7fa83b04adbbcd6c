package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/objgraph/internal/graph"
)

// ErrorCode categorises session errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates pending changes failed save validation.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeReferentialIntegrity indicates a delete would leave a required
	// relationship unsatisfied or was denied by a delete rule.
	ErrCodeReferentialIntegrity ErrorCode = "REFERENTIAL_INTEGRITY"

	// ErrCodeBatchConflict indicates a batch operation matched objects with
	// uncommitted changes or would orphan surviving objects.
	ErrCodeBatchConflict ErrorCode = "BATCH_CONFLICT"
)

var (
	// ErrForeignInstance is returned when an instance owned by another
	// session is passed to a session or used as a relationship target.
	ErrForeignInstance = errors.New("instance belongs to another session")

	// ErrObjectNotFound is returned when an object is not visible to the
	// session, e.g. when a fault fires for a deleted row.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInstanceDeleted is returned when a deleted instance is modified.
	ErrInstanceDeleted = errors.New("instance is deleted")

	// ErrSessionClosed is returned by Perform after Close.
	ErrSessionClosed = errors.New("session closed")
)

// Violation is one reason an instance failed save validation.
type Violation struct {
	ID     graph.ObjectID
	Field  string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s.%s: %s", v.ID, v.Field, v.Reason)
}

// ValidationError lists every violation found by a save.
type ValidationError struct {
	Violations []Violation
}

// Code returns ErrCodeValidation.
func (e *ValidationError) Code() ErrorCode {
	return ErrCodeValidation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%s: %d violation(s): %s", ErrCodeValidation, len(e.Violations), strings.Join(parts, "; "))
}

// ReferentialIntegrityError reports a delete that cannot be applied.
// ID is the object being deleted; Referrer and Relationship name the
// surviving object and relationship that blocks it.
type ReferentialIntegrityError struct {
	ID           graph.ObjectID
	Referrer     graph.ObjectID
	Relationship string
	Message      string
}

// Code returns ErrCodeReferentialIntegrity.
func (e *ReferentialIntegrityError) Code() ErrorCode {
	return ErrCodeReferentialIntegrity
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("%s: cannot delete %s: %s (%s.%s)", ErrCodeReferentialIntegrity, e.ID, e.Message, e.Referrer, e.Relationship)
}

// BatchOperationError reports a batch update or delete that was refused.
// Nothing was written.
type BatchOperationError struct {
	Entity    string
	Conflicts []graph.ObjectID
	Message   string
	Err       error
}

// Code returns ErrCodeBatchConflict.
func (e *BatchOperationError) Code() ErrorCode {
	return ErrCodeBatchConflict
}

func (e *BatchOperationError) Error() string {
	if len(e.Conflicts) > 0 {
		return fmt.Sprintf("%s: %s: %s (%d objects)", ErrCodeBatchConflict, e.Entity, e.Message, len(e.Conflicts))
	}
	return fmt.Sprintf("%s: %s: %s", ErrCodeBatchConflict, e.Entity, e.Message)
}

func (e *BatchOperationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsReferentialIntegrityError reports whether err is or wraps a
// *ReferentialIntegrityError.
func IsReferentialIntegrityError(err error) bool {
	var re *ReferentialIntegrityError
	return errors.As(err, &re)
}

// IsBatchOperationError reports whether err is or wraps a
// *BatchOperationError.
func IsBatchOperationError(err error) bool {
	var be *BatchOperationError
	return errors.As(err, &be)
}
