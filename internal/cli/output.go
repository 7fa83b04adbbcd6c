package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/session"
	"github.com/roach88/objgraph/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected operation (validation, referential integrity, batch conflict)
	ExitCommandError = 2 // Command error (bad arguments, schema mismatch, storage failure)
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeArgument    = "E002" // Invalid argument or flag value
	ErrCodeSchema      = "E003" // Schema definition or schema mismatch
	ErrCodeValidation  = "E004" // Save validation failed
	ErrCodeReferential = "E005" // Delete would break a required relationship
	ErrCodeBatch       = "E006" // Batch operation conflict or failure
	ErrCodeNotFound    = "E007" // Object or file not found
	ErrCodeStorage     = "E008" // Backing store failure
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E002", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// classify maps an error to its CLI error code and exit code.
func classify(err error) (code string, exit int) {
	switch {
	case session.IsValidationError(err):
		return ErrCodeValidation, ExitFailure
	case session.IsReferentialIntegrityError(err):
		return ErrCodeReferential, ExitFailure
	case session.IsBatchOperationError(err):
		return ErrCodeBatch, ExitFailure
	case schema.IsSchemaError(err), schema.IsDuplicateEntity(err):
		return ErrCodeSchema, ExitCommandError
	case errors.Is(err, session.ErrObjectNotFound), errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound, ExitCommandError
	case store.IsStorageError(err):
		return ErrCodeStorage, ExitCommandError
	case isArgumentError(err), query.IsSyntaxError(err):
		return ErrCodeArgument, ExitCommandError
	}
	return ErrCodeGeneric, ExitFailure
}

// errorDetails returns structured details for errors that carry them.
func errorDetails(err error) interface{} {
	var ve *session.ValidationError
	if errors.As(err, &ve) {
		out := make([]map[string]string, len(ve.Violations))
		for i, v := range ve.Violations {
			out[i] = map[string]string{"id": v.ID.String(), "field": v.Field, "reason": v.Reason}
		}
		return out
	}
	var be *session.BatchOperationError
	if errors.As(err, &be) && len(be.Conflicts) > 0 {
		out := make([]string, len(be.Conflicts))
		for i, id := range be.Conflicts {
			out[i] = id.String()
		}
		return map[string]interface{}{"conflicts": out}
	}
	return nil
}

// Fail reports err through the formatter and returns the ExitError the
// command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), errorDetails(err))
	return WrapExitError(exit, fmt.Sprintf("%s: %s", code, message), err)
}

// argumentError marks a malformed flag or argument.
type argumentError struct {
	msg string
}

func (e *argumentError) Error() string {
	return e.msg
}

func argErrorf(format string, args ...interface{}) error {
	return &argumentError{msg: fmt.Sprintf(format, args...)}
}

func isArgumentError(err error) bool {
	var ae *argumentError
	return errors.As(err, &ae)
}
