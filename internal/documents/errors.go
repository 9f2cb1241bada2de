package documents

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound: a shipment, document or job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidFile: the upload is empty or of a disallowed type.
	ErrInvalidFile = errors.New("invalid file")
	// ErrStorageFailure: the blob store rejected the write.
	ErrStorageFailure = errors.New("storage failure")
	// ErrPreconditionFailed: autofill was attempted before extraction completed.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrExtractionFailure is recorded on jobs; it never reaches an upload caller.
	ErrExtractionFailure = errors.New("extraction failed")
	// ErrUnavailable: the database could not serve the request; retryable.
	ErrUnavailable = errors.New("service unavailable")
)

// FieldError is one rejected upload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field problem of a request. It matches
// ErrInvalidFile under errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidFile
}
