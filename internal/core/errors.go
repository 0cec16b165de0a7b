package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned for a chunk whose session already finalized.
	ErrSessionClosed = errors.New("upload session already completed")

	// ErrSessionNotFound is returned by session stores for unknown ids.
	ErrSessionNotFound = errors.New("upload not found")

	// ErrChunkOutOfRange is returned when a chunk extends past the declared
	// total size or overlaps bytes already counted.
	ErrChunkOutOfRange = errors.New("chunk out of range")
)

// ValidationError reports a rejected upload. Field is the request field the
// failure is attributed to; Reason is the technical detail for logs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// newValidationError builds a ValidationError attributed to field.
func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MissingUploadError is returned when the request carries no file under the
// expected field. Err is set when the multipart body could not be parsed.
type MissingUploadError struct {
	Field string
	Err   error
}

func (e *MissingUploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no file provided in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("no file provided in field %q", e.Field)
}

func (e *MissingUploadError) Unwrap() error { return e.Err }

// StorageWriteError wraps a failure of the storage backend.
type StorageWriteError struct {
	Disk string
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write to %s:%s failed: %v", e.Disk, e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// PostProcessingError is reported by post-processors and never surfaces to
// clients.
type PostProcessingError struct {
	Stage string // submit, decode, download
	Err   error
}

func (e *PostProcessingError) Error() string {
	return fmt.Sprintf("post-processing %s: %v", e.Stage, e.Err)
}

func (e *PostProcessingError) Unwrap() error {
	return e.Err
}
