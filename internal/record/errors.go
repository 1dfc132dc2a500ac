package record

import (
	"errors"
	"fmt"
)

// StoreError represents an error detected while querying or mutating a
// record store.
//
// Store errors include:
//   - Model not found: a script referenced a model name the document lacks
//   - Record not found: update/delete matched nothing in non-test mode
//   - Invalid content: the document blob is not valid JSON or lacks models
//
// StoreError includes structured fields for diagnostics; the sandbox
// surfaces only the message text to scripts.
type StoreError struct {
	// Code identifies the error category.
	Code StoreErrorCode

	// Message is a human-readable description.
	Message string

	// Model is the model name involved, when known.
	Model string
}

// StoreErrorCode categorizes store errors.
type StoreErrorCode string

const (
	// ErrCodeModelNotFound indicates a model name with no matching model.
	ErrCodeModelNotFound StoreErrorCode = "MODEL_NOT_FOUND"

	// ErrCodeRecordNotFound indicates update/delete matched no record.
	ErrCodeRecordNotFound StoreErrorCode = "RECORD_NOT_FOUND"

	// ErrCodeInvalidContent indicates an unparseable document blob.
	ErrCodeInvalidContent StoreErrorCode = "INVALID_CONTENT"
)

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// IsModelNotFound reports whether err is a model-not-found store error.
// Uses errors.As to handle wrapped errors.
func IsModelNotFound(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == ErrCodeModelNotFound
	}
	return false
}

// IsRecordNotFound reports whether err is a record-not-found store error.
func IsRecordNotFound(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == ErrCodeRecordNotFound
	}
	return false
}

// IsInvalidContent reports whether err is an invalid-document-content error.
func IsInvalidContent(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == ErrCodeInvalidContent
	}
	return false
}

// NewModelNotFound creates a StoreError for a missing model.
func NewModelNotFound(model string) *StoreError {
	return &StoreError{
		Code:    ErrCodeModelNotFound,
		Message: fmt.Sprintf("Model '%s' not found", model),
		Model:   model,
	}
}

// NewRecordNotFound creates a StoreError for an update/delete miss.
func NewRecordNotFound(model string) *StoreError {
	return &StoreError{
		Code:    ErrCodeRecordNotFound,
		Message: fmt.Sprintf("Record not found in model '%s'", model),
		Model:   model,
	}
}

// NewInvalidContent creates a StoreError for an unparseable document blob.
func NewInvalidContent(reason string) *StoreError {
	return &StoreError{
		Code:    ErrCodeInvalidContent,
		Message: fmt.Sprintf("Invalid document content: %s", reason),
	}
}
