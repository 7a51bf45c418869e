package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on the error code so predeclared errors survive Clone and Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound               = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrValidation             = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal               = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss              = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrCurriculumNotFound     = New("CURRICULUM_NOT_FOUND", http.StatusNotFound, "no curriculum entries for program")
	ErrDuplicateEnrollment    = New("DUPLICATE_ENROLLMENT", http.StatusConflict, "student already has an open enrollment for this semester")
	ErrNotPending             = New("NOT_PENDING", http.StatusPreconditionFailed, "enrollment is not pending")
	ErrNotEnrolled            = New("NOT_ENROLLED", http.StatusPreconditionFailed, "enrollment is not enrolled")
	ErrInconsistentState      = New("INCONSISTENT_STATE", http.StatusConflict, "enrollment and grade record are out of sync")
	ErrConcurrentModification = New("CONCURRENT_MODIFICATION", http.StatusConflict, "record changed since it was read")
	ErrRecordMalformed        = New("RECORD_MALFORMED", http.StatusUnprocessableEntity, "record contains malformed data")
	ErrStoreUnavailable       = New("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "backing store unavailable")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
