package kcouch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidArgument invalid_argument
	ErrInvalidArgument = errors.New("invalid_argument")
	// ErrNotFound not_found
	ErrNotFound = errors.New("not_found")
	// ErrConflict conflict
	ErrConflict = errors.New("conflict")
	// ErrRevisionMismatch revision_mismatch
	ErrRevisionMismatch = errors.New("revision_mismatch")
	// ErrValidation validation_error
	ErrValidation = errors.New("validation_error")
	// ErrTransport transport_error
	ErrTransport = errors.New("transport_error")
	// ErrTypeMismatch type_mismatch
	ErrTypeMismatch = errors.New("type_mismatch")
	// ErrDoesNotExist object_does_not_exist
	ErrDoesNotExist = errors.New("object_does_not_exist")
	// ErrMultipleObjectsReturned multiple_objects_returned
	ErrMultipleObjectsReturned = errors.New("multiple_objects_returned")
	// ErrDatabaseExists file_exists
	ErrDatabaseExists = errors.New("file_exists")
	// ErrUnauthorized unauthorized
	ErrUnauthorized = errors.New("unauthorized")

	// MessageClusterFinished reason returned by a store whose cluster setup already ran
	MessageClusterFinished = "Cluster is already finished"
)

// Error is a failed round-trip to the store. It keeps the decoded error body
// so callers can branch on Code or inspect Payload.
type Error struct {
	StatusCode int
	Code       string
	Reason     string
	Payload    map[string]interface{}
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the store error belongs to the kind named by target.
func (e *Error) Is(target error) bool {
	return errorKind(e.StatusCode, e.Code) == target
}

func errorKind(statusCode int, code string) error {
	switch {
	case code == "transport_error":
		return ErrTransport
	case statusCode == http.StatusNotFound || code == "not_found":
		return ErrNotFound
	case statusCode == http.StatusConflict || code == "conflict":
		return ErrConflict
	case code == "file_exists":
		return ErrDatabaseExists
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrUnauthorized
	case statusCode == http.StatusBadRequest:
		return ErrValidation
	case code == "compilation_error" || code == "missing_required_key" || code == "invalid_design_doc":
		return ErrValidation
	default:
		return nil
	}
}

func transportError(err error) *Error {
	return &Error{
		Code:    "transport_error",
		Reason:  err.Error(),
		Payload: map[string]interface{}{"error": "transport_error", "reason": err.Error()},
		Err:     err,
	}
}

// StoreError returns the store payload carried by err, if any.
func StoreError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}
