package kdb

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrBadJSON bad_request
	ErrBadJSON = errors.New("bad_request")
	// ErrBadRequest bad_request
	ErrBadRequest = errors.New("bad_request")
	// ErrDatabaseExists file_exists
	ErrDatabaseExists = errors.New("file_exists")
	// ErrDatabaseNotFound not_found
	ErrDatabaseNotFound = errors.New("not_found")
	// ErrDatabaseInvalidName illegal_database_name
	ErrDatabaseInvalidName = errors.New("illegal_database_name")
	// ErrDocumentInvalidID illegal_docid
	ErrDocumentInvalidID = errors.New("illegal_docid")
	// ErrDocumentInvalidInput doc_validation
	ErrDocumentInvalidInput = errors.New("doc_validation")
	// ErrDocumentConflict conflict
	ErrDocumentConflict = errors.New("conflict")
	// ErrDocumentNotFound not_found
	ErrDocumentNotFound = errors.New("not_found")
	// ErrDocumentDeleted not_found
	ErrDocumentDeleted = errors.New("not_found")
	// ErrViewNotFound not_found
	ErrViewNotFound = errors.New("not_found")
	// ErrIndexNotFound not_found
	ErrIndexNotFound = errors.New("not_found")
	// ErrQueryParse query_parse_error
	ErrQueryParse = errors.New("query_parse_error")
	// ErrCompilation compilation_error
	ErrCompilation = errors.New("compilation_error")
	// ErrInvalidDesignDocument invalid_design_doc
	ErrInvalidDesignDocument = errors.New("invalid_design_doc")
	// ErrMissingRequiredKey missing_required_key
	ErrMissingRequiredKey = errors.New("missing_required_key")
	// ErrInvalidOperator invalid_operator
	ErrInvalidOperator = errors.New("invalid_operator")
	// ErrUnauthorized unauthorized
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInternalError internal_error
	ErrInternalError = errors.New("internal_error")

	// MessageBadJSON error message for ErrBadJSON
	MessageBadJSON = "invalid UTF-8 JSON"
	// MessageDatabaseExists error message for ErrDatabaseExists
	MessageDatabaseExists = "The database could not be created, the file already exists."
	// MessageDatabaseNotFound error message for ErrDatabaseNotFound
	MessageDatabaseNotFound = "Database does not exist."
	// MessageDatabaseInvalidName error message for ErrDatabaseInvalidName
	MessageDatabaseInvalidName = "Only lowercase characters (a-z), digits (0-9), and any of the characters _, $, (, ), +, -, and / are allowed. Must begin with a letter."
	// MessageDocumentConflict error message for ErrDocumentConflict
	MessageDocumentConflict = "Document update conflict."
	// MessageDocumentNotFound error message for ErrDocumentNotFound
	MessageDocumentNotFound = "missing"
	// MessageDocumentDeleted error message for ErrDocumentDeleted
	MessageDocumentDeleted = "deleted"
	// MessageViewNotFound error message for ErrViewNotFound
	MessageViewNotFound = "missing_named_view"
	// MessageIndexNotFound error message for ErrIndexNotFound
	MessageIndexNotFound = "Index not found"
	// MessageClusterFinished error message for a repeated finish_cluster
	MessageClusterFinished = "Cluster is already finished"
	// MessageUnauthorized error message for ErrUnauthorized
	MessageUnauthorized = "Name or password is incorrect."
	// MessageInternalError error message for ErrInternalError
	MessageInternalError = "internal error"
)

var badRequests = []error{
	ErrBadJSON,
	ErrBadRequest,
	ErrDocumentInvalidID,
	ErrDocumentInvalidInput,
	ErrQueryParse,
	ErrCompilation,
	ErrInvalidDesignDocument,
	ErrMissingRequiredKey,
	ErrInvalidOperator,
}

func getErrorDescription(err error) string {
	e := errors.Unwrap(err)
	if e == nil {
		return err.Error()
	}
	return strings.Trim(strings.TrimRight(strings.ReplaceAll(err.Error(), e.Error(), ""), " "), ":")
}

func errorString(err error) (string, string) {
	switch {
	case errors.Is(err, ErrDatabaseExists):
		return ErrDatabaseExists.Error(), MessageDatabaseExists
	case errors.Is(err, ErrDatabaseNotFound):
		return ErrDatabaseNotFound.Error(), MessageDatabaseNotFound
	case errors.Is(err, ErrDocumentNotFound):
		return ErrDocumentNotFound.Error(), MessageDocumentNotFound
	case errors.Is(err, ErrDocumentDeleted):
		return ErrDocumentDeleted.Error(), MessageDocumentDeleted
	case errors.Is(err, ErrViewNotFound):
		return ErrViewNotFound.Error(), MessageViewNotFound
	case errors.Is(err, ErrIndexNotFound):
		return ErrIndexNotFound.Error(), MessageIndexNotFound
	case errors.Is(err, ErrDocumentConflict):
		return ErrDocumentConflict.Error(), MessageDocumentConflict
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized.Error(), MessageUnauthorized
	case errors.Is(err, ErrDatabaseInvalidName):
		return ErrDatabaseInvalidName.Error(), getErrorDescription(err) + " " + MessageDatabaseInvalidName
	}
	for _, kind := range badRequests {
		if errors.Is(err, kind) {
			return kind.Error(), getErrorDescription(err)
		}
	}
	return ErrInternalError.Error(), getErrorDescription(err)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrDatabaseExists):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrDocumentConflict):
		return http.StatusConflict
	case errors.Is(err, ErrDatabaseNotFound) || errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrDocumentDeleted) ||
		errors.Is(err, ErrViewNotFound) || errors.Is(err, ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDatabaseInvalidName):
		return http.StatusBadRequest
	}
	for _, kind := range badRequests {
		if errors.Is(err, kind) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// NotOK writes err as a JSON error body with its status code.
func NotOK(err error, w http.ResponseWriter) {
	code, reason := errorString(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(err))
	json.NewEncoder(w).Encode(map[string]string{"error": code, "reason": reason})
}
