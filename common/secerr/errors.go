package secerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the HTTP boundary and the task wrapper.
type Kind string

const (
	KindConfig            Kind = "config_error"
	KindConfigMissingEnv  Kind = "config_missing_env"
	KindScanCantBeScanned Kind = "scan_cant_be_scanned"
	KindScanSkipped       Kind = "scan_execution_skipped"
	KindScanCheckFailed   Kind = "scan_check_failed"
	KindInput             Kind = "input_error"
	KindRuntime           Kind = "runtime_error"
)

// Error is a classified secbot error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with formatting
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindRuntime for unclassified errors
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindRuntime
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// httpStatus maps error kinds to HTTP status codes.
// Unknown kinds fall through to 500.
var httpStatus = map[Kind]int{
	KindConfig:            http.StatusInternalServerError,
	KindConfigMissingEnv:  http.StatusInternalServerError,
	KindScanCantBeScanned: http.StatusConflict,
	KindInput:             http.StatusBadRequest,
}

// HTTPStatus returns the status code for an error kind
func HTTPStatus(err error) int {
	if status, ok := httpStatus[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
