// Package errs defines the structured error taxonomy used throughout the
// engine, so callers across process boundaries can distinguish failure
// classes without parsing message text.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code names one of the recognized failure classes.
type Code string

const (
	CodeValidation      Code = "VALIDATION"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeCycleDetected   Code = "CYCLE_DETECTED"
	CodeConflict        Code = "CONFLICT"
	CodeMaxDepthExceeded Code = "MAX_DEPTH_EXCEEDED"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeStorage         Code = "STORAGE"
	CodeInternal        Code = "INTERNAL"
)

// httpStatus maps each Code to the status an HTTP-facing collaborator
// should return; kept here so every transport agrees on the mapping.
var httpStatus = map[Code]int{
	CodeValidation:       400,
	CodeNotFound:         404,
	CodeAlreadyExists:    409,
	CodeCycleDetected:    409,
	CodeConflict:         409,
	CodeMaxDepthExceeded: 400,
	CodeInvalidState:     409,
	CodeStorage:          500,
	CodeInternal:         500,
}

// Error is the engine's structured error type. It always carries a Code,
// optionally a details bag for machine-readable context, and optionally a
// wrapped cause for %w-based unwrapping.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code a REST-style caller should map this
// error to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

// MarshalJSON renders the wire shape {"name","message","code","details"}
// described in the error model, folding the Go-side Code into both "name"
// and "code" for clients keyed on either field.
func (e *Error) MarshalJSON() ([]byte, error) {
	type wire struct {
		Name    string                 `json:"name"`
		Code    Code                   `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	}
	return json.Marshal(wire{
		Name:    string(e.Code),
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

// New builds a plain Error with no details or wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a plain Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code and message to an underlying cause, preserving it
// for errors.Is/errors.As and %w-style chains.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails returns a copy of e with Details merged in.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		out.Details[k] = v
	}
	for k, v := range details {
		out.Details[k] = v
	}
	return &out
}

// Detail returns a copy of e with a single key added to Details.
func (e *Error) Detail(key string, value interface{}) *Error {
	out := *e
	if out.Details == nil {
		out.Details = make(map[string]interface{}, 1)
	} else {
		m := make(map[string]interface{}, len(out.Details)+1)
		for k, v := range out.Details {
			m[k] = v
		}
		out.Details = m
	}
	out.Details[key] = value
	return &out
}

// Is reports whether err carries the given Code, unwrapping as needed.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Convenience constructors for the most frequently raised codes.

func NotFound(kind, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", kind, id).Detail("id", id).Detail("kind", kind)
}

func AlreadyExists(kind, id string) *Error {
	return Newf(CodeAlreadyExists, "%s %q already exists", kind, id).Detail("id", id).Detail("kind", kind)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Validationf(format string, args ...interface{}) *Error {
	return Newf(CodeValidation, format, args...)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func CycleDetected(sourceID, targetID string, depType string) *Error {
	return Newf(CodeCycleDetected, "adding %s dependency %s -> %s would introduce a cycle", depType, sourceID, targetID).
		Detail("sourceId", sourceID).Detail("targetId", targetID).Detail("type", depType)
}

func MaxDepthExceeded(id string, depth int) *Error {
	return Newf(CodeMaxDepthExceeded, "hierarchical id %q would exceed maximum depth", id).
		Detail("id", id).Detail("depth", depth)
}

func InvalidState(message string) *Error {
	return New(CodeInvalidState, message)
}

func Storage(cause error, message string) *Error {
	return Wrap(CodeStorage, cause, message)
}

func Internal(cause error, message string) *Error {
	return Wrap(CodeInternal, cause, message)
}
