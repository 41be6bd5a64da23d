// Package apperr defines the structured error taxonomy used across the
// governance core, matching the uniform failure envelope from spec §7.
package apperr

import (
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the recovery strategies from spec §7.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindStateMachine  Kind = "state_machine"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindAmbiguous     Kind = "ambiguous"
	KindConflict      Kind = "conflict"
	KindTransient     Kind = "transient"
	KindDeadLetter    Kind = "dead_letter"
)

// Error is the structured error returned by every gate, handler, and
// worker in the system. It serializes to the envelope documented in §7:
// {success:false, error, code, status, hint?, gate?, fields?, details?}.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Status  int            `json:"status"`
	Hint    string         `json:"hint,omitempty"`
	Gate    string         `json:"gate,omitempty"`
	Fields  []string       `json:"fields,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Envelope is the uniform JSON failure response.
type Envelope struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Status  int            `json:"status"`
	Hint    string         `json:"hint,omitempty"`
	Gate    string         `json:"gate,omitempty"`
	Fields  []string       `json:"fields,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope converts the error into its wire representation.
func (e *Error) ToEnvelope() Envelope {
	return Envelope{
		Success: false,
		Error:   e.Message,
		Code:    e.Code,
		Status:  e.Status,
		Hint:    e.Hint,
		Gate:    e.Gate,
		Fields:  e.Fields,
		Details: e.Details,
	}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithFields(fields ...string) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

func newErr(kind Kind, code, msg string, status int, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Status: status, cause: cause}
}

// Validation builds a 400 validation error with an optional field list.
func Validation(msg string, fields ...string) *Error {
	e := newErr(KindValidation, "VALIDATION", msg, http.StatusBadRequest, nil)
	e.Fields = fields
	return e
}

// GateFailure builds a 422 state-machine / gate-chain error.
func GateFailure(gate, msg, hint string) *Error {
	e := newErr(KindStateMachine, "GATE_FAILED", msg, http.StatusUnprocessableEntity, nil)
	e.Gate = gate
	e.Hint = hint
	return e
}

// Unauthorized builds a 403 authorization error.
func Unauthorized(gate, msg string) *Error {
	e := newErr(KindAuthorization, "UNAUTHORIZED", msg, http.StatusForbidden, nil)
	e.Gate = gate
	return e
}

// NotFound builds a 404 not-found error.
func NotFound(entity, id string) *Error {
	return newErr(KindNotFound, "NOT_FOUND", fmt.Sprintf("%s %q not found", entity, id), http.StatusNotFound, nil)
}

// Ambiguous builds a 400 ambiguous-prefix error carrying the candidate ids.
func Ambiguous(candidates []string) *Error {
	e := newErr(KindAmbiguous, "AMBIGUOUS_PREFIX", "prefix resolves to multiple entities", http.StatusBadRequest, nil)
	return e.WithDetail("candidates", candidates)
}

// Conflict builds a 409 error for a request that conflicts with the
// entity's current state.
func Conflict(msg string) *Error {
	return newErr(KindConflict, "CONFLICT", msg, http.StatusConflict, nil)
}

// Transient builds an error for a retryable network/DB condition.
func Transient(msg string, cause error) *Error {
	return newErr(KindTransient, "TRANSIENT", msg, http.StatusServiceUnavailable, cause)
}

// Internal wraps an unexpected error as a 500.
func Internal(msg string, cause error) *Error {
	return newErr(KindTransient, "INTERNAL", msg, http.StatusInternalServerError, cause)
}

// As extracts an *Error from err, if it is one.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
