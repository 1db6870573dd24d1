// Package apperror provides the closed AppError taxonomy used across every
// Clarium engine and at the statement-ingress boundary. Modeled on the
// StandardError/ErrorCode pattern (single wrapped struct, one ToXxx method
// per transport) rather than a grab-bag of ad-hoc error values.
package apperror

import (
	"fmt"
	"net/http"
)

// Kind is one of the closed set of error kinds from spec §7. Never add a
// Kind without updating every ToXxx mapping below.
type Kind string

const (
	KindUserInput Kind = "UserInput"
	KindNotFound  Kind = "NotFound"
	KindConflict  Kind = "Conflict"
	KindAuth      Kind = "Auth"
	KindCsrf      Kind = "Csrf"
	KindDdl       Kind = "Ddl"
	KindExec      Kind = "Exec"
	KindIo        Kind = "Io"
	KindInternal  Kind = "Internal"
)

// AppError is the single error type every engine and the planner/executor
// return. Code is a short machine-readable slug; Message is human text.
type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *AppError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// New constructs an AppError of the given kind.
func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a kind/code to an underlying error, preserving it for
// errors.Is/As while presenting a stable message at the API boundary.
func Wrap(kind Kind, code string, cause error) *AppError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &AppError{Kind: kind, Code: code, Message: msg, cause: cause}
}

// WithDetails attaches structured context (e.g. the failing chunk path)
// without changing the error's kind or message.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func UserInput(code, format string, args ...any) *AppError {
	return New(KindUserInput, code, fmt.Sprintf(format, args...))
}

func NotFound(code, format string, args ...any) *AppError {
	return New(KindNotFound, code, fmt.Sprintf(format, args...))
}

func Conflict(code, format string, args ...any) *AppError {
	return New(KindConflict, code, fmt.Sprintf(format, args...))
}

func Ddl(code, format string, args ...any) *AppError {
	return New(KindDdl, code, fmt.Sprintf(format, args...))
}

func Exec(code, format string, args ...any) *AppError {
	return New(KindExec, code, fmt.Sprintf(format, args...))
}

func Io(code string, cause error) *AppError {
	return Wrap(KindIo, code, cause)
}

func Internal(code, format string, args ...any) *AppError {
	return New(KindInternal, code, fmt.Sprintf(format, args...))
}

// ToHTTPStatus derives an HTTP status from kind, per spec §6.
func (e *AppError) ToHTTPStatus() int {
	switch e.Kind {
	case KindUserInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindCsrf:
		return http.StatusForbidden
	case KindDdl:
		return http.StatusBadRequest
	case KindExec:
		return http.StatusUnprocessableEntity
	case KindIo:
		return http.StatusInternalServerError
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// PgError is the (SQLSTATE, severity, message) triple pgwire adapters send
// on the wire per spec §6.
type PgError struct {
	SQLState string
	Severity string
	Message  string
}

// ToPgError maps an AppError to the pgwire contract. Connections stay open
// after any of these — only transport failure or explicit terminate closes
// the connection, per spec §6/§7.
func (e *AppError) ToPgError() PgError {
	sqlstate := "XX000" // internal_error, fallback
	severity := "ERROR"
	switch e.Kind {
	case KindUserInput:
		sqlstate = "22023" // invalid_parameter_value
	case KindNotFound:
		sqlstate = "42P01" // undefined_table (closest general "not found")
	case KindConflict:
		sqlstate = "23505" // unique_violation
	case KindAuth:
		sqlstate = "28000" // invalid_authorization_specification
	case KindCsrf:
		sqlstate = "42501" // insufficient_privilege
	case KindDdl:
		sqlstate = "42601" // syntax_error_or_access_rule_violation
	case KindExec:
		sqlstate = "22000" // data_exception
	case KindIo:
		sqlstate = "58030" // io_error
	case KindInternal:
		sqlstate = "XX000"
	}
	return PgError{SQLState: sqlstate, Severity: severity, Message: e.Message}
}

// HTTPEnvelope is the {"status":"ok"|"error",...} body shape from spec §6.
type HTTPEnvelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Results any    `json:"results,omitempty"`
}

func SuccessEnvelope(results any) HTTPEnvelope {
	return HTTPEnvelope{Status: "ok", Results: results}
}

func ErrorEnvelope(e *AppError) HTTPEnvelope {
	return HTTPEnvelope{Status: "error", Code: e.Code, Message: e.Message}
}

// Recover wraps fn so that any panic on a user-visible path is caught at
// the statement boundary and remapped to Internal, per spec §7. Never
// returns a panic to the caller as a Go panic.
func Recover(fn func() (*AppError)) (err *AppError) {
	defer func() {
		if r := recover(); r != nil {
			err = Internal("internal_panic", "recovered panic: %v", r)
		}
	}()
	return fn()
}

// As reports whether err is an *AppError and, if so, returns it.
func As(err error) (*AppError, bool) {
	ae, ok := err.(*AppError)
	return ae, ok
}

// Is reports whether err is an *AppError of the given Kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Kind == kind
}
