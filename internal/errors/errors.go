package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies failures the way the canonical RPC codes do, so every
// engine operation fails with a typed outcome the API layer can map to HTTP.
type Code int

const (
	CodeInvalidArgument    Code = 3
	CodeNotFound           Code = 5
	CodeAlreadyExists      Code = 6
	CodeFailedPrecondition Code = 9
	CodeInternal           Code = 13
	CodeUnavailable        Code = 14
	CodeUnauthenticated    Code = 16
	CodePermissionDenied   Code = 7
)

var code2str = map[Code]string{
	CodeInvalidArgument:    "InvalidArgument",
	CodeNotFound:           "NotFound",
	CodeAlreadyExists:      "AlreadyExists",
	CodeFailedPrecondition: "FailedPrecondition",
	CodeInternal:           "Internal",
	CodeUnavailable:        "Unavailable",
	CodeUnauthenticated:    "Unauthenticated",
	CodePermissionDenied:   "PermissionDenied",
}

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusUnprocessableEntity,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeUnauthenticated:    http.StatusUnauthorized,
	CodePermissionDenied:   http.StatusForbidden,
}

func (c Code) String() string {
	if s, ok := code2str[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// FieldError carries per-field detail for malformed authored content, so the
// UI can attach messages to the offending inputs.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Code    Code         `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: code.String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	for _, f := range e.Fields {
		s += fmt.Sprintf(", %s: %s", f.Field, f.Message)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert returns err as an *Error, wrapping unknown errors as Internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	return Convert(err).Code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithField(field, message string) Option {
	return optionFunc(func(e *Error) {
		e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	})
}

func WithFields(fields []FieldError) Option {
	return optionFunc(func(e *Error) {
		e.Fields = append(e.Fields, fields...)
	})
}
