package service

import "fmt"

// Error is a domain error returned by service methods.
// Handlers map these to appropriate HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable error code (e.g., "invalid_request", "not_found")
	Message string // human-readable message
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrValidation  ErrorKind = iota // 400
	ErrNotFound                     // 404
	ErrTransport                    // 502
	ErrTimeout                      // 504
	ErrUnavailable                  // 503
	ErrInternal                     // 500
)

func NewValidation(message string) *Error {
	return &Error{Kind: ErrValidation, Code: "invalid_request", Message: message}
}

func NewNotFound(message string) *Error {
	return &Error{Kind: ErrNotFound, Code: "not_found", Message: message}
}

func NewTransport(message string) *Error {
	return &Error{Kind: ErrTransport, Code: "transport_error", Message: message}
}

func NewTimeout(message string) *Error {
	return &Error{Kind: ErrTimeout, Code: "timeout", Message: message}
}

func NewUnavailable(message string) *Error {
	return &Error{Kind: ErrUnavailable, Code: "unavailable", Message: message}
}

func NewInternal(message string) *Error {
	return &Error{Kind: ErrInternal, Code: "internal_error", Message: message}
}
