package skills

import "fmt"

// ErrorType classifies a package-level failure.
type ErrorType string

// Package error types.
const (
	ErrParse      ErrorType = "PARSE_ERROR"
	ErrValidation ErrorType = "VALIDATION_ERROR"
	ErrNotFound   ErrorType = "NOT_FOUND"
	ErrIO         ErrorType = "IO_ERROR"
	ErrSecurity   ErrorType = "SECURITY_ERROR"
)

// PackageError records why a candidate package was rejected during discovery.
type PackageError struct {
	Path    string    `json:"path"`
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
}

func (e PackageError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Path, e.Message)
}

// ParseError is returned by Parse. Err carries the underlying reason.
type ParseError struct {
	Type ErrorType
	Err  error
}

func (e *ParseError) Error() string {
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
