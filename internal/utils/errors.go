package utils

import "fmt"

// AppError is an operator-facing failure: Op names the coordination operation
// that rejected the request, Msg explains it in terms safe to return over the
// API, and Err carries the internal cause for logs.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Msg
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

// Unwrap exposes the internal cause to errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps a rejection so the API layer can map it to a client
// error instead of a 500.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
