package main

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPathEscape is returned when a client path resolves outside the root.
	ErrPathEscape = errors.New("path escapes root directory")
	// ErrInvalidInput marks malformed request data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for missing files or directories.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned for unauthenticated access and for writes
	// that would land outside the root.
	ErrAccessDenied = errors.New("access denied")
	// ErrRootUnavailable means the configured root is missing or not a
	// directory. The server stays in that state until a new root is set.
	ErrRootUnavailable = errors.New("root directory unavailable")
)

// PathError records a failed path resolution. Path is the client-supplied
// value; the resolved absolute path is never stored so it cannot leak into
// responses.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// SaveError wraps an I/O failure while persisting a diagram.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %q: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// statusFor maps an error from the core components onto an HTTP status.
func statusFor(err error) int {
	var saveErr *SaveError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRootUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrPathEscape):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &saveErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns text safe to show to a client for err.
func publicMessage(err error) string {
	var saveErr *SaveError
	switch {
	case errors.Is(err, ErrRootUnavailable):
		return "Root directory is not available, choose a new one at /set_root"
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrPathEscape):
		return "Access denied"
	case errors.Is(err, ErrInvalidInput):
		return "Invalid path"
	case errors.Is(err, ErrNotFound):
		return "File not found"
	case errors.As(err, &saveErr):
		return "Failed to save file"
	default:
		return "Internal server error"
	}
}
