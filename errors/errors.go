package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Sentinel errors shared across packages. Callers test for them with Is.
var (
	ErrToolNotFound      = stderrors.New("tool not found")
	ErrInvalidArguments  = stderrors.New("invalid arguments")
	ErrOutsideWorkspace  = stderrors.New("path is outside the workspace")
	ErrAccessDenied      = stderrors.New("access denied")
	ErrSessionNotFound   = stderrors.New("session not found")
	ErrMalformedToolCall = stderrors.New("malformed tool call")
	ErrBusy              = stderrors.New("a request is already in progress")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// Mark attaches a sentinel to a formatted message so that Is(err, sentinel)
// holds while the message stays readable.
func Mark(sentinel error, format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), sentinel)
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
