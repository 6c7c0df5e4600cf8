package main

import (
	"errors"
	"fmt"

	"streakline/internal/errs"
)

// Exit codes.
const (
	exitFailure           = 1
	exitValidation        = 2
	exitPartial           = 3
	exitHistory           = 4
	exitMissingCredential = 5
)

// ExitError is an error that carries an explicit process exit code.
type ExitError struct {
	code  int
	msg   string
	cause error
}

func (e *ExitError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s: %v", e.msg, e.cause)
}

func (e *ExitError) ExitCode() int { return e.code }

func (e *ExitError) Unwrap() error { return e.cause }

func newExitError(code int, msg string) error {
	return &ExitError{code: normalize(code), msg: msg}
}

func wrapExit(code int, cause error) error {
	return &ExitError{code: normalize(code), cause: cause}
}

// exitCodeOf extracts an exit code from any error: an explicit ExitError
// first, then the error taxonomy, defaulting to 1.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	switch {
	case errors.Is(err, errs.ErrInvalidRange), errors.Is(err, errs.ErrInvalidConfig):
		return exitValidation
	case errors.Is(err, errs.ErrHistoryUnavailable):
		return exitHistory
	case errors.Is(err, errs.ErrMissingCredential):
		return exitMissingCredential
	}
	return exitFailure
}

func normalize(code int) int {
	if code <= 0 {
		return exitFailure
	}
	return code
}
