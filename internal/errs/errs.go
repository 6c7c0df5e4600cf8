// Package errs defines the error taxonomy shared by the planning, history and
// execution layers. Every typed error wraps one of the sentinels below so
// callers can branch with errors.Is and still recover details with errors.As.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange marks a date range whose end precedes its start.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrInvalidConfig marks a configuration value outside its allowed domain.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrHistoryUnavailable marks a failed or timed out history provider call.
	// It is retryable, but a run that hits it must abort before committing.
	ErrHistoryUnavailable = errors.New("contribution history unavailable")

	// ErrCommitCreation marks a failed commit for a single date.
	ErrCommitCreation = errors.New("commit creation failed")

	// ErrPush marks a failed push after local commits were created.
	ErrPush = errors.New("push failed")

	// ErrMissingCredential marks an absent personal access token.
	ErrMissingCredential = errors.New("missing credential")
)

// InvalidRangeError reports an inverted date range.
type InvalidRangeError struct {
	Start string
	End   string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: end %s is before start %s", e.End, e.Start)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// InvalidConfigError reports a bad configuration parameter.
type InvalidConfigError struct {
	Parameter string
	Value     any
	Reason    string
}

func (e *InvalidConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("configuration error for %s = %v: %s", e.Parameter, e.Value, e.Reason)
	}
	return fmt.Sprintf("configuration error for %s: %s", e.Parameter, e.Reason)
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// NewInvalidConfig builds an InvalidConfigError.
func NewInvalidConfig(parameter string, value any, reason string) *InvalidConfigError {
	return &InvalidConfigError{Parameter: parameter, Value: value, Reason: reason}
}

// HistoryUnavailableError wraps the provider failure that made history unreadable.
type HistoryUnavailableError struct {
	User string
	// RateLimited is set when the provider refused the call for quota reasons.
	RateLimited bool
	Err         error
}

func (e *HistoryUnavailableError) Error() string {
	msg := "contribution history unavailable"
	if e.User != "" {
		msg = fmt.Sprintf("%s for %s", msg, e.User)
	}
	if e.RateLimited {
		msg += " (rate limited)"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *HistoryUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHistoryUnavailable}
	}
	return []error{ErrHistoryUnavailable, e.Err}
}

// CommitCreationError reports a commit that could not be created for a date.
type CommitCreationError struct {
	Date string
	Err  error
}

func (e *CommitCreationError) Error() string {
	return fmt.Sprintf("commit for %s failed: %v", e.Date, e.Err)
}

func (e *CommitCreationError) Unwrap() []error {
	return []error{ErrCommitCreation, e.Err}
}

// PushError reports a failed push of the run's commits.
type PushError struct {
	Repo string
	Err  error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push of %s failed: %v", e.Repo, e.Err)
}

func (e *PushError) Unwrap() []error {
	return []error{ErrPush, e.Err}
}

// MissingCredentialError reports that no token could be found.
type MissingCredentialError struct {
	// Sources lists where the store looked.
	Sources []string
}

func (e *MissingCredentialError) Error() string {
	if len(e.Sources) == 0 {
		return "no personal access token configured; run: streak setup --token <token>"
	}
	return fmt.Sprintf("no personal access token found in %v; run: streak setup --token <token>", e.Sources)
}

func (e *MissingCredentialError) Unwrap() error { return ErrMissingCredential }
