package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/repository"
)

// Service errors. Every failure returned by an engine wraps exactly one of
// these sentinels so callers can branch with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidState      = errors.New("invalid state")
	ErrStaleVersion      = errors.New("stale version")
	ErrNoAgentsAvailable = errors.New("no agents available")
	ErrCancelled         = errors.New("cancelled")
	ErrInternal          = errors.New("internal error")
)

// IsRetryable reports whether the caller may retry the failed operation.
// Stale version conflicts resolve by re-reading; internal faults may be
// transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleVersion) || errors.Is(err, ErrInternal)
}

// translateError maps repository and context errors onto the service
// taxonomy. Errors already carrying a service sentinel pass through.
func translateError(err error, msg string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrStaleVersion),
		errors.Is(err, ErrNoAgentsAvailable),
		errors.Is(err, ErrCancelled),
		errors.Is(err, ErrInternal):
		return errors.Wrap(err, msg)
	case errors.Is(err, repository.ErrNotFound):
		return errors.Wrapf(ErrNotFound, "%s: %v", msg, err)
	case errors.Is(err, repository.ErrOptimisticLock):
		return errors.Wrapf(ErrStaleVersion, "%s: %v", msg, err)
	case errors.Is(err, repository.ErrAlreadyExists):
		return errors.Wrapf(ErrInvalidArgument, "%s: %v", msg, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(ErrCancelled, "%s: %v", msg, err)
	default:
		return errors.Wrapf(ErrInternal, "%s: %v", msg, err)
	}
}

// invalidArgf formats an InvalidArgument failure.
func invalidArgf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// notFoundf formats a NotFound failure.
func notFoundf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// invalidStatef formats an InvalidState failure.
func invalidStatef(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidState, format, args...)
}

// deniedf formats a PermissionDenied failure.
func deniedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPermissionDenied, format, args...)
}
