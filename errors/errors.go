// Package errors is the error package used throughout qaflow.
//
// It re-exports github.com/cockroachdb/errors so every layer gets stack traces,
// wrapping, hints and details from a single import, and defines the sentinel
// errors that map the job taxonomy (invalid input, not found, condition failed)
// onto HTTP status codes and pipeline decisions.
//
//	if err := store.Update(ctx, id, patch, &expected); err != nil {
//	    if errors.IsConditionFailed(err) {
//	        return nil // another run already finished this job
//	    }
//	    return errors.Wrapf(err, "failed to update job %s", id)
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Hints and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Sentinel errors. Wrap them to add context; check them with Is.
var (
	// ErrNotFound indicates the requested record does not exist or has expired
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates caller input was rejected
	ErrInvalidRequest = New("invalid request")

	// ErrAlreadyExists indicates a create collided with an existing key
	ErrAlreadyExists = New("already exists")

	// ErrConditionFailed indicates a conditional write lost against the stored state
	ErrConditionFailed = New("condition failed")

	// ErrServiceUnavailable indicates a collaborator could not be reached
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation exceeded its deadline
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConditionFailed reports whether err is or wraps ErrConditionFailed.
func IsConditionFailed(err error) bool {
	return err != nil && Is(err, ErrConditionFailed)
}

// IsAlreadyExists reports whether err is or wraps ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return err != nil && Is(err, ErrAlreadyExists)
}

// NewNotFoundError returns ErrNotFound wrapped with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError returns ErrInvalidRequest wrapped with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewConditionFailedError returns ErrConditionFailed wrapped with a formatted message.
func NewConditionFailedError(format string, args ...interface{}) error {
	return Wrapf(ErrConditionFailed, format, args...)
}
