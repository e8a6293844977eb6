package async

import (
	"context"
	"database/sql"
	"net"
	"strings"

	"github.com/teranos/qaflow/errors"
)

// MaxRetries is the maximum number of retry attempts for failed tasks
const MaxRetries = 2

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodePermanent       ErrorCode = "permanent"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured error information for task failures
type ErrorContext struct {
	Handler   string
	Code      ErrorCode
	Message   string
	Retryable bool
}

type permanentError struct {
	cause error
}

func (e *permanentError) Error() string { return e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ClassifyError decides whether a handler error should be retried
func ClassifyError(handler string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Handler: handler, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Handler: handler, Message: err.Error()}
	lower := strings.ToLower(ec.Message)

	var netErr net.Error
	switch {
	case IsPermanent(err):
		ec.Code = ErrorCodePermanent

	case errors.IsInvalidRequestError(err) || strings.Contains(lower, "validation"):
		ec.Code = ErrorCodeValidationError

	case strings.Contains(lower, "unmarshal") || strings.Contains(lower, "invalid json") || strings.Contains(lower, "parse"):
		ec.Code = ErrorCodeParseError

	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timed out"):
		ec.Code = ErrorCodeTimeout
		ec.Retryable = true

	case errors.As(err, &netErr) || strings.Contains(lower, "connection") || strings.Contains(lower, "network"):
		ec.Code = ErrorCodeNetworkError
		ec.Retryable = true

	case errors.Is(err, sql.ErrConnDone) || strings.Contains(lower, "database") || strings.Contains(lower, "sql"):
		ec.Code = ErrorCodeDatabaseError
		ec.Retryable = true

	default:
		ec.Code = ErrorCodeUnknown
		ec.Retryable = true
	}
	return ec
}
