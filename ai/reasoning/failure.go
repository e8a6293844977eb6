package reasoning

import (
	"context"
	"fmt"
	"net"

	"github.com/teranos/qaflow/ai/openrouter"
	"github.com/teranos/qaflow/errors"
)

// Kind classifies a reasoning failure
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindMalformedResponse Kind = "malformed_response"
	KindUnavailable       Kind = "unavailable"
)

// Retryable reports whether the same call may succeed when repeated
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindUnavailable
}

// Failure is the typed error returned by Invoke
type Failure struct {
	Kind  Kind
	Stage StageKind
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Stage, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Stage, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Message is the underlying error text without the stage and kind prefix
func (f *Failure) Message() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

// NewFailure builds a Failure for stage
func NewFailure(stage StageKind, kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the failure kind from err.
// Errors that are not failures report ok=false.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// classifyProviderError maps a provider error onto a failure kind
func classifyProviderError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, openrouter.ErrNoChoices) {
		return KindMalformedResponse
	}
	return KindUnavailable
}

// limiterFailure maps a rate limiter wait error. Wait fails early when the
// context deadline would pass before a token frees up.
func limiterFailure(stage StageKind, err error) *Failure {
	if errors.Is(err, context.Canceled) {
		return NewFailure(stage, KindUnavailable, errors.Wrap(err, "rate limiter"))
	}
	return NewFailure(stage, KindTimeout, errors.Wrap(err, "rate limiter"))
}
