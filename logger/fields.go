package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging. Use these instead of raw strings.
const (
	// Identity
	FieldJobID     = "job_id"
	FieldTaskID    = "task_id"
	FieldRequestID = "request_id"

	// Components
	FieldComponent = "component"
	FieldHandler   = "handler"
	FieldProvider  = "provider"
	FieldModel     = "model"

	// Pipeline
	FieldStage    = "stage"
	FieldCategory = "category"
	FieldAttempt  = "attempt"
	FieldRoute    = "route"

	// HTTP
	FieldMethod  = "method"
	FieldPath    = "path"
	FieldStatus  = "status"
	FieldAddress = "address"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts
	FieldCount   = "count"
	FieldWorkers = "workers"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context as key/value pairs
// suitable for Infow, Errorw and friends.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
//	pool := &WorkerPool{logger: logger.ComponentLogger("pulse")}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
