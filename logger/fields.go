package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across zbulk.
const (
	// Identity and context
	FieldJobKey    = "job_key"
	FieldRunID     = "run_id"
	FieldClientID  = "client_id"
	FieldRequestID = "request_id"

	// Bulk jobs
	FieldProfile    = "profile"
	FieldJobType    = "job_type"
	FieldRow        = "row"
	FieldIdentifier = "identifier"
	FieldReason     = "reason"
	FieldFailures   = "failures"

	// Components
	FieldComponent = "component"
	FieldProduct   = "product"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount      = "count"
	FieldTotalCount = "total_count"

	// Status
	FieldStatus = "status"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
)

type contextKey string

const (
	jobKeyKey    contextKey = "logger_job_key"
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithJobKey adds a bulk job key to the context for logging
func WithJobKey(ctx context.Context, jobKey string) context.Context {
	return context.WithValue(ctx, jobKeyKey, jobKey)
}

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if v, ok := ctx.Value(jobKeyKey).(string); ok && v != "" {
		fields = append(fields, FieldJobKey, v)
	}
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		fields = append(fields, FieldRunID, v)
	}
	if v, ok := ctx.Value(componentKey).(string); ok && v != "" {
		fields = append(fields, FieldComponent, v)
	}

	return fields
}

// LoggerFromContext returns a logger carrying the fields stored in ctx.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	engine := bulk.NewEngine(bulk.EngineConfig{
//	    Logger: logger.ComponentLogger("bulk"),
//	})
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
