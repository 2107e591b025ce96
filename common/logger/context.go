package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// A sync run sets user, integration and provider once and every nested call inherits them,
// so failure logs always carry enough context to replay the sync by hand.
type LogFields struct {
	UserID        *string // external user identifier
	IntegrationID *int64
	JobID         *int64  // sync job ID
	Provider      *string // e.g. "fitbit"
	DataType      *string // canonical data type, e.g. "steps"
	MessageID     *string // Redis stream message ID
	Component     string  // OTel semantic convention style, e.g. "syncer.worker.poller"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.IntegrationID != nil {
		result.IntegrationID = new.IntegrationID
	}
	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.DataType != nil {
		result.DataType = new.DataType
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Provider error bodies can be large; use this before logging them.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
