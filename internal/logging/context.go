package logging

import (
	"context"
	"log/slog"

	"squish/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID identifies one scheduler run across every log line it emits.
	FieldRunID = "run_id"
	// FieldProfileGroup is the structured key for the profile group a job belongs to.
	FieldProfileGroup = "profile_group"
	// FieldSourceFile is the structured key for the source video of a job.
	FieldSourceFile = "source_file"
	// FieldEventType tags log lines with a machine-friendly event name.
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should take.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if group, ok := services.ProfileGroupFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldProfileGroup, group))
	}
	if path, ok := services.SourceFileFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSourceFile, path))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
