package services

import "context"

type contextKey string

const (
	runIDKey        contextKey = "run_id"
	profileGroupKey contextKey = "profile_group"
	sourceFileKey   contextKey = "source_file"
)

// WithRunID annotates context with the batch run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the batch run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithProfileGroup annotates context with the profile group a job runs under.
func WithProfileGroup(ctx context.Context, group string) context.Context {
	if group == "" {
		return ctx
	}
	return context.WithValue(ctx, profileGroupKey, group)
}

// ProfileGroupFromContext returns the profile group if present.
func ProfileGroupFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(profileGroupKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithSourceFile annotates context with the source file being transcoded.
func WithSourceFile(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, sourceFileKey, path)
}

// SourceFileFromContext returns the source file if present.
func SourceFileFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(sourceFileKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}
