package services

import "context"

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	sourceKeyKey contextKey = "source_key"
	entryIDKey   contextKey = "entry_id"
	stageKey     contextKey = "stage"
)

// WithRunID annotates context with the identifier of the current run.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSourceKey annotates context with the source being processed.
func WithSourceKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, sourceKeyKey, key)
}

// SourceKeyFromContext returns the source key if present.
func SourceKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sourceKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithEntryID annotates context with the entry being processed.
func WithEntryID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, entryIDKey, id)
}

// EntryIDFromContext returns the entry id if present.
func EntryIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(entryIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}
