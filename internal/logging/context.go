package logging

import (
	"context"
	"log/slog"

	"gitloop/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID identifies one archive or materials invocation.
	FieldRunID = "run_id"
	// FieldSourceKey is the key of the configured source being processed.
	FieldSourceKey = "source_key"
	// FieldSourceType is the source type (youtube, podcast, blog, news).
	FieldSourceType = "source_type"
	// FieldEntryID is the archive entry identifier.
	FieldEntryID = "entry_id"
	// FieldStage is the pipeline stage name.
	FieldStage = "stage"
	// FieldChunkIndex is the 0-based audio chunk index.
	FieldChunkIndex = "chunk_index"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint is the suggested next step for the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if key, ok := services.SourceKeyFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSourceKey, key))
	}
	if id, ok := services.EntryIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldEntryID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
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
