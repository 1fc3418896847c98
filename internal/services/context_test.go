package services_test

import (
	"context"
	"testing"

	"gitloop/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-123")
	ctx = services.WithSourceKey(ctx, "lex-fridman")
	ctx = services.WithEntryID(ctx, "abc123")
	ctx = services.WithStage(ctx, "archive")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-123" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if key, ok := services.SourceKeyFromContext(ctx); !ok || key != "lex-fridman" {
		t.Fatalf("unexpected source key: %v %v", key, ok)
	}
	if id, ok := services.EntryIDFromContext(ctx); !ok || id != "abc123" {
		t.Fatalf("unexpected entry id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "archive" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithEntryID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.EntryIDFromContext(ctx); ok {
		t.Fatal("expected no entry id value")
	}
}
