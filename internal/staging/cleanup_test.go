package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitloop/internal/logging"
	"gitloop/internal/testsupport"
)

func age(t *testing.T, path string, by time.Duration) {
	t.Helper()
	old := time.Now().Add(-by)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("set old time: %v", err)
	}
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldDownloadsAndChunks(t *testing.T) {
	dir := t.TempDir()

	oldChunks := filepath.Join(dir, "abc123_chunks")
	testsupport.WriteFile(t, filepath.Join(oldChunks, "chunk_000.flac"), 100)
	age(t, oldChunks, 2*time.Hour)

	oldDownload := filepath.Join(dir, "abc123.mp3")
	testsupport.WriteFile(t, oldDownload, 50)
	age(t, oldDownload, 3*time.Hour)

	recent := filepath.Join(dir, "def456.mp3")
	if err := os.WriteFile(recent, []byte("x"), 0o644); err != nil {
		t.Fatalf("write recent: %v", err)
	}

	result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
	if len(result.Removed) != 2 {
		t.Fatalf("expected 2 removed, got %v", result.Removed)
	}
	if result.Removed[0] != oldDownload || result.Removed[1] != oldChunks {
		t.Fatalf("expected oldest first, got %v", result.Removed)
	}
	if result.Freed != 150 {
		t.Fatalf("expected 150 bytes freed, got %d", result.Freed)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("recent download should remain: %v", err)
	}
}

func TestCleanStaleStopsOnCancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	age(t, path, 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := CleanStale(ctx, dir, time.Hour, nil)
	if len(result.Removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", result.Removed)
	}
}

func TestListReportsSizes(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "x_chunks")
	if err := os.MkdirAll(filepath.Join(sub, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "nested", "a"), make([]byte, 7), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	items, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || !items[0].Dir || items[0].Size != 7 {
		t.Fatalf("unexpected items %+v", items)
	}
	if size, err := Size(filepath.Join(dir, "missing")); err != nil || size != 0 {
		t.Fatalf("Size(missing) = %d, %v", size, err)
	}
}
