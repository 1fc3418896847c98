package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gitloop/internal/config"
	"gitloop/internal/logging"
	"gitloop/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("archive started", logging.String(logging.FieldSourceKey, "hn"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "gitloop.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "archive started") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "archiver")
	logger.Info("entry archived", logging.String("title", "two words"), logging.Int("new", 3))

	line := buf.String()
	if !strings.Contains(line, "INFO archiver: entry archived") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, `title="two words"`) || !strings.Contains(line, "new=3") {
		t.Fatalf("expected fields in console line %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", line)
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("slow feed")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected key %q in %v", key, payload)
		}
	}
	if payload["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestWithContextAddsRunFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithRunID(context.Background(), "run-1")
	ctx = services.WithSourceKey(ctx, "lenny")
	ctx = services.WithEntryID(ctx, "ep-42")

	logging.WithContext(ctx, logger).Info("processing")

	line := buf.String()
	for _, fragment := range []string{"run_id=run-1", "source_key=lenny", "entry_id=ep-42"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "detail fetch failed", "entry_error",
		logging.Error(errors.New("timeout")),
		logging.String(logging.FieldImpact, "entry skipped this run"),
	)

	line := buf.String()
	for _, fragment := range []string{"event_type=entry_error", "error_hint=", `impact="entry skipped this run"`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("ignored")
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("nop logger should never be enabled")
	}
}

func TestRotateLogMovesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gitloop.log")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	moved, err := logging.RotateLog(path, 100, time.Now())
	if err != nil || moved != "" {
		t.Fatalf("expected small log to stay, got %q %v", moved, err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	moved, err = logging.RotateLog(path, 5, now)
	if err != nil {
		t.Fatalf("RotateLog: %v", err)
	}
	if want := filepath.Join(dir, "gitloop-20260301T120000.log"); moved != want {
		t.Fatalf("rotated to %q, want %q", moved, want)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original log to be moved, stat err=%v", err)
	}
}

func TestCleanupOldLogsKeepsCurrentAndRecent(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "gitloop-20200101T000000.log")
	recent := filepath.Join(dir, "gitloop-20260301T000000.log")
	current := filepath.Join(dir, "gitloop.log")
	for _, p := range []string{old, recent, current} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	past := time.Now().AddDate(0, 0, -40)
	for _, p := range []string{old, current} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	if removed := logging.CleanupOldLogs(logging.NewNop(), dir, 30); removed != 1 {
		t.Fatalf("expected 1 pruned log, got %d", removed)
	}
	for _, p := range []string{recent, current} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to remain: %v", p, err)
		}
	}
	if logging.CleanupOldLogs(nil, dir, 0) != 0 {
		t.Fatal("retention 0 must disable pruning")
	}
}
