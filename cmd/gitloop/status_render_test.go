package main

import (
	"strings"
	"testing"
)

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("yt-dlp", statusWarn, "binary \"yt-dlp\" not found", false)
	if !strings.Contains(line, "[WARN] binary") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, ansiReset) {
		t.Fatalf("expected no color codes: %q", line)
	}
	colored := renderStatusLine("yt-dlp", statusOK, "", true)
	if !strings.HasPrefix(colored, ansiGreen) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected green line, got %q", colored)
	}
}

func TestRunStatusKind(t *testing.T) {
	cases := map[string]statusKind{
		"ok":      statusOK,
		"partial": statusWarn,
		"locked":  statusWarn,
		"failed":  statusError,
		"":        statusInfo,
	}
	for status, want := range cases {
		if got := runStatusKind(status); got != want {
			t.Fatalf("runStatusKind(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate kept %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate = %q", got)
	}
}
