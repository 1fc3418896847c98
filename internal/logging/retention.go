package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxLogBytes is the size at which gitloop.log is rotated aside.
const maxLogBytes = 10 << 20

// rotatedPattern matches log files moved aside by RotateLog.
const rotatedPattern = "gitloop-*.log"

// RotateLog renames path to gitloop-<timestamp>.log in the same directory
// once it has grown past limit. A missing file is left alone.
func RotateLog(path string, limit int64, now time.Time) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.Size() < limit {
		return "", nil
	}
	target := filepath.Join(filepath.Dir(path), "gitloop-"+now.UTC().Format("20060102T150405")+".log")
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("rotate log: %w", err)
	}
	return target, nil
}

// CleanupOldLogs removes rotated logs in dir older than retentionDays.
// A retentionDays value of 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, dir string, retentionDays int) int {
	dir = strings.TrimSpace(dir)
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	matches, err := filepath.Glob(filepath.Join(dir, rotatedPattern))
	if err != nil {
		return 0
	}
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
		logger.Debug("log pruned",
			String("path", path),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}
