package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gitloop/internal/logging"
)

// CleanStaleResult contains the outcome of a stale cleanup pass.
type CleanStaleResult struct {
	Removed []string
	Freed   int64
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes downloads and chunk directories in dir whose
// modification time is older than maxAge. A missing dir is not an error.
func CleanStale(ctx context.Context, dir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	items, err := List(dir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if !item.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(item.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: item.Path, Error: err})
			logging.WarnWithContext(logger, "failed to remove stale audio", "staging_cleanup_failed",
				logging.String("path", item.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check cache_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, item.Path)
		result.Freed += item.Size
		logger.Info("removed stale audio",
			logging.String("path", item.Path),
			logging.Duration("age", time.Since(item.ModTime)),
			logging.Int64("bytes", item.Size),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}

// Item describes one top-level file or directory in the staging area.
type Item struct {
	Name    string
	Path    string
	Dir     bool
	ModTime time.Time
	Size    int64
}

// List returns the top-level items of dir, oldest first.
func List(dir string) ([]Item, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		size := info.Size()
		if entry.IsDir() {
			size, _ = Size(path)
		}
		items = append(items, Item{
			Name:    entry.Name(),
			Path:    path,
			Dir:     entry.IsDir(),
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ModTime.Before(items[j].ModTime) })
	return items, nil
}

// Size returns the total size of regular files under path. Unreadable
// entries are skipped and a missing path counts as empty.
func Size(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
