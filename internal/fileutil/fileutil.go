// Package fileutil holds crash-safe file writes shared by the archive store,
// the audio cache and the materials writer.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file in the destination directory,
// fsyncs it, and renames it over path. Readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	_, err := writeAtomic(path, mode, func(w io.Writer) (int64, error) {
		n, err := w.Write(data)
		return int64(n), err
	})
	return err
}

// WriteStreamAtomic streams r into path with the same temp-then-rename
// guarantee as WriteFileAtomic and returns the number of bytes written.
func WriteStreamAtomic(path string, r io.Reader, mode os.FileMode) (int64, error) {
	return writeAtomic(path, mode, func(w io.Writer) (int64, error) {
		return io.Copy(w, r)
	})
}

func writeAtomic(path string, mode os.FileMode, fill func(io.Writer) (int64, error)) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	written, err := fill(tmp)
	if err != nil {
		return written, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		return written, fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return written, fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return written, fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	committed = true
	return written, nil
}

// Exists reports whether path exists. Errors other than not-exist are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// NonEmpty reports whether path is a regular file with at least one byte.
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
