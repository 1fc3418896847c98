package services

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner executes an external binary and returns its stdout. Tests
// substitute fakes for ffmpeg, ffprobe, yt-dlp, and uvx through this type.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

const maxStderrInError = 2048

// ExecCommand is the default CommandRunner. Failures are tagged
// ErrExternalTool and carry the tail of stderr; a missing binary is a
// configuration error.
func ExecCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	tool := filepath.Base(name)
	if errors.Is(err, exec.ErrNotFound) {
		return nil, Wrap(ErrConfiguration, "exec", tool, "binary not found; run `gitloop deps`", err)
	}
	detail := strings.TrimSpace(stderr.String())
	if len(detail) > maxStderrInError {
		detail = "..." + detail[len(detail)-maxStderrInError:]
	}
	return stdout.Bytes(), Wrap(ErrExternalTool, "exec", tool, detail, err)
}
