package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gitloop/internal/fileutil"
	"gitloop/internal/logging"
	"gitloop/internal/services"
)

// Chunker extracts planned chunks from a source file with ffmpeg.
type Chunker struct {
	ffmpeg string
	run    services.CommandRunner
	logger *slog.Logger
}

// NewChunker returns a Chunker using the given ffmpeg binary. A nil runner
// executes ffmpeg directly.
func NewChunker(ffmpeg string, run services.CommandRunner, logger *slog.Logger) *Chunker {
	if run == nil {
		run = services.ExecCommand
	}
	return &Chunker{
		ffmpeg: ffmpeg,
		run:    run,
		logger: logging.NewComponentLogger(logger, "audio"),
	}
}

// ChunkFileName returns the file name used for chunk index.
func ChunkFileName(index int) string {
	return fmt.Sprintf("chunk_%03d.flac", index)
}

// Materialize writes each chunk to workDir and returns the chunks with Path
// set. Chunk files already present from an earlier attempt are reused. Each
// file is encoded to a temp name and renamed into place, so a failure never
// leaves a truncated chunk behind.
func (c *Chunker) Materialize(ctx context.Context, source string, chunks []Chunk, workDir string) ([]Chunk, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "audio", "materialize", "create work dir", err)
	}
	out := make([]Chunk, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest := filepath.Join(workDir, ChunkFileName(chunk.Index))
		if !fileutil.NonEmpty(dest) {
			if err := c.extract(ctx, source, chunk, dest); err != nil {
				return nil, err
			}
		}
		chunk.Path = dest
		out[i] = chunk
		c.logger.Debug("chunk ready",
			logging.Int(logging.FieldChunkIndex, chunk.Index),
			logging.Duration("start", chunk.Start),
			logging.Duration("end", chunk.End),
		)
	}
	return out, nil
}

func (c *Chunker) extract(ctx context.Context, source string, chunk Chunk, dest string) error {
	tmp := dest + ".tmp"
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(chunk.Start.Seconds()),
		"-t", formatSeconds(chunk.Duration().Seconds()),
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "flac",
		"-f", "flac",
		tmp,
	}
	if _, err := c.run(ctx, c.ffmpeg, args...); err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExternalTool, "audio", "materialize",
			fmt.Sprintf("extract chunk %d", chunk.Index), err)
	}
	if !fileutil.NonEmpty(tmp) {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrExternalTool, "audio", "materialize",
			fmt.Sprintf("ffmpeg produced no output for chunk %d", chunk.Index), nil)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return services.Wrap(services.ErrExternalTool, "audio", "materialize", "rename chunk", err)
	}
	return nil
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
