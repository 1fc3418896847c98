package materials

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/fileutil"
	"gitloop/internal/logging"
	"gitloop/internal/services"
)

// EntrySource is the read side of a source's archive. *archive.Store
// satisfies it.
type EntrySource interface {
	Load(ctx context.Context) (*archive.Index, error)
	Entry(ctx context.Context, id string) (archive.Entry, error)
}

// RunOptions controls one materials run.
type RunOptions struct {
	// Force rewrites documents that already exist.
	Force bool
	// MaxEntries caps new documents; zero means unlimited.
	MaxEntries int
}

// Result summarizes a materials run.
type Result struct {
	New     int
	Skipped int
	Errors  int
}

// Runner writes material documents for archived entries.
type Runner struct {
	fetcher Fetcher
	root    string
	logger  *slog.Logger
	now     func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithClock overrides the downloaded_at clock.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner writes documents under root using fetcher.
func NewRunner(fetcher Fetcher, root string, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		fetcher: fetcher,
		root:    root,
		logger:  logging.NewComponentLogger(logger, "materials"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes the entries of src in index order. An entry whose document
// exists is skipped. A failed entry is counted and logged; the run continues
// unless the failure is fatal for every entry (bad configuration) or ctx ends.
func (r *Runner) Run(ctx context.Context, src config.Source, store EntrySource, opts RunOptions) (Result, error) {
	ctx = services.WithSourceKey(ctx, src.Key)
	ctx = services.WithStage(ctx, "materials")
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldSourceType, src.Type))

	idx, err := store.Load(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, id := range idx.IDs() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if opts.MaxEntries > 0 && result.New >= opts.MaxEntries {
			break
		}
		path := DocumentPath(r.root, src, id)
		entryLogger := logger.With(logging.String(logging.FieldEntryID, id))
		exists, err := fileutil.Exists(path)
		if err != nil {
			result.Errors++
			logging.ErrorWithContext(entryLogger, "material path unreadable", "materials_write_failed",
				logging.Error(err),
				logging.String("path", path),
			)
			continue
		}
		if exists && !opts.Force {
			result.Skipped++
			continue
		}
		entryCtx := services.WithEntryID(ctx, id)

		entry, err := store.Entry(entryCtx, id)
		if err != nil {
			result.Errors++
			logging.WarnWithContext(entryLogger, "detail record unreadable", "materials_entry_unreadable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no material for this entry"),
				logging.String(logging.FieldErrorHint, "inspect the detail JSON or rebuild the index"),
			)
			continue
		}
		material, err := r.fetcher.Fetch(entryCtx, src, entry)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if services.Fatal(err) {
				return result, err
			}
			result.Errors++
			logging.WarnWithContext(entryLogger, "material fetch failed", "materials_entry_failed",
				logging.Error(err),
				logging.String("title", entry.Title),
				logging.String(logging.FieldImpact, "entry will be retried next run"),
				logging.String(logging.FieldErrorHint, hint(err)),
			)
			continue
		}
		doc, err := Render(entry, material, r.now())
		if err == nil {
			err = fileutil.WriteFileAtomic(path, doc, 0o644)
		}
		if err != nil {
			result.Errors++
			logging.ErrorWithContext(entryLogger, "material write failed", "materials_write_failed",
				logging.Error(err),
				logging.String("path", path),
			)
			continue
		}
		result.New++
		entryLogger.Info("material written",
			logging.String("kind", string(material.Kind)),
			logging.Int("gaps", gapCount(material)),
			logging.String("path", path),
		)
	}

	logger.Info("materials run complete",
		logging.Int("new", result.New),
		logging.Int("skipped", result.Skipped),
		logging.Int("errors", result.Errors),
	)
	return result, nil
}

func gapCount(m Material) int {
	if m.Transcript == nil {
		return 0
	}
	return len(m.Transcript.Gaps())
}

func hint(err error) string {
	switch {
	case errors.Is(err, services.ErrPayloadTooLarge):
		return "lower transcription.max_upload_bytes"
	case errors.Is(err, services.ErrRateLimit):
		return "transcription quota exhausted; rerun later"
	case errors.Is(err, services.ErrTranscriptionService):
		return "transcription backend failed; rerun later"
	case errors.Is(err, services.ErrExternalTool):
		return "check ffmpeg, ffprobe and yt-dlp with `gitloop deps`"
	}
	return "check the entry URL or rerun later"
}
