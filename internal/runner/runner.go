package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/httpclient"
	"gitloop/internal/ledger"
	"gitloop/internal/logging"
	"gitloop/internal/materials"
	"gitloop/internal/retry"
	"gitloop/internal/services"
	"gitloop/internal/sources"
	"gitloop/internal/staging"
	"gitloop/internal/transcription"
)

// Ledger records runs and caches transcripts. *ledger.Store satisfies it.
type Ledger interface {
	RecordRun(ctx context.Context, run ledger.Run) error
	transcription.Cache
}

// AdapterFactory returns the archive adapter for a source type.
type AdapterFactory func(sourceType string) (archive.Adapter, error)

// FetcherFactory builds the materials fetcher for a run. audio is nil when
// no transcription backend is configured.
type FetcherFactory func(audio materials.AudioTranscriber) materials.Fetcher

// Runner runs phases over the selected sources.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	ledger   Ledger
	run      services.CommandRunner
	http     *httpclient.Client
	adapters AdapterFactory
	fetchers FetcherFactory
	backend  func() (transcription.Transcriber, error)
	policy   retry.Policy
	newID    func() string
	now      func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithCommandRunner replaces the runner used for yt-dlp, ffmpeg and uvx.
func WithCommandRunner(run services.CommandRunner) Option {
	return func(r *Runner) {
		if run != nil {
			r.run = run
		}
	}
}

// WithAdapters replaces the source adapters.
func WithAdapters(factory AdapterFactory) Option {
	return func(r *Runner) { r.adapters = factory }
}

// WithFetchers replaces the materials fetcher.
func WithFetchers(factory FetcherFactory) Option {
	return func(r *Runner) { r.fetchers = factory }
}

// WithBackend replaces transcription backend construction.
func WithBackend(build func() (transcription.Transcriber, error)) Option {
	return func(r *Runner) { r.backend = build }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(next func() string) Option {
	return func(r *Runner) { r.newID = next }
}

// WithClock overrides the clock used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New wires a Runner from cfg. store may be nil, in which case runs are not
// recorded and transcripts are not cached.
func New(cfg *config.Config, logger *slog.Logger, store Ledger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	cacheDir := ""
	if cfg.Fetch.HTTPCache {
		cacheDir = cfg.HTTPCacheDir()
	}
	r := &Runner{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "runner"),
		ledger: store,
		run:    services.ExecCommand,
		http: httpclient.New(httpclient.Options{
			Timeout:   cfg.FetchTimeout(),
			UserAgent: cfg.Fetch.UserAgent,
			CacheDir:  cacheDir,
			Logger:    logger,
		}),
		policy: retry.Policy{
			Attempts:  cfg.Fetch.RetryAttempts,
			BaseDelay: time.Duration(cfg.Fetch.RetryBaseMillis) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Fetch.RetryMaxMillis) * time.Millisecond,
		},
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.adapters == nil {
		deps := sources.DepsFromConfig(cfg, r.http, r.run, logger)
		r.adapters = func(sourceType string) (archive.Adapter, error) {
			return sources.For(sourceType, deps)
		}
	}
	if r.fetchers == nil {
		r.fetchers = func(audio materials.AudioTranscriber) materials.Fetcher {
			return materials.NewFetcher(materials.Deps{
				HTTP:               r.http,
				Run:                r.run,
				YtDlp:              cfg.Tools.YtDlp,
				CookiesFromBrowser: cfg.Tools.CookiesFromBrowser,
				Audio:              audio,
				Logger:             logger,
			})
		}
	}
	if r.backend == nil {
		r.backend = func() (transcription.Transcriber, error) {
			return transcription.NewBackend(cfg, r.run)
		}
	}
	return r
}

// counts is what a phase function reports for one source.
type counts struct {
	New, Skipped, Errors int
	Recovered            bool
	Message              string
}

type phaseFunc func(ctx context.Context, src config.Source, logger *slog.Logger) (counts, error)

// StaleAudioAge is how old a leftover download or chunk directory must be
// before a materials run reclaims it.
const StaleAudioAge = 24 * time.Hour

// Archive runs the archive phase for the sources selected by filters.
func (r *Runner) Archive(ctx context.Context, filters config.Filters) (Summary, error) {
	return r.each(ctx, ledger.PhaseArchive, filters, func(ctx context.Context, src config.Source, logger *slog.Logger) (counts, error) {
		adapter, err := r.adapters(src.Type)
		if err != nil {
			return counts{}, err
		}
		store := archive.NewStore(r.cfg.Paths.ArchiveDir, src, r.logger)
		engine := archive.NewEngine(adapter, store,
			archive.WithLogger(r.logger),
			archive.WithRetryPolicy(r.policy),
			archive.WithMaxScan(r.cfg.Fetch.MaxScan),
		)
		opts := archive.RunOptions{Force: filters.Force, MaxEntries: maxEntries(src, filters)}

		var c counts
		res, err := engine.Run(ctx, src, opts)
		if errors.Is(err, services.ErrCorruptIndex) {
			if rerr := recoverIndex(ctx, store, logger, err); rerr != nil {
				return c, rerr
			}
			c.Recovered = true
			res, err = engine.Run(ctx, src, opts)
		}
		c.New, c.Skipped, c.Errors = res.New, res.Skipped, res.Errors
		if res.ListErr != nil {
			c.Message = res.ListErr.Error()
		}
		return c, err
	})
}

// Materials runs the materials phase for the sources selected by filters.
func (r *Runner) Materials(ctx context.Context, filters config.Filters) (Summary, error) {
	selected := r.cfg.Select(filters)
	audio, err := r.audio(selected)
	if err != nil {
		return Summary{Phase: ledger.PhaseMaterials}, err
	}
	if audio != nil {
		staging.CleanStale(ctx, r.cfg.AudioCacheDir(), StaleAudioAge, r.logger)
	}
	mr := materials.NewRunner(r.fetchers(audio), r.cfg.Paths.MaterialsDir, r.logger)

	return r.each(ctx, ledger.PhaseMaterials, filters, func(ctx context.Context, src config.Source, logger *slog.Logger) (counts, error) {
		store := archive.NewStore(r.cfg.Paths.ArchiveDir, src, r.logger)
		opts := materials.RunOptions{Force: filters.Force, MaxEntries: maxEntries(src, filters)}

		var c counts
		res, err := mr.Run(ctx, src, store, opts)
		if errors.Is(err, services.ErrCorruptIndex) {
			if rerr := recoverIndex(ctx, store, logger, err); rerr != nil {
				return c, rerr
			}
			c.Recovered = true
			res, err = mr.Run(ctx, src, store, opts)
		}
		c.New, c.Skipped, c.Errors = res.New, res.Skipped, res.Errors
		return c, err
	})
}

// audio builds the transcription pipeline when a selected source needs one.
// A missing credential is a configuration error only in that case.
func (r *Runner) audio(selected []config.Source) (materials.AudioTranscriber, error) {
	if r.cfg.Transcription.Backend == config.BackendNone {
		return nil, nil
	}
	needed := false
	for _, src := range selected {
		if !src.Options.ExtractTranscript {
			continue
		}
		if src.Type == config.SourcePodcast || (src.Type == config.SourceYouTube && src.Options.UseYtDlp) {
			needed = true
		}
	}
	if !needed {
		return nil, nil
	}
	backend, err := r.backend()
	if err != nil {
		return nil, err
	}
	var cache transcription.Cache
	if r.ledger != nil {
		cache = r.ledger
	}
	return transcription.NewPipeline(r.cfg, backend, cache, r.http, r.logger,
		transcription.WithCommandRunner(r.run)), nil
}

func recoverIndex(ctx context.Context, store *archive.Store, logger *slog.Logger, cause error) error {
	logging.WarnWithContext(logger, "index unreadable; rebuilding from detail records", "index_recovery",
		logging.Error(cause),
		logging.String(logging.FieldImpact, "index.json is rewritten from the per-entry files"),
	)
	if _, err := store.Recover(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return nil
}

func maxEntries(src config.Source, filters config.Filters) int {
	if filters.MaxEntries > 0 {
		return filters.MaxEntries
	}
	return src.Options.MaxEntriesPerRun
}

// each runs fn for every selected source under that source's lock.
func (r *Runner) each(ctx context.Context, phase string, filters config.Filters, fn phaseFunc) (Summary, error) {
	summary := Summary{Phase: phase}
	selected := r.cfg.Select(filters)
	if len(selected) == 0 {
		r.logger.Info("no sources selected",
			logging.String("phase", phase),
			logging.String("source_type", filters.SourceType),
			logging.String(logging.FieldSourceKey, filters.SourceKey),
		)
		return summary, nil
	}
	if err := os.MkdirAll(r.cfg.LockDir(), 0o755); err != nil {
		return summary, services.Wrap(services.ErrConfiguration, "runner", "lock dir", r.cfg.LockDir(), err)
	}
	for _, src := range selected {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Sources = append(summary.Sources, r.runSource(ctx, phase, src, fn))
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// LockPath returns the flock file guarding src.
func LockPath(cfg *config.Config, src config.Source) string {
	return filepath.Join(cfg.LockDir(), fmt.Sprintf("%s-%s.lock", src.Type, src.Key))
}

func (r *Runner) runSource(ctx context.Context, phase string, src config.Source, fn phaseFunc) SourceReport {
	runID := r.newID()
	ctx = services.WithRunID(ctx, runID)
	ctx = services.WithSourceKey(ctx, src.Key)
	ctx = services.WithStage(ctx, phase)
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldSourceType, src.Type))

	report := SourceReport{
		RunID:      runID,
		SourceKey:  src.Key,
		SourceType: src.Type,
		SourceName: src.DisplayName(),
	}
	started := r.now()

	lock := flock.New(LockPath(r.cfg, src))
	locked, err := lock.TryLock()
	switch {
	case err != nil:
		report.Err = services.Wrap(services.ErrExternalTool, "runner", "lock", lock.Path(), err)
		report.Status = ledger.StatusFailed
	case !locked:
		report.Err = services.Wrap(services.ErrLocked, "runner", "lock", src.Key, nil)
		report.Status = ledger.StatusLocked
		logging.WarnWithContext(logger, "source is locked by another run", "source_locked",
			logging.String("lock", lock.Path()),
			logging.String(logging.FieldImpact, "source skipped this run"),
		)
	default:
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warn("release source lock", logging.Error(err))
			}
		}()
		c, err := fn(ctx, src, logger)
		report.New, report.Skipped, report.Errors = c.New, c.Skipped, c.Errors
		report.Recovered = c.Recovered
		report.Message = c.Message
		report.Err = err
		switch {
		case err != nil:
			report.Status = ledger.StatusFailed
		case c.Errors > 0:
			report.Status = ledger.StatusPartial
		default:
			report.Status = ledger.StatusOK
		}
	}
	if report.Err != nil {
		report.Message = report.Err.Error()
		if report.Status == ledger.StatusFailed {
			logging.ErrorWithContext(logger, "source run failed", "source_failed",
				logging.Error(report.Err),
				logging.String(logging.FieldImpact, "other sources continue"),
			)
		}
	}

	r.record(ctx, logger, phase, started, report)
	return report
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, phase string, started time.Time, report SourceReport) {
	if r.ledger == nil {
		return
	}
	err := r.ledger.RecordRun(context.WithoutCancel(ctx), ledger.Run{
		ID:         report.RunID,
		Phase:      phase,
		SourceType: report.SourceType,
		SourceKey:  report.SourceKey,
		StartedAt:  started,
		FinishedAt: r.now(),
		New:        report.New,
		Skipped:    report.Skipped,
		Errors:     report.Errors,
		Status:     report.Status,
		Message:    report.Message,
	})
	if err != nil {
		logging.WarnWithContext(logger, "ledger write failed", "ledger_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run missing from `gitloop status` history"),
		)
	}
}
