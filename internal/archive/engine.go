package archive

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"gitloop/internal/config"
	"gitloop/internal/logging"
	"gitloop/internal/retry"
	"gitloop/internal/services"
)

// Adapter lists and fetches entries for one source type.
type Adapter interface {
	// Candidates yields listing items in the source's native order, newest
	// first, scanning at most limit items. A yielded error ends the listing.
	Candidates(ctx context.Context, src config.Source, limit int) iter.Seq2[Candidate, error]
	// FetchDetail builds the full entry for a candidate. Returning an error
	// wrapping ErrSkipEntry drops the candidate without recording it.
	FetchDetail(ctx context.Context, src config.Source, c Candidate) (Entry, error)
}

// RunOptions controls a single engine run.
type RunOptions struct {
	// Force re-fetches ids already in the index.
	Force bool
	// MaxEntries caps newly archived entries; zero means unlimited.
	MaxEntries int
}

// Result summarizes an engine run.
type Result struct {
	New     int
	Skipped int
	Errors  int
	// ListErr is set when the listing failed after retries. Entries accepted
	// before the failure are still persisted.
	ListErr error
}

// Engine performs incremental archiving for one source.
type Engine struct {
	adapter Adapter
	store   IndexStore
	policy  retry.Policy
	maxScan int
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.NewComponentLogger(logger, "archive")
	}
}

// WithRetryPolicy sets the policy for listing and detail fetches.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(e *Engine) { e.policy = policy }
}

// WithMaxScan bounds how many candidates a listing may yield.
func WithMaxScan(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.maxScan = limit
		}
	}
}

// WithClock overrides the archived_at clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires an adapter to an index store.
func NewEngine(adapter Adapter, store IndexStore, opts ...Option) *Engine {
	e := &Engine{
		adapter: adapter,
		store:   store,
		policy:  retry.Policy{Attempts: 3},
		maxScan: 200,
		logger:  logging.NewComponentLogger(nil, "archive"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runState struct {
	src    config.Source
	opts   RunOptions
	idx    *Index
	seen   map[string]struct{}
	result Result
	logger *slog.Logger
}

func (st *runState) full() bool {
	return st.opts.MaxEntries > 0 && st.result.New >= st.opts.MaxEntries
}

// Run archives new entries of src. Cancellation returns ctx.Err() and leaves
// the persisted index untouched.
func (e *Engine) Run(ctx context.Context, src config.Source, opts RunOptions) (Result, error) {
	ctx = services.WithSourceKey(ctx, src.Key)
	logger := logging.WithContext(ctx, e.logger).With(logging.String(logging.FieldSourceType, src.Type))

	idx, err := e.store.Load(ctx)
	if err != nil {
		return Result{}, err
	}
	st := &runState{
		src:    src,
		opts:   opts,
		idx:    idx,
		seen:   make(map[string]struct{}),
		logger: logger,
	}

	listErr := retry.Do(ctx, e.listPolicy(logger), func(ctx context.Context) error {
		for cand, err := range e.adapter.Candidates(ctx, src, e.maxScan) {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.accept(ctx, st, cand)
			if st.full() || ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	})
	if err := ctx.Err(); err != nil {
		return st.result, err
	}
	if listErr != nil {
		st.result.ListErr = listErr
		st.result.Errors++
		logging.WarnWithContext(logger, "listing failed", "archive_list_failed",
			logging.Error(listErr),
			logging.Int("accepted", st.result.New),
			logging.String(logging.FieldImpact, "entries not yet listed wait for the next run"),
			logging.String(logging.FieldErrorHint, "check the source URL and network"),
		)
	}

	if st.result.New > 0 {
		if err := e.store.Persist(ctx, idx); err != nil {
			return st.result, err
		}
	}
	logger.Info("archive run complete",
		logging.Int("new", st.result.New),
		logging.Int("skipped", st.result.Skipped),
		logging.Int("errors", st.result.Errors),
		logging.Int("total", idx.Len()),
	)
	return st.result, nil
}

func (e *Engine) listPolicy(logger *slog.Logger) retry.Policy {
	policy := e.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Debug("retrying listing",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	}
	return policy
}

func (e *Engine) accept(ctx context.Context, st *runState, cand Candidate) {
	if _, dup := st.seen[cand.ID]; dup {
		return
	}
	st.seen[cand.ID] = struct{}{}

	logger := st.logger.With(logging.String(logging.FieldEntryID, cand.ID))
	if err := ValidID(cand.ID); err != nil {
		st.result.Errors++
		logging.WarnWithContext(logger, "invalid candidate id", "archive_invalid_id",
			logging.Error(err),
			logging.String("title", cand.Title),
			logging.String(logging.FieldImpact, "entry cannot be archived"),
		)
		return
	}
	if !st.opts.Force && st.idx.Contains(cand.ID) {
		st.result.Skipped++
		return
	}

	entryCtx := services.WithEntryID(ctx, cand.ID)
	entry, err := retry.Value(entryCtx, e.policy, func(ctx context.Context) (Entry, error) {
		return e.adapter.FetchDetail(ctx, st.src, cand)
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return
	case errors.Is(err, ErrSkipEntry):
		st.result.Skipped++
		logger.Debug("candidate skipped", logging.String("reason", err.Error()))
		return
	default:
		st.result.Errors++
		logging.WarnWithContext(logger, "entry fetch failed", "archive_entry_failed",
			logging.Error(err),
			logging.String("title", cand.Title),
			logging.String(logging.FieldImpact, "entry will be retried next run"),
			logging.String(logging.FieldErrorHint, "check the entry URL or rerun later"),
		)
		return
	}

	entry.ID = cand.ID
	entry.SourceKey = st.src.Key
	entry.SourceType = st.src.Type
	if entry.Title == "" {
		entry.Title = cand.Title
	}
	if entry.URL == "" {
		entry.URL = cand.URL
	}
	if entry.Published == "" {
		entry.Published = cand.Published
	}
	entry.ArchivedAt = e.now()
	st.idx.Record(entry)
	st.result.New++
	logger.Info("archived entry", logging.String("title", entry.Title))
}
