package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gitloop/internal/audio"
	"gitloop/internal/config"
	"gitloop/internal/fileutil"
	"gitloop/internal/httpclient"
	"gitloop/internal/logging"
	"gitloop/internal/retry"
	"gitloop/internal/services"
	"gitloop/internal/textutil"
	"gitloop/internal/transcript"
)

// Cache stores finished transcripts so an episode is never sent to the
// vendor twice. *ledger.Store satisfies it.
type Cache interface {
	LookupTranscript(ctx context.Context, key string) (transcript.Transcript, bool, error)
	SaveTranscript(ctx context.Context, key, entryID, audioURL, backend string, t transcript.Transcript) error
}

// AudioJob identifies one recording to transcribe.
type AudioJob struct {
	EntryID string
	URL     string
	// CacheURL names the recording in the cache key when URL is a
	// short-lived media link. Defaults to URL.
	CacheURL string
	Language string
}

func (j AudioJob) cacheKey() string {
	if j.CacheURL != "" {
		return CacheKey(j.EntryID, j.CacheURL)
	}
	return CacheKey(j.EntryID, j.URL)
}

// CacheKey returns the transcript cache key for an entry and its audio URL.
func CacheKey(entryID, audioURL string) string {
	return textutil.SanitizeID(entryID) + "_" + textutil.ShortHash(audioURL, 8)
}

// PipelineOptions carries the knobs of a Pipeline. NewPipeline fills it
// from config.
type PipelineOptions struct {
	AudioDir          string
	FFprobe           string
	FFmpeg            string
	MaxUploadBytes    int64
	DirectURLMaxBytes int64
	Overlap           time.Duration
	Concurrency       int
	Stitch            transcript.StitchOptions
	Retry             retry.Policy
}

// Pipeline transcribes arbitrarily long recordings with a backend that may
// cap the size of a single request.
type Pipeline struct {
	backend Transcriber
	cache   Cache
	http    *httpclient.Client
	run     services.CommandRunner
	chunker *audio.Chunker
	opts    PipelineOptions
	logger  *slog.Logger
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithCommandRunner replaces the runner used for ffmpeg and ffprobe.
func WithCommandRunner(run services.CommandRunner) PipelineOption {
	return func(p *Pipeline) {
		if run != nil {
			p.run = run
		}
	}
}

// NewPipeline wires a backend, cache and HTTP client using cfg.
func NewPipeline(cfg *config.Config, backend Transcriber, cache Cache, client *httpclient.Client, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	return NewPipelineWithOptions(PipelineOptions{
		AudioDir:          cfg.AudioCacheDir(),
		FFprobe:           cfg.Tools.FFprobe,
		FFmpeg:            cfg.Tools.FFmpeg,
		MaxUploadBytes:    cfg.Transcription.MaxUploadBytes,
		DirectURLMaxBytes: cfg.Transcription.DirectURLMaxBytes,
		Overlap:           cfg.Overlap(),
		Concurrency:       cfg.Transcription.Concurrency,
		Stitch: transcript.StitchOptions{
			MergeSimilarity: cfg.Transcription.MergeSimilarity,
			TieBreak:        cfg.Transcription.TieBreak,
		},
		Retry: retry.Policy{
			Attempts:  cfg.Fetch.RetryAttempts,
			BaseDelay: time.Duration(cfg.Fetch.RetryBaseMillis) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.Fetch.RetryMaxMillis) * time.Millisecond,
		},
	}, backend, cache, client, logger, opts...)
}

// NewPipelineWithOptions builds a Pipeline from explicit options.
func NewPipelineWithOptions(po PipelineOptions, backend Transcriber, cache Cache, client *httpclient.Client, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	if po.Concurrency <= 0 {
		po.Concurrency = 1
	}
	p := &Pipeline{
		backend: backend,
		cache:   cache,
		http:    client.WithMarker(services.ErrMaterialUnavailable),
		run:     services.ExecCommand,
		opts:    po,
		logger:  logging.NewComponentLogger(logger, "transcription"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.chunker = audio.NewChunker(po.FFmpeg, p.run, logger)
	return p
}

// Backend returns the name of the configured backend.
func (p *Pipeline) Backend() string { return p.backend.Name() }

// TranscribeAudio returns the transcript of job.URL, from the cache when
// possible. Chunks that fail after retries become gaps; a chunk rejected as
// too large, or a configuration error, aborts the whole run.
func (p *Pipeline) TranscribeAudio(ctx context.Context, job AudioJob) (transcript.Transcript, error) {
	ctx = services.WithStage(ctx, "transcribe")
	logger := logging.WithContext(ctx, p.logger)
	key := job.cacheKey()

	if p.cache != nil {
		cached, ok, err := p.cache.LookupTranscript(ctx, key)
		if err != nil {
			logging.WarnWithContext(logger, "transcript cache lookup failed", "transcript_cache_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "episode will be transcribed again"),
				logging.String(logging.FieldErrorHint, "check the ledger database under state_dir"),
			)
		} else if ok {
			logger.Info("transcript cache hit", logging.String("cache_key", key))
			return cached, nil
		}
	}

	t, err := p.transcribe(ctx, logger, job, key)
	if err != nil {
		return transcript.Transcript{}, err
	}
	t.SourceKind = transcript.KindSpeechToText

	gaps := len(t.Gaps())
	if p.cache != nil && gaps == 0 {
		if err := p.cache.SaveTranscript(ctx, key, job.EntryID, job.URL, p.backend.Name(), t); err != nil {
			logging.WarnWithContext(logger, "transcript cache save failed", "transcript_cache_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a later run may pay for this transcription again"),
				logging.String(logging.FieldErrorHint, "check disk space and permissions under state_dir"),
			)
		}
	}
	logger.Info("transcription complete",
		logging.Int("segments", len(t.Segments)),
		logging.Int("gaps", gaps),
		logging.String("language", t.Language),
	)
	return t, nil
}

func (p *Pipeline) transcribe(ctx context.Context, logger *slog.Logger, job AudioJob, key string) (transcript.Transcript, error) {
	target := job.URL
	size := int64(-1)
	head, err := retry.Value(ctx, p.opts.Retry, func(ctx context.Context) (httpclient.HeadResult, error) {
		return p.http.Head(ctx, job.URL)
	})
	switch {
	case err == nil:
		target = head.FinalURL
		size = head.ContentLength
	case ctx.Err() != nil:
		return transcript.Transcript{}, ctx.Err()
	default:
		logger.Debug("audio head request failed; size unknown", logging.Error(err))
	}

	caps := p.backend.Capabilities()
	if caps.URL && (size < 0 || size <= p.opts.DirectURLMaxBytes) {
		result, err := p.backend.Transcribe(ctx, Request{URL: target, Language: job.Language})
		if err == nil {
			logger.Info("transcribed by url", logging.Int64("content_length", size))
			return single(result), nil
		}
		if ctx.Err() != nil {
			return transcript.Transcript{}, ctx.Err()
		}
		if errors.Is(err, services.ErrConfiguration) {
			return transcript.Transcript{}, err
		}
		logging.WarnWithContext(logger, "direct url transcription failed; downloading audio", "transcription_url_fallback",
			logging.Error(err),
			logging.String(logging.FieldImpact, "audio is downloaded and uploaded in chunks instead"),
			logging.String(logging.FieldErrorHint, "the vendor may not be able to reach the audio host"),
		)
	}

	audioPath, err := p.fetchAudio(ctx, logger, target, key)
	if err != nil {
		return transcript.Transcript{}, err
	}
	info, err := audio.Probe(ctx, p.run, p.opts.FFprobe, audioPath)
	if err != nil {
		return transcript.Transcript{}, err
	}

	ceiling := caps.MaxUploadBytes
	if ceiling == 0 || info.Size <= ceiling {
		chunk := audio.Chunk{Index: 0, Start: 0, End: info.Duration, Path: audioPath}
		return p.transcribeChunks(ctx, logger, []audio.Chunk{chunk}, job.Language)
	}

	maxChunk, err := audio.MaxChunkDuration(ceiling, audio.ChunkBytesPerSecond)
	if err != nil {
		return transcript.Transcript{}, err
	}
	plan, err := audio.Plan(info.Duration, maxChunk, p.opts.Overlap)
	if err != nil {
		return transcript.Transcript{}, err
	}
	logger.Info("chunking audio",
		logging.Duration("duration", info.Duration),
		logging.Int64("source_bit_rate", info.BitRate),
		logging.Duration("max_chunk", maxChunk),
		logging.Duration("overlap", p.opts.Overlap),
		logging.Int("chunks", len(plan)),
	)
	workDir := filepath.Join(p.opts.AudioDir, key+"_chunks")
	chunks, err := p.chunker.Materialize(ctx, audioPath, plan, workDir)
	if err != nil {
		return transcript.Transcript{}, err
	}
	t, err := p.transcribeChunks(ctx, logger, chunks, job.Language)
	if err != nil {
		return transcript.Transcript{}, err
	}
	if err := os.RemoveAll(workDir); err != nil {
		logger.Debug("remove chunk dir failed", logging.String("path", workDir), logging.Error(err))
	}
	return t, nil
}

// fetchAudio downloads the recording into the audio cache unless an earlier
// run already did.
func (p *Pipeline) fetchAudio(ctx context.Context, logger *slog.Logger, target, key string) (string, error) {
	dest := filepath.Join(p.opts.AudioDir, key+audioExtension(target))
	if fileutil.NonEmpty(dest) {
		logger.Debug("audio cache hit", logging.String("path", dest))
		return dest, nil
	}
	n, err := retry.Value(ctx, p.opts.Retry, func(ctx context.Context) (int64, error) {
		return p.http.Download(ctx, target, dest)
	})
	if err != nil {
		return "", err
	}
	logger.Info("audio downloaded", logging.String("path", dest), logging.Int64("bytes", n))
	return dest, nil
}

// transcribeChunks fans chunks out to a bounded worker pool and stitches
// the results once every worker has finished.
func (p *Pipeline) transcribeChunks(ctx context.Context, logger *slog.Logger, chunks []audio.Chunk, lang string) (transcript.Transcript, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]transcript.ChunkResult, len(chunks))
	var (
		abortOnce sync.Once
		abortErr  error
	)
	jobs := make(chan int)
	workers := min(p.opts.Concurrency, len(chunks))

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range jobs {
				chunk := chunks[i]
				res, err := p.backend.Transcribe(ctx, Request{
					Path:     chunk.Path,
					FileName: filepath.Base(chunk.Path),
					Language: lang,
				})
				results[i] = transcript.ChunkResult{
					Index:    chunk.Index,
					Segments: res.Segments,
					Language: res.Language,
					Err:      err,
				}
				if err != nil && IsFatal(err) {
					abortOnce.Do(func() {
						abortErr = err
						cancel()
					})
				}
			}
		}()
	}

feed:
	for i := range chunks {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if abortErr != nil {
		return transcript.Transcript{}, abortErr
	}
	if err := ctx.Err(); err != nil {
		return transcript.Transcript{}, err
	}

	failed := 0
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		failed++
		logging.WarnWithContext(logger, "chunk transcription failed", "transcription_chunk_failed",
			logging.Int(logging.FieldChunkIndex, res.Index),
			logging.Error(res.Err),
			logging.String(logging.FieldImpact, "chunk recorded as a transcript gap"),
			logging.String(logging.FieldErrorHint, "clear the materials file and rerun to retry the episode"),
		)
	}
	if failed == len(chunks) {
		return transcript.Transcript{}, services.Wrap(services.ErrTranscriptionService, "transcription", "chunks",
			fmt.Sprintf("all %d chunks failed", failed), results[0].Err)
	}
	return transcript.Stitch(chunks, results, p.opts.Stitch), nil
}

func single(result Result) transcript.Transcript {
	segments := append([]transcript.Segment(nil), result.Segments...)
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	return transcript.Transcript{Segments: segments, Language: result.Language}
}

func audioExtension(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		switch ext {
		case ".mp3", ".m4a", ".aac", ".ogg", ".opus", ".wav", ".flac", ".mp4", ".webm":
			return ext
		}
	}
	return ".mp3"
}
