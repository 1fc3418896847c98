package config

const (
	defaultArchiveDir              = "~/gitloop/subscriptions"
	defaultMaterialsDir            = "~/gitloop/writing-materials"
	defaultStateDir                = "~/.local/share/gitloop"
	defaultCacheDir                = "~/.cache/gitloop"
	defaultLogDir                  = "~/.local/share/gitloop/logs"
	defaultFetchTimeoutSeconds     = 30
	defaultUserAgent               = "gitloop/dev (+https://github.com/looplia/gitloop)"
	defaultMaxScan                 = 200
	defaultFetchRetryAttempts      = 3
	defaultFetchRetryBaseMillis    = 500
	defaultFetchRetryMaxMillis     = 8000
	defaultTranscriptionBackend    = "groq"
	defaultTranscriptionBaseURL    = "https://api.groq.com/openai/v1"
	defaultTranscriptionModel      = "whisper-large-v3-turbo"
	defaultMaxUploadBytes          = 25 << 20
	defaultDirectURLMaxBytes       = 100 << 20
	defaultOverlapSeconds          = 10
	defaultTranscriptionConcurrent = 3
	defaultTranscriptionTimeout    = 300
	defaultTranscriptionRetries    = 4
	defaultTieBreak                = TieBreakEarlier
	defaultMergeSimilarity         = 0.85
	defaultWhisperXModel           = "large-v3-turbo"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultMaxEntriesPerRun        = 10
	defaultNtfyTimeoutSeconds      = 10
)

// Stitch tie-break policies for overlapping chunk text.
const (
	TieBreakEarlier = "earlier"
	TieBreakLonger  = "longer"
)

// Transcription backends.
const (
	BackendGroq     = "groq"
	BackendWhisperX = "whisperx"
	BackendNone     = "none"
)

var defaultTranscriptLanguages = []string{"en"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArchiveDir:   defaultArchiveDir,
			MaterialsDir: defaultMaterialsDir,
			StateDir:     defaultStateDir,
			CacheDir:     defaultCacheDir,
			LogDir:       defaultLogDir,
		},
		Fetch: Fetch{
			TimeoutSeconds:  defaultFetchTimeoutSeconds,
			UserAgent:       defaultUserAgent,
			MaxScan:         defaultMaxScan,
			RetryAttempts:   defaultFetchRetryAttempts,
			RetryBaseMillis: defaultFetchRetryBaseMillis,
			RetryMaxMillis:  defaultFetchRetryMaxMillis,
			HTTPCache:       true,
		},
		Transcription: Transcription{
			Backend:           defaultTranscriptionBackend,
			BaseURL:           defaultTranscriptionBaseURL,
			Model:             defaultTranscriptionModel,
			MaxUploadBytes:    defaultMaxUploadBytes,
			DirectURLMaxBytes: defaultDirectURLMaxBytes,
			OverlapSeconds:    defaultOverlapSeconds,
			Concurrency:       defaultTranscriptionConcurrent,
			TimeoutSeconds:    defaultTranscriptionTimeout,
			RetryAttempts:     defaultTranscriptionRetries,
			TieBreak:          defaultTieBreak,
			MergeSimilarity:   defaultMergeSimilarity,
			WhisperXModel:     defaultWhisperXModel,
		},
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			YtDlp:   "yt-dlp",
			UVX:     "uvx",
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
	}
}
