package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"gitloop/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout for archives, materials, and state.
type Paths struct {
	ArchiveDir   string `toml:"archive_dir"`
	MaterialsDir string `toml:"materials_dir"`
	StateDir     string `toml:"state_dir"`
	CacheDir     string `toml:"cache_dir"`
	LogDir       string `toml:"log_dir"`
}

// Fetch contains HTTP and retry settings shared by feed adapters and material fetchers.
type Fetch struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	UserAgent       string `toml:"user_agent"`
	MaxScan         int    `toml:"max_scan"`
	RetryAttempts   int    `toml:"retry_attempts"`
	RetryBaseMillis int    `toml:"retry_base_ms"`
	RetryMaxMillis  int    `toml:"retry_max_ms"`
	HTTPCache       bool   `toml:"http_cache"`
}

// Transcription contains speech-to-text backend and chunking settings.
type Transcription struct {
	Backend           string  `toml:"backend"`
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	MaxUploadBytes    int64   `toml:"max_upload_bytes"`
	DirectURLMaxBytes int64   `toml:"direct_url_max_bytes"`
	OverlapSeconds    int     `toml:"overlap_seconds"`
	Concurrency       int     `toml:"concurrency"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RetryAttempts     int     `toml:"retry_attempts"`
	TieBreak          string  `toml:"tie_break"`
	MergeSimilarity   float64 `toml:"merge_similarity"`
	WhisperXModel     string  `toml:"whisperx_model"`
}

// Tools names the external binaries gitloop shells out to.
type Tools struct {
	FFmpeg             string `toml:"ffmpeg"`
	FFprobe            string `toml:"ffprobe"`
	YtDlp              string `toml:"ytdlp"`
	UVX                string `toml:"uvx"`
	CookiesFromBrowser string `toml:"cookies_from_browser"`
}

// Notifications configures the optional ntfy run summaries.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	// OnlyProblems suppresses summaries for runs without errors.
	OnlyProblems bool `toml:"only_problems"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays expires rotated log files; 0 keeps them forever.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for gitloop.
//
// Configuration sections by subsystem:
//   - Paths: archive, materials, state, cache, and log directories
//   - Fetch: HTTP client, scan bound, and retry policy for sources
//   - Transcription: backend credentials plus chunking and stitching knobs
//   - Tools: ffmpeg/ffprobe/yt-dlp/uvx binaries
//   - Logging: log format and level
//   - Notifications: ntfy topic for run summaries
//   - Sources: the declarative list of archived sources
type Config struct {
	Paths         Paths         `toml:"paths"`
	Fetch         Fetch         `toml:"fetch"`
	Transcription Transcription `toml:"transcription"`
	Tools         Tools         `toml:"tools"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Sources       []Source      `toml:"sources"`

	// Filters is populated from the environment, never from the file.
	Filters Filters `toml:"-"`
}

// Filters narrows a run to a subset of sources.
type Filters struct {
	SourceType string
	SourceKey  string
	Force      bool
	// MaxEntries overrides each source's max_entries_per_run when positive.
	MaxEntries int
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gitloop/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Every failure is tagged ErrConfiguration.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, configError("resolve", err)
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, configError("open", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, configError("parse", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, configError("normalize", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, configError("validate", err)
	}
	return &cfg, resolvedPath, exists, nil
}

func configError(operation string, err error) error {
	if errors.Is(err, services.ErrConfiguration) {
		return err
	}
	return services.Wrap(services.ErrConfiguration, "config", operation, "", err)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("gitloop.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArchiveDir, c.Paths.MaterialsDir, c.Paths.StateDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite database holding run history and the transcript cache.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "gitloop.db")
}

// LockDir returns the directory holding per-source run locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// AudioCacheDir returns the directory downloaded podcast audio is kept in.
func (c *Config) AudioCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "audio")
}

// HTTPCacheDir returns the disk cache directory for feed responses.
func (c *Config) HTTPCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "http")
}

// FetchTimeout returns the per-request timeout for source and material fetches.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// TranscriptionTimeout returns the per-request timeout for transcription calls.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

// Overlap returns the configured chunk overlap.
func (c *Config) Overlap() time.Duration {
	return time.Duration(c.Transcription.OverlapSeconds) * time.Second
}

// ChunkPCMBytesPerSecond is one second of chunk audio as 16 kHz mono
// 16-bit PCM.
const ChunkPCMBytesPerSecond = 16000 * 2

// ChunkBytesPerSecond is the rate long recordings are split against. FLAC
// frame headers on incompressible audio can exceed raw PCM slightly, so it
// carries 1/32 of headroom.
const ChunkBytesPerSecond = ChunkPCMBytesPerSecond + ChunkPCMBytesPerSecond/32

// ChunkBudget returns the longest chunk whose encoding fits byteCeiling.
func ChunkBudget(byteCeiling int64) time.Duration {
	if byteCeiling <= 0 {
		return 0
	}
	seconds := float64(byteCeiling) / ChunkBytesPerSecond
	return time.Duration(seconds * float64(time.Second)).Truncate(time.Millisecond)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML, with secrets redacted.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	if clone.Transcription.APIKey != "" {
		clone.Transcription.APIKey = "********"
	}
	return toml.Marshal(clone)
}
