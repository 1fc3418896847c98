package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"gitloop/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose directories all live under a unique temp
// directory, with fast retries and no transcription backend.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ArchiveDir = filepath.Join(base, "subscriptions")
	cfgVal.Paths.MaterialsDir = filepath.Join(base, "materials")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Fetch.RetryAttempts = 2
	cfgVal.Fetch.RetryBaseMillis = 1
	cfgVal.Fetch.RetryMaxMillis = 2
	cfgVal.Fetch.HTTPCache = false
	cfgVal.Transcription.Backend = config.BackendNone

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithSources replaces the configured sources.
func WithSources(sources ...config.Source) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sources = append([]config.Source(nil), sources...)
	}
}

// WithBackend selects a transcription backend and, for groq, points it at
// baseURL.
func WithBackend(backend, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcription.Backend = backend
		if baseURL != "" {
			b.cfg.Transcription.BaseURL = baseURL
		}
		if b.cfg.Transcription.APIKey == "" {
			b.cfg.Transcription.APIKey = "test-key"
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the external tools gitloop
// shells out to are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "yt-dlp"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ArchiveDir)
}
