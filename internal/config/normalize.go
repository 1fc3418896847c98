package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gitloop/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFetch()
	c.normalizeTranscription()
	c.normalizeTools()
	c.normalizeLogging()
	c.normalizeNotifications()
	c.normalizeSources()
	c.normalizeFilters()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
		def   string
	}{
		{"paths.archive_dir", &c.Paths.ArchiveDir, defaultArchiveDir},
		{"paths.materials_dir", &c.Paths.MaterialsDir, defaultMaterialsDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.cache_dir", &c.Paths.CacheDir, defaultCacheDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.def
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds == 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeFetch() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeTranscription() {
	if value, ok := os.LookupEnv("TRANSCRIPTION_BACKEND"); ok && strings.TrimSpace(value) != "" {
		c.Transcription.Backend = value
	}
	c.Transcription.Backend = strings.ToLower(strings.TrimSpace(c.Transcription.Backend))
	if c.Transcription.Backend == "" {
		c.Transcription.Backend = defaultTranscriptionBackend
	}
	c.Transcription.APIKey = strings.TrimSpace(c.Transcription.APIKey)
	if c.Transcription.APIKey == "" {
		if value, ok := os.LookupEnv("GROQ_API_KEY"); ok {
			c.Transcription.APIKey = strings.TrimSpace(value)
		}
	}
	c.Transcription.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcription.BaseURL), "/")
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = defaultTranscriptionBaseURL
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	c.Transcription.TieBreak = strings.ToLower(strings.TrimSpace(c.Transcription.TieBreak))
	if c.Transcription.TieBreak == "" {
		c.Transcription.TieBreak = defaultTieBreak
	}
	if c.Transcription.Concurrency <= 0 {
		c.Transcription.Concurrency = 1
	}
	c.Transcription.WhisperXModel = strings.TrimSpace(c.Transcription.WhisperXModel)
	if c.Transcription.WhisperXModel == "" {
		c.Transcription.WhisperXModel = defaultWhisperXModel
	}
}

func (c *Config) normalizeTools() {
	trimOr := func(value *string, fallback string) {
		*value = strings.TrimSpace(*value)
		if *value == "" {
			*value = fallback
		}
	}
	trimOr(&c.Tools.FFmpeg, "ffmpeg")
	trimOr(&c.Tools.FFprobe, "ffprobe")
	trimOr(&c.Tools.YtDlp, "yt-dlp")
	trimOr(&c.Tools.UVX, "uvx")
	c.Tools.CookiesFromBrowser = strings.TrimSpace(c.Tools.CookiesFromBrowser)
	if c.Tools.CookiesFromBrowser == "" {
		if value, ok := os.LookupEnv("YT_COOKIES_FROM_BROWSER"); ok {
			c.Tools.CookiesFromBrowser = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeSources() {
	for i := range c.Sources {
		src := &c.Sources[i]
		src.Key = strings.TrimSpace(src.Key)
		src.Name = strings.TrimSpace(src.Name)
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		src.URL = strings.TrimSpace(src.URL)
		if src.Options.MaxEntriesPerRun == 0 {
			src.Options.MaxEntriesPerRun = defaultMaxEntriesPerRun
		}
		langs := language.NormalizeList(src.Options.TranscriptLanguages)
		if len(langs) == 0 {
			langs = append([]string(nil), defaultTranscriptLanguages...)
		}
		src.Options.TranscriptLanguages = langs
	}
}

func (c *Config) normalizeFilters() {
	if value, ok := os.LookupEnv("SOURCE_TYPE"); ok {
		c.Filters.SourceType = strings.ToLower(strings.TrimSpace(value))
	}
	if value, ok := os.LookupEnv("SOURCE_KEY"); ok {
		c.Filters.SourceKey = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("FORCE_REPROCESS"); ok {
		c.Filters.Force = parseBool(value)
	}
}

func parseBool(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "yes" || value == "on" {
		return true
	}
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}
