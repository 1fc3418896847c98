package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	return c.validateFilters()
}

func (c *Config) validateFetch() error {
	return ensurePositiveMap(map[string]int{
		"fetch.timeout_seconds": c.Fetch.TimeoutSeconds,
		"fetch.max_scan":        c.Fetch.MaxScan,
		"fetch.retry_attempts":  c.Fetch.RetryAttempts,
	})
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.Backend {
	case BackendGroq, BackendWhisperX, BackendNone:
	default:
		return fmt.Errorf("transcription.backend: unsupported value %q (want groq, whisperx, or none)", c.Transcription.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"transcription.timeout_seconds": c.Transcription.TimeoutSeconds,
		"transcription.retry_attempts":  c.Transcription.RetryAttempts,
	}); err != nil {
		return err
	}
	if c.Transcription.MaxUploadBytes <= 0 {
		return errors.New("transcription.max_upload_bytes must be positive")
	}
	if c.Transcription.DirectURLMaxBytes < 0 {
		return errors.New("transcription.direct_url_max_bytes must not be negative")
	}
	if c.Transcription.OverlapSeconds < 0 {
		return errors.New("transcription.overlap_seconds must not be negative")
	}
	if budget := ChunkBudget(c.Transcription.MaxUploadBytes); c.Overlap() >= budget {
		return fmt.Errorf("transcription.overlap_seconds: %s must be shorter than the %s chunk that fits max_upload_bytes", c.Overlap(), budget)
	}
	switch c.Transcription.TieBreak {
	case TieBreakEarlier, TieBreakLonger:
	default:
		return fmt.Errorf("transcription.tie_break: unsupported value %q (want earlier or longer)", c.Transcription.TieBreak)
	}
	if c.Transcription.MergeSimilarity <= 0 || c.Transcription.MergeSimilarity > 1 {
		return errors.New("transcription.merge_similarity must be within (0, 1]")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must not be negative")
	}
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	u, err := url.Parse(topic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic: expected an http(s) topic URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if src.Key == "" {
			return fmt.Errorf("%s.key must be set", field)
		}
		if strings.ContainsAny(src.Key, `/\`) || src.Key == "." || src.Key == ".." {
			return fmt.Errorf("%s.key %q must be usable as a directory name", field, src.Key)
		}
		if _, dup := seen[src.Key]; dup {
			return fmt.Errorf("%s.key %q is duplicated", field, src.Key)
		}
		seen[src.Key] = struct{}{}
		if !validSourceType(src.Type) {
			return fmt.Errorf("%s.type %q is not one of %s", field, src.Type, strings.Join(SourceTypes, ", "))
		}
		if src.URL == "" {
			return fmt.Errorf("%s.url must be set", field)
		}
		if src.Type != SourceYouTube || strings.Contains(src.URL, "://") {
			if parsed, err := url.Parse(src.URL); err != nil || parsed.Host == "" {
				return fmt.Errorf("%s.url %q is not an absolute URL", field, src.URL)
			}
		}
		if src.Options.MaxEntriesPerRun <= 0 {
			return fmt.Errorf("%s.options.max_entries_per_run must be positive", field)
		}
	}
	return nil
}

func (c *Config) validateFilters() error {
	if c.Filters.SourceType != "" && !validSourceType(c.Filters.SourceType) {
		return fmt.Errorf("SOURCE_TYPE %q is not one of %s", c.Filters.SourceType, strings.Join(SourceTypes, ", "))
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
