package config

import "strings"

// Source types understood by the fetch adapters.
const (
	SourceYouTube = "youtube"
	SourcePodcast = "podcast"
	SourceBlog    = "blog"
	SourceNews    = "news"
)

// SourceTypes lists every supported source type in display order.
var SourceTypes = []string{SourceYouTube, SourcePodcast, SourceBlog, SourceNews}

// Source is one configured content source.
type Source struct {
	Key     string        `toml:"key"`
	Name    string        `toml:"name"`
	Type    string        `toml:"type"`
	URL     string        `toml:"url"`
	Enabled *bool         `toml:"enabled"`
	Options SourceOptions `toml:"options"`
}

// SourceOptions are the per-source knobs recognized by the pipeline.
type SourceOptions struct {
	ExtractTranscript   bool     `toml:"extract_transcript"`
	TranscriptLanguages []string `toml:"transcript_languages"`
	UseYtDlp            bool     `toml:"use_ytdlp"`
	MaxEntriesPerRun    int      `toml:"max_entries_per_run"`
}

// IsEnabled reports whether the source participates in runs. Sources are
// enabled unless explicitly disabled.
func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DisplayName returns the configured name, falling back to the key.
func (s Source) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	return s.Key
}

// Select returns the enabled sources matching the filters, in configuration order.
func (c *Config) Select(filters Filters) []Source {
	wantType := strings.ToLower(strings.TrimSpace(filters.SourceType))
	wantKey := strings.TrimSpace(filters.SourceKey)
	selected := make([]Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		if !src.IsEnabled() {
			continue
		}
		if wantType != "" && src.Type != wantType {
			continue
		}
		if wantKey != "" && src.Key != wantKey {
			continue
		}
		selected = append(selected, src)
	}
	return selected
}

func validSourceType(value string) bool {
	for _, t := range SourceTypes {
		if t == value {
			return true
		}
	}
	return false
}
