package language

import (
	"strings"

	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// words maps common English language names to their ISO 639-1 code so config
// files may say "english" instead of "en".
var words = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
}

// Parse converts a language code, BCP-47 tag, or caption track name into an
// x/text tag. Underscore separators (yt-dlp's "pt_BR") are accepted.
func Parse(code string) (xlang.Tag, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return xlang.Und, false
	}
	if mapped, ok := words[code]; ok {
		code = mapped
	}
	code = strings.ReplaceAll(code, "_", "-")
	tag, err := xlang.Parse(code)
	if err != nil {
		// yt-dlp suffixes translated tracks ("en-orig", "de-en"); retry on the primary subtag.
		if idx := strings.IndexByte(code, '-'); idx > 0 {
			if tag, err = xlang.Parse(code[:idx]); err == nil {
				return tag, true
			}
		}
		return xlang.Und, false
	}
	return tag, tag != xlang.Und
}

// Base returns the primary language subtag, preferring the ISO 639-1 form.
// Returns an empty string for unrecognized input.
func Base(code string) string {
	tag, ok := Parse(code)
	if !ok {
		return ""
	}
	base, conf := tag.Base()
	if conf == xlang.No {
		return ""
	}
	return base.String()
}

// Matches reports whether a caption or transcript language satisfies a wanted
// language by comparing primary subtags ("en-US" matches "en").
func Matches(candidate, wanted string) bool {
	a, b := Base(candidate), Base(wanted)
	return a != "" && a == b
}

// Pick returns the first available language matching the preferences in
// preference order.
func Pick(available, preferred []string) (string, bool) {
	for _, want := range preferred {
		for _, have := range available {
			if Matches(have, want) {
				return have, true
			}
		}
	}
	return "", false
}

// DisplayName returns a human-readable English language name.
// Returns "Unknown" for empty input, or the uppercased code for unrecognized input.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	tag, ok := Parse(code)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeList deduplicates and normalizes a list of language codes to their
// primary subtag. Unrecognized values are dropped.
func NormalizeList(languages []string) []string {
	if len(languages) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(languages))
	seen := make(map[string]struct{}, len(languages))
	for _, lang := range languages {
		base := Base(lang)
		if base == "" {
			continue
		}
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}
		normalized = append(normalized, base)
	}
	return normalized
}
