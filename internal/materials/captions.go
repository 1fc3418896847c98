package materials

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/language"
	"gitloop/internal/logging"
	"gitloop/internal/services"
	"gitloop/internal/transcript"
	"gitloop/internal/transcription"
)

var errNoCaptions = errors.New("no caption track")

// CaptionFetcher reads YouTube captions through yt-dlp.
type CaptionFetcher struct {
	run     services.CommandRunner
	ytdlp   string
	cookies string
	audio   AudioTranscriber
	logger  *slog.Logger
}

// track is a caption language yt-dlp can write.
type track struct {
	lang string
	auto bool
}

// Fetch returns the captions of entry. Without captions it transcribes the
// audio when the source uses yt-dlp and a backend is configured, and falls
// back to the description otherwise. With extract_transcript disabled the
// description is the material.
func (f *CaptionFetcher) Fetch(ctx context.Context, src config.Source, entry archive.Entry) (Material, error) {
	if !src.Options.ExtractTranscript {
		return description(entry)
	}
	logger := logging.WithContext(ctx, f.logger)

	t, err := f.captions(ctx, src, entry)
	switch {
	case err == nil:
		return fromTranscript(KindCaptions, t), nil
	case !errors.Is(err, errNoCaptions):
		return Material{}, err
	}
	logger.Debug("no captions available", logging.String(logging.FieldEntryID, entry.ID))

	if src.Options.UseYtDlp && f.audio != nil {
		mediaURL, err := f.audioURL(ctx, entry)
		if err != nil {
			return Material{}, err
		}
		t, err := f.audio.TranscribeAudio(ctx, transcription.AudioJob{
			EntryID:  entry.ID,
			URL:      mediaURL,
			CacheURL: entry.URL,
			Language: preferredLanguage(src),
		})
		if err != nil {
			return Material{}, err
		}
		return fromTranscript(KindTranscript, t), nil
	}
	return description(entry)
}

func description(entry archive.Entry) (Material, error) {
	text := strings.TrimSpace(entry.PayloadString("description"))
	if text == "" {
		return Material{}, unavailable("captions", entry.ID, "no captions and no description")
	}
	return Material{Kind: KindDescription, Text: text}, nil
}

// captions downloads the best caption track into a temporary directory and
// parses it. It returns errNoCaptions when the video has none.
func (f *CaptionFetcher) captions(ctx context.Context, src config.Source, entry archive.Entry) (transcript.Transcript, error) {
	if entry.URL == "" {
		return transcript.Transcript{}, errNoCaptions
	}
	manual := stringList(entry.Payload["caption_languages"])
	auto := stringList(entry.Payload["auto_caption_languages"])
	// Entries archived without yt-dlp metadata carry no track lists; yt-dlp
	// then writes whatever matches and the file names decide.
	chosen, known := selectTrack(manual, auto, src.Options.TranscriptLanguages)

	dir, err := os.MkdirTemp("", "gitloop-captions-")
	if err != nil {
		return transcript.Transcript{}, services.Wrap(services.ErrExternalTool, "captions", "temp dir", "", err)
	}
	defer os.RemoveAll(dir)

	args := []string{"--no-warnings", "--quiet"}
	if f.cookies != "" {
		args = append(args, "--cookies-from-browser", f.cookies)
	}
	args = append(args, "--skip-download", "--sub-format", "vtt")
	switch {
	case known && chosen.auto:
		args = append(args, "--write-auto-subs", "--sub-langs", chosen.lang)
	case known:
		args = append(args, "--write-subs", "--sub-langs", chosen.lang)
	default:
		args = append(args, "--write-subs", "--write-auto-subs", "--sub-langs", subLangPattern(src.Options.TranscriptLanguages))
	}
	args = append(args, "-o", filepath.Join(dir, "%(id)s.%(ext)s"), entry.URL)

	if _, err := f.run(ctx, f.ytdlp, args...); err != nil {
		if ctx.Err() != nil {
			return transcript.Transcript{}, ctx.Err()
		}
		return transcript.Transcript{}, services.Wrap(services.ErrMaterialUnavailable, "captions", "yt-dlp", entry.ID, err)
	}

	path, lang, err := pickSubtitleFile(dir, src.Options.TranscriptLanguages)
	if err != nil {
		return transcript.Transcript{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return transcript.Transcript{}, services.Wrap(services.ErrMaterialUnavailable, "captions", "open", path, err)
	}
	defer file.Close()
	segments, err := transcript.ParseVTT(file)
	if err != nil {
		return transcript.Transcript{}, services.Wrap(services.ErrMaterialUnavailable, "captions", "parse", path, err)
	}
	t := transcript.Transcript{
		Segments:      segments,
		Language:      language.Base(lang),
		SourceKind:    transcript.KindCaptions,
		AutoGenerated: known && chosen.auto,
	}
	if t.Empty() {
		return transcript.Transcript{}, errNoCaptions
	}
	return t, nil
}

// selectTrack picks a manual track before an auto one, preferring the
// configured languages in order, then the first manual or auto track.
func selectTrack(manual, auto, preferred []string) (track, bool) {
	if lang, ok := language.Pick(manual, preferred); ok {
		return track{lang: lang}, true
	}
	if lang, ok := language.Pick(auto, preferred); ok {
		return track{lang: lang, auto: true}, true
	}
	if len(manual) > 0 {
		return track{lang: manual[0]}, true
	}
	if len(auto) > 0 {
		return track{lang: auto[0], auto: true}, true
	}
	return track{}, false
}

// subLangPattern asks yt-dlp for every regional variant of the preferred
// languages ("en.*,de.*").
func subLangPattern(preferred []string) string {
	if len(preferred) == 0 {
		return "en.*"
	}
	patterns := make([]string, 0, len(preferred))
	for _, lang := range preferred {
		patterns = append(patterns, lang+".*")
	}
	return strings.Join(patterns, ",")
}

// pickSubtitleFile finds the written <id>.<lang>.vtt files and returns the one
// best matching preferred.
func pickSubtitleFile(dir string, preferred []string) (string, string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.vtt"))
	if err != nil {
		return "", "", services.Wrap(services.ErrExternalTool, "captions", "list", dir, err)
	}
	if len(matches) == 0 {
		return "", "", errNoCaptions
	}
	sort.Strings(matches)
	byLang := make(map[string]string, len(matches))
	langs := make([]string, 0, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".vtt")
		lang := name
		if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
			lang = name[idx+1:]
		}
		byLang[lang] = path
		langs = append(langs, lang)
	}
	if lang, ok := language.Pick(langs, preferred); ok {
		return byLang[lang], lang, nil
	}
	return byLang[langs[0]], langs[0], nil
}

// audioURL resolves a direct media URL for the best audio-only format.
func (f *CaptionFetcher) audioURL(ctx context.Context, entry archive.Entry) (string, error) {
	args := []string{"--no-warnings", "--quiet"}
	if f.cookies != "" {
		args = append(args, "--cookies-from-browser", f.cookies)
	}
	args = append(args, "-f", "bestaudio", "-g", "--no-playlist", entry.URL)
	out, err := f.run(ctx, f.ytdlp, args...)
	if err != nil {
		return "", services.Wrap(services.ErrMaterialUnavailable, "captions", "resolve audio", entry.ID, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "http") {
			return line, nil
		}
	}
	return "", unavailable("captions", entry.ID, "yt-dlp returned no audio URL")
}

// stringList reads a string slice from a payload value, which is []any once
// the entry has been through JSON.
func stringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
