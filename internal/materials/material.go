package materials

import (
	"context"
	"log/slog"
	"strings"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/httpclient"
	"gitloop/internal/logging"
	"gitloop/internal/services"
	"gitloop/internal/transcript"
	"gitloop/internal/transcription"
)

// Kind names what a material's body is.
type Kind string

const (
	KindCaptions    Kind = "captions"
	KindTranscript  Kind = "transcript"
	KindArticle     Kind = "article"
	KindDescription Kind = "description"
	KindShowNotes   Kind = "show_notes"
)

// Material is the text extracted for one entry. Transcript is set for
// captions and speech-to-text results.
type Material struct {
	Kind       Kind
	Text       string
	Language   string
	Transcript *transcript.Transcript
}

func fromTranscript(kind Kind, t transcript.Transcript) Material {
	return Material{Kind: kind, Text: t.Text(), Language: t.Language, Transcript: &t}
}

// Fetcher extracts the material of one archived entry. Failures wrap
// services.ErrMaterialUnavailable unless a more specific marker applies.
type Fetcher interface {
	Fetch(ctx context.Context, src config.Source, entry archive.Entry) (Material, error)
}

// AudioTranscriber transcribes a recording by URL. *transcription.Pipeline
// satisfies it.
type AudioTranscriber interface {
	TranscribeAudio(ctx context.Context, job transcription.AudioJob) (transcript.Transcript, error)
}

// Deps carries what the fetchers share.
type Deps struct {
	HTTP               *httpclient.Client
	Run                services.CommandRunner
	YtDlp              string
	CookiesFromBrowser string
	// Audio is nil when the transcription backend is disabled.
	Audio  AudioTranscriber
	Logger *slog.Logger
}

// NewFetcher returns a Fetcher that dispatches on the source type.
func NewFetcher(deps Deps) Fetcher {
	if deps.Run == nil {
		deps.Run = services.ExecCommand
	}
	if deps.YtDlp == "" {
		deps.YtDlp = "yt-dlp"
	}
	if deps.HTTP == nil {
		deps.HTTP = httpclient.New(httpclient.Options{Logger: deps.Logger})
	}
	logger := logging.NewComponentLogger(deps.Logger, "materials")
	return &dispatcher{
		captions: &CaptionFetcher{
			run:     deps.Run,
			ytdlp:   deps.YtDlp,
			cookies: deps.CookiesFromBrowser,
			audio:   deps.Audio,
			logger:  logger,
		},
		podcast: &PodcastFetcher{audio: deps.Audio},
		article: &ArticleFetcher{http: deps.HTTP.WithMarker(services.ErrMaterialUnavailable)},
	}
}

type dispatcher struct {
	captions *CaptionFetcher
	podcast  *PodcastFetcher
	article  *ArticleFetcher
}

func (d *dispatcher) Fetch(ctx context.Context, src config.Source, entry archive.Entry) (Material, error) {
	switch src.Type {
	case config.SourceYouTube:
		return d.captions.Fetch(ctx, src, entry)
	case config.SourcePodcast:
		return d.podcast.Fetch(ctx, src, entry)
	case config.SourceBlog, config.SourceNews:
		return d.article.Fetch(ctx, src, entry)
	}
	return Material{}, services.Wrap(services.ErrConfiguration, "materials", "fetch", "unknown source type "+src.Type, nil)
}

// preferredLanguage returns the first configured transcript language.
func preferredLanguage(src config.Source) string {
	if len(src.Options.TranscriptLanguages) == 0 {
		return ""
	}
	return src.Options.TranscriptLanguages[0]
}

func unavailable(stage, entryID, reason string) error {
	return services.Permanent(services.Wrap(services.ErrMaterialUnavailable, stage, "fetch", entryID+": "+reason, nil))
}

func trimmed(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
