package sources

import (
	"log/slog"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/httpclient"
	"gitloop/internal/logging"
	"gitloop/internal/services"
)

const (
	defaultITunesLookupURL = "https://itunes.apple.com/lookup"
	defaultYouTubeFeedURL  = "https://www.youtube.com/feeds/videos.xml"
)

// Deps carries what the adapters need from the outside world.
type Deps struct {
	HTTP *httpclient.Client
	Run  services.CommandRunner

	YtDlp              string
	CookiesFromBrowser string

	// ITunesLookupURL and YouTubeFeedURL are overridable for tests.
	ITunesLookupURL string
	YouTubeFeedURL  string

	Logger *slog.Logger
}

// DepsFromConfig builds Deps from cfg and a shared client.
func DepsFromConfig(cfg *config.Config, client *httpclient.Client, run services.CommandRunner, logger *slog.Logger) Deps {
	return Deps{
		HTTP:               client,
		Run:                run,
		YtDlp:              cfg.Tools.YtDlp,
		CookiesFromBrowser: cfg.Tools.CookiesFromBrowser,
		Logger:             logger,
	}
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = httpclient.New(httpclient.Options{Logger: d.Logger})
	}
	if d.Run == nil {
		d.Run = services.ExecCommand
	}
	if d.YtDlp == "" {
		d.YtDlp = "yt-dlp"
	}
	if d.ITunesLookupURL == "" {
		d.ITunesLookupURL = defaultITunesLookupURL
	}
	if d.YouTubeFeedURL == "" {
		d.YouTubeFeedURL = defaultYouTubeFeedURL
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	return d
}

// For returns the adapter for a source type.
func For(sourceType string, deps Deps) (archive.Adapter, error) {
	deps = deps.withDefaults()
	reader := newFeedReader(deps.HTTP)
	switch sourceType {
	case config.SourceYouTube:
		return newYouTube(reader, deps), nil
	case config.SourcePodcast:
		return newPodcast(reader, deps), nil
	case config.SourceBlog:
		return &blogAdapter{feed: reader}, nil
	case config.SourceNews:
		return &newsAdapter{blogAdapter{feed: reader}}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "sources", "adapter", "unknown source type "+sourceType, nil)
	}
}
