package sources

import (
	"context"
	"encoding/json"
	"iter"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/mmcdole/gofeed"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/services"
)

var applePodcastID = regexp.MustCompile(`/id(\d+)`)

type podcastAdapter struct {
	feed *feedReader
	deps Deps

	mu       sync.Mutex
	resolved map[string]string
}

func newPodcast(reader *feedReader, deps Deps) *podcastAdapter {
	return &podcastAdapter{feed: reader, deps: deps, resolved: map[string]string{}}
}

func (a *podcastAdapter) Candidates(ctx context.Context, src config.Source, limit int) iter.Seq2[archive.Candidate, error] {
	return func(yield func(archive.Candidate, error) bool) {
		feedURL, err := a.feedURL(ctx, src.URL)
		if err != nil {
			yield(archive.Candidate{}, err)
			return
		}
		for cand, err := range a.feed.candidates(ctx, feedURL, limit, itemCandidate) {
			if !yield(cand, err) {
				return
			}
		}
	}
}

// feedURL resolves Apple Podcasts pages to their RSS feed; any other URL is
// taken to be the feed itself. Resolutions are remembered for the adapter's
// lifetime so re-listing does not repeat the lookup.
func (a *podcastAdapter) feedURL(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || !strings.Contains(u.Host, "podcasts.apple.com") {
		return raw, nil
	}
	match := applePodcastID.FindStringSubmatch(u.Path)
	if match == nil {
		return "", services.Wrap(services.ErrConfiguration, "podcast", "resolve feed", "no podcast id in "+raw, nil)
	}

	a.mu.Lock()
	cached, ok := a.resolved[match[1]]
	a.mu.Unlock()
	if ok {
		return cached, nil
	}

	lookup := a.deps.ITunesLookupURL + "?" + url.Values{"id": {match[1]}, "entity": {"podcast"}}.Encode()
	body, err := a.feed.http.Get(ctx, lookup)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Results []struct {
			FeedURL string `json:"feedUrl"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrSourceUnavailable, "podcast", "resolve feed", "decode itunes lookup", err)
	}
	for _, result := range parsed.Results {
		if feed := strings.TrimSpace(result.FeedURL); feed != "" {
			a.mu.Lock()
			a.resolved[match[1]] = feed
			a.mu.Unlock()
			return feed, nil
		}
	}
	return "", services.Permanent(services.Wrap(services.ErrSourceUnavailable, "podcast", "resolve feed",
		"itunes lookup returned no feed for id "+match[1], nil))
}

func (a *podcastAdapter) FetchDetail(_ context.Context, _ config.Source, cand archive.Candidate) (archive.Entry, error) {
	item, err := rawItem("podcast", cand)
	if err != nil {
		return archive.Entry{}, err
	}
	return archive.Entry{
		Title:     cand.Title,
		URL:       cand.URL,
		Published: cand.Published,
		Payload:   podcastPayload(item),
	}, nil
}

func podcastPayload(item *gofeed.Item) map[string]any {
	payload := map[string]any{"enriched_via": "rss"}
	putIf(payload, "link", strings.TrimSpace(item.Link))
	putIf(payload, "author", authorName(item))
	putIf(payload, "summary", strings.TrimSpace(item.Description))
	putIf(payload, "content", content(item))
	putIf(payload, "tags", item.Categories)

	for _, enc := range item.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		audio := map[string]any{"url": strings.TrimSpace(enc.URL)}
		putIf(audio, "type", enc.Type)
		putIf(audio, "length", enc.Length)
		payload["audio"] = audio
		break
	}

	if it := item.ITunesExt; it != nil {
		putIf(payload, "duration", it.Duration)
		putIf(payload, "episode_number", it.Episode)
		putIf(payload, "season_number", it.Season)
		putIf(payload, "episode_type", it.EpisodeType)
		putIf(payload, "explicit", it.Explicit)
		putIf(payload, "image", it.Image)
		if payload["author"] == nil {
			putIf(payload, "author", it.Author)
		}
	}
	if _, ok := payload["image"]; !ok && item.Image != nil {
		putIf(payload, "image", item.Image.URL)
	}
	return payload
}

// AudioURL returns the enclosure URL recorded in a podcast entry.
func AudioURL(entry archive.Entry) string {
	audio, ok := entry.Payload["audio"].(map[string]any)
	if !ok {
		return ""
	}
	u, _ := audio["url"].(string)
	return strings.TrimSpace(u)
}
