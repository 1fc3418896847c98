package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mmcdole/gofeed"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/services"
)

// shortMaxSeconds is the longest duration treated as a YouTube Short.
const shortMaxSeconds = 60

const maxThumbnails = 5

var (
	channelIDPattern = regexp.MustCompile(`UC[0-9A-Za-z_-]{22}`)
	playlistPattern  = regexp.MustCompile(`[?&]list=([0-9A-Za-z_-]+)`)
	videoIDPattern   = regexp.MustCompile(`(?:v=|/v/|youtu\.be/|/shorts/)([0-9A-Za-z_-]{11})`)
)

type youtubeAdapter struct {
	feed *feedReader
	deps Deps

	mu       sync.Mutex
	resolved map[string]string
}

func newYouTube(reader *feedReader, deps Deps) *youtubeAdapter {
	return &youtubeAdapter{feed: reader, deps: deps, resolved: map[string]string{}}
}

// WatchURL returns the canonical watch page of a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func (a *youtubeAdapter) Candidates(ctx context.Context, src config.Source, limit int) iter.Seq2[archive.Candidate, error] {
	return func(yield func(archive.Candidate, error) bool) {
		feedURL, err := a.feedURL(ctx, src.URL)
		if err != nil {
			yield(archive.Candidate{}, err)
			return
		}
		for cand, err := range a.feed.candidates(ctx, feedURL, limit, videoCandidate) {
			if !yield(cand, err) {
				return
			}
		}
	}
}

// feedURL accepts a channel id, a channel or playlist URL, or a feed URL.
// Handles like youtube.com/@name are resolved to a channel id with yt-dlp.
func (a *youtubeAdapter) feedURL(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.Contains(raw, "feeds/videos.xml"):
		return raw, nil
	case playlistPattern.MatchString(raw):
		return a.deps.YouTubeFeedURL + "?playlist_id=" + url.QueryEscape(playlistPattern.FindStringSubmatch(raw)[1]), nil
	case channelIDPattern.MatchString(raw):
		return a.deps.YouTubeFeedURL + "?channel_id=" + channelIDPattern.FindString(raw), nil
	}

	a.mu.Lock()
	id, ok := a.resolved[raw]
	a.mu.Unlock()
	if !ok {
		var err error
		if id, err = a.resolveChannelID(ctx, raw); err != nil {
			return "", err
		}
		a.mu.Lock()
		a.resolved[raw] = id
		a.mu.Unlock()
	}
	return a.deps.YouTubeFeedURL + "?channel_id=" + id, nil
}

func (a *youtubeAdapter) resolveChannelID(ctx context.Context, raw string) (string, error) {
	out, err := a.deps.Run(ctx, a.deps.YtDlp, a.ytdlpArgs("--dump-single-json", "--flat-playlist", "--playlist-items", "0", raw)...)
	if err != nil {
		return "", services.Wrap(services.ErrSourceUnavailable, "youtube", "resolve channel", raw, err)
	}
	var info struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return "", services.Wrap(services.ErrSourceUnavailable, "youtube", "resolve channel", "decode yt-dlp output", err)
	}
	for _, candidate := range []string{info.ChannelID, info.ID} {
		if channelIDPattern.MatchString(candidate) {
			return channelIDPattern.FindString(candidate), nil
		}
	}
	return "", services.Permanent(services.Wrap(services.ErrSourceUnavailable, "youtube", "resolve channel",
		"no channel id for "+raw, nil))
}

func (a *youtubeAdapter) ytdlpArgs(args ...string) []string {
	base := []string{"--no-warnings", "--quiet"}
	if cookies := strings.TrimSpace(a.deps.CookiesFromBrowser); cookies != "" {
		base = append(base, "--cookies-from-browser", cookies)
	}
	return append(base, args...)
}

func videoCandidate(item *gofeed.Item) archive.Candidate {
	id := ""
	if yt := item.Extensions["yt"]; yt != nil {
		if values := yt["videoId"]; len(values) > 0 {
			id = strings.TrimSpace(values[0].Value)
		}
	}
	if id == "" {
		if match := videoIDPattern.FindStringSubmatch(item.Link); match != nil {
			id = match[1]
		}
	}
	if id == "" {
		return archive.Candidate{}
	}
	return archive.Candidate{
		ID:        id,
		Title:     strings.TrimSpace(item.Title),
		URL:       WatchURL(id),
		Published: published(item),
		Raw:       item,
	}
}

func (a *youtubeAdapter) FetchDetail(ctx context.Context, src config.Source, cand archive.Candidate) (archive.Entry, error) {
	entry := archive.Entry{Title: cand.Title, URL: cand.URL, Published: cand.Published}
	if src.Options.UseYtDlp {
		payload, title, err := a.metadata(ctx, cand)
		if err != nil {
			return archive.Entry{}, err
		}
		if title != "" {
			entry.Title = title
		}
		entry.Payload = payload
		return entry, nil
	}
	item, err := rawItem("youtube", cand)
	if err != nil {
		return archive.Entry{}, err
	}
	entry.Payload = mediaGroupPayload(item)
	return entry, nil
}

type ytdlpInfo struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Channel        string   `json:"channel"`
	ChannelID      string   `json:"channel_id"`
	ChannelURL     string   `json:"channel_url"`
	Uploader       string   `json:"uploader"`
	Duration       *float64 `json:"duration"`
	DurationString string   `json:"duration_string"`
	ViewCount      *int64   `json:"view_count"`
	LikeCount      *int64   `json:"like_count"`
	CommentCount   *int64   `json:"comment_count"`
	UploadDate     string   `json:"upload_date"`
	Thumbnail      string   `json:"thumbnail"`
	Thumbnails     []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"thumbnails"`
	Tags       []string `json:"tags"`
	Categories []string `json:"categories"`
	Chapters   []struct {
		Title     string  `json:"title"`
		StartTime float64 `json:"start_time"`
		EndTime   float64 `json:"end_time"`
	} `json:"chapters"`
	Subtitles         map[string]json.RawMessage `json:"subtitles"`
	AutomaticCaptions map[string]json.RawMessage `json:"automatic_captions"`
}

// metadata runs yt-dlp for one video. Shorts are reported as
// archive.ErrSkipEntry.
func (a *youtubeAdapter) metadata(ctx context.Context, cand archive.Candidate) (map[string]any, string, error) {
	out, err := a.deps.Run(ctx, a.deps.YtDlp, a.ytdlpArgs("--dump-single-json", "--skip-download", cand.URL)...)
	if err != nil {
		return nil, "", services.Wrap(services.ErrSourceUnavailable, "youtube", "metadata", cand.ID, err)
	}
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, "", services.Wrap(services.ErrSourceUnavailable, "youtube", "metadata", "decode yt-dlp output", err)
	}
	if info.Duration != nil && *info.Duration <= shortMaxSeconds {
		return nil, "", fmt.Errorf("%w: short video (%.0fs)", archive.ErrSkipEntry, *info.Duration)
	}

	payload := map[string]any{"enriched_via": "ytdlp"}
	putIf(payload, "description", info.Description)
	putIf(payload, "channel", info.Channel)
	putIf(payload, "channel_id", info.ChannelID)
	putIf(payload, "channel_url", info.ChannelURL)
	putIf(payload, "uploader", info.Uploader)
	if info.Duration != nil {
		payload["duration"] = *info.Duration
	}
	putIf(payload, "duration_string", info.DurationString)
	for key, count := range map[string]*int64{
		"view_count":    info.ViewCount,
		"like_count":    info.LikeCount,
		"comment_count": info.CommentCount,
	} {
		if count != nil {
			payload[key] = *count
		}
	}
	putIf(payload, "upload_date", info.UploadDate)
	putIf(payload, "thumbnail", info.Thumbnail)
	var thumbs []map[string]any
	for _, thumb := range info.Thumbnails {
		if thumb.URL == "" {
			continue
		}
		thumbs = append(thumbs, map[string]any{"url": thumb.URL, "width": thumb.Width, "height": thumb.Height})
		if len(thumbs) == maxThumbnails {
			break
		}
	}
	if len(thumbs) > 0 {
		payload["thumbnails"] = thumbs
	}
	putIf(payload, "tags", info.Tags)
	putIf(payload, "categories", info.Categories)
	if len(info.Chapters) > 0 {
		chapters := make([]map[string]any, 0, len(info.Chapters))
		for _, ch := range info.Chapters {
			chapters = append(chapters, map[string]any{"title": ch.Title, "start_time": ch.StartTime, "end_time": ch.EndTime})
		}
		payload["chapters"] = chapters
	}
	putIf(payload, "caption_languages", sortedKeys(info.Subtitles))
	putIf(payload, "auto_caption_languages", sortedKeys(info.AutomaticCaptions))
	return payload, strings.TrimSpace(info.Title), nil
}

// mediaGroupPayload reads description, thumbnail, and view count from the
// feed's media:group when yt-dlp is not used.
func mediaGroupPayload(item *gofeed.Item) map[string]any {
	payload := map[string]any{"enriched_via": "rss"}
	putIf(payload, "channel", authorName(item))
	putIf(payload, "thumbnail", mediaThumbnail(item))
	media := item.Extensions["media"]
	if media == nil {
		return payload
	}
	for _, group := range media["group"] {
		if desc := group.Children["description"]; len(desc) > 0 {
			putIf(payload, "description", strings.TrimSpace(desc[0].Value))
		}
		for _, community := range group.Children["community"] {
			for _, stats := range community.Children["statistics"] {
				putIf(payload, "views", stats.Attrs["views"])
			}
		}
	}
	return payload
}

func sortedKeys(m map[string]json.RawMessage) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "live_chat" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
