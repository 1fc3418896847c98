package sources

import (
	"bytes"
	"context"
	"iter"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"gitloop/internal/archive"
	"gitloop/internal/httpclient"
	"gitloop/internal/services"
	"gitloop/internal/textutil"
)

type feedReader struct {
	http *httpclient.Client
}

func newFeedReader(client *httpclient.Client) *feedReader {
	return &feedReader{http: client.WithMarker(services.ErrSourceUnavailable)}
}

// read fetches and parses the feed at feedURL.
func (r *feedReader) read(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	body, err := r.http.Get(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrSourceUnavailable, "feed", "parse", feedURL, err)
	}
	return feed, nil
}

// candidates yields at most limit feed items in feed order, converted by
// toCandidate. Items it rejects (empty id) are skipped silently.
func (r *feedReader) candidates(ctx context.Context, feedURL string, limit int, toCandidate func(*gofeed.Item) archive.Candidate) iter.Seq2[archive.Candidate, error] {
	return func(yield func(archive.Candidate, error) bool) {
		feed, err := r.read(ctx, feedURL)
		if err != nil {
			yield(archive.Candidate{}, err)
			return
		}
		emitted := 0
		for _, item := range feed.Items {
			if item == nil {
				continue
			}
			if limit > 0 && emitted >= limit {
				return
			}
			cand := toCandidate(item)
			if cand.ID == "" {
				continue
			}
			emitted++
			if !yield(cand, nil) {
				return
			}
		}
	}
}

// itemID derives a stable id: the sanitized GUID, else a hash of the link,
// else a hash of the title. GUIDs such as ".../item?id=42" keep their id
// parameter, which SanitizeID would otherwise drop.
func itemID(item *gofeed.Item) string {
	if id := textutil.SanitizeID(item.GUID); id != "" {
		if u, err := url.Parse(strings.TrimSpace(item.GUID)); err == nil && u.Scheme != "" {
			if q := textutil.SanitizeID(u.Query().Get("id")); q != "" {
				id += "_" + q
			}
		}
		return id
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return textutil.ShortHash(link, 16)
	}
	if title := strings.TrimSpace(item.Title); title != "" {
		return textutil.ShortHash(title, 16)
	}
	return ""
}

// published keeps the date string exactly as the feed wrote it.
func published(item *gofeed.Item) string {
	if p := strings.TrimSpace(item.Published); p != "" {
		return p
	}
	return strings.TrimSpace(item.Updated)
}

func itemCandidate(item *gofeed.Item) archive.Candidate {
	return archive.Candidate{
		ID:        itemID(item),
		Title:     strings.TrimSpace(item.Title),
		URL:       strings.TrimSpace(item.Link),
		Published: published(item),
		Raw:       item,
	}
}

func authorName(item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, person := range item.Authors {
		if person != nil && strings.TrimSpace(person.Name) != "" {
			return strings.TrimSpace(person.Name)
		}
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return strings.TrimSpace(item.DublinCoreExt.Creator[0])
	}
	return ""
}

func content(item *gofeed.Item) string {
	if c := strings.TrimSpace(item.Content); c != "" {
		return c
	}
	return strings.TrimSpace(item.Description)
}

// mediaThumbnail returns the first media:thumbnail URL, looking inside a
// media:group as well.
func mediaThumbnail(item *gofeed.Item) string {
	media := item.Extensions["media"]
	if media == nil {
		return ""
	}
	for _, thumb := range media["thumbnail"] {
		if href := thumb.Attrs["url"]; href != "" {
			return href
		}
	}
	for _, group := range media["group"] {
		for _, thumb := range group.Children["thumbnail"] {
			if href := thumb.Attrs["url"]; href != "" {
				return href
			}
		}
	}
	return ""
}

// rawItem recovers the feed item carried by a candidate.
func rawItem(stage string, cand archive.Candidate) (*gofeed.Item, error) {
	item, ok := cand.Raw.(*gofeed.Item)
	if !ok || item == nil {
		return nil, services.Wrap(services.ErrSourceUnavailable, stage, "detail", "candidate carries no feed item", nil)
	}
	return item, nil
}

// putIf sets key only for non-empty values so payloads stay compact.
func putIf(payload map[string]any, key string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		if strings.TrimSpace(v) == "" {
			return
		}
	case []string:
		if len(v) == 0 {
			return
		}
	case map[string]any:
		if len(v) == 0 {
			return
		}
	}
	payload[key] = value
}
