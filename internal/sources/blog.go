package sources

import (
	"context"
	"iter"
	"strings"

	"github.com/mmcdole/gofeed"

	"gitloop/internal/archive"
	"gitloop/internal/config"
)

type blogAdapter struct {
	feed *feedReader
}

func (a *blogAdapter) Candidates(ctx context.Context, src config.Source, limit int) iter.Seq2[archive.Candidate, error] {
	return a.feed.candidates(ctx, src.URL, limit, itemCandidate)
}

func (a *blogAdapter) FetchDetail(_ context.Context, _ config.Source, cand archive.Candidate) (archive.Entry, error) {
	item, err := rawItem("blog", cand)
	if err != nil {
		return archive.Entry{}, err
	}
	return archive.Entry{
		Title:     cand.Title,
		URL:       cand.URL,
		Published: cand.Published,
		Payload:   blogPayload(item),
	}, nil
}

func blogPayload(item *gofeed.Item) map[string]any {
	payload := map[string]any{}
	putIf(payload, "link", strings.TrimSpace(item.Link))
	putIf(payload, "author", authorName(item))
	putIf(payload, "summary", strings.TrimSpace(item.Description))
	putIf(payload, "content", content(item))
	putIf(payload, "tags", item.Categories)
	putIf(payload, "updated", strings.TrimSpace(item.Updated))
	putIf(payload, "thumbnail", mediaThumbnail(item))
	if item.Image != nil {
		putIf(payload, "image", item.Image.URL)
	}
	return payload
}
