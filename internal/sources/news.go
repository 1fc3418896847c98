package sources

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"gitloop/internal/archive"
	"gitloop/internal/config"
)

// Labeled forms ("Points: 42") are tried before inline ones ("42 points").
var (
	pointsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bpoints?:\s*(\d+)`),
		regexp.MustCompile(`(?i)(?:^|\s)(\d+)\s+points?\b`),
	}
	commentsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcomments?:\s*(\d+)`),
		regexp.MustCompile(`(?i)(?:^|\s)(\d+)\s+comments?\b`),
	}
	tagBoundary = strings.NewReplacer("<", " <")
)

const hnItemPrefix = "https://news.ycombinator.com/item?id="

type newsAdapter struct {
	blogAdapter
}

func (a *newsAdapter) FetchDetail(ctx context.Context, src config.Source, cand archive.Candidate) (archive.Entry, error) {
	entry, err := a.blogAdapter.FetchDetail(ctx, src, cand)
	if err != nil {
		return entry, err
	}
	putIf(entry.Payload, "domain", domain(cand.URL))
	for key, value := range aggregatorFields(entry.PayloadString("summary")) {
		entry.Payload[key] = value
	}
	return entry, nil
}

// domain returns the link's host without a leading "www.".
func domain(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// aggregatorFields scrapes Hacker News style summaries for the discussion
// link, item id, points, and comment count.
func aggregatorFields(summary string) map[string]any {
	fields := map[string]any{}
	if strings.TrimSpace(summary) == "" {
		return fields
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tagBoundary.Replace(summary)))
	if err != nil {
		return fields
	}
	doc.Find(`a[href*="news.ycombinator.com/item?id="]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		id := u.Query().Get("id")
		if id == "" {
			return true
		}
		fields["comments_url"] = hnItemPrefix + id
		fields["hn_id"] = id
		return false
	})

	text := doc.Text()
	if n, ok := firstNumber(text, pointsPatterns...); ok {
		fields["points"] = n
	}
	if n, ok := firstNumber(text, commentsPatterns...); ok {
		fields["comments_count"] = n
	}
	return fields
}

func firstNumber(text string, patterns ...*regexp.Regexp) (int, bool) {
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}
