package materials

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/httpclient"
)

// ArticleFetcher downloads a blog post or news link and keeps its readable
// text.
type ArticleFetcher struct {
	http *httpclient.Client
}

// Fetch extracts the article behind entry.URL with readability, falling back
// to the paragraphs goquery finds, and finally to the feed content.
func (f *ArticleFetcher) Fetch(ctx context.Context, _ config.Source, entry archive.Entry) (Material, error) {
	if strings.TrimSpace(entry.URL) == "" {
		return feedContent(entry)
	}
	body, err := f.http.Get(ctx, entry.URL)
	if err != nil {
		if ctx.Err() != nil {
			return Material{}, ctx.Err()
		}
		if m, ferr := feedContent(entry); ferr == nil {
			return m, nil
		}
		return Material{}, err
	}
	if text := extractArticle(body, entry.URL); text != "" {
		return Material{Kind: KindArticle, Text: text}, nil
	}
	return feedContent(entry)
}

// extractArticle returns the readable text of an HTML page, or "".
// Readability decides what content to keep; the page's own paragraphs give
// the text its structure.
func extractArticle(body []byte, pageURL string) string {
	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(body))
	parsed, _ := url.Parse(pageURL)
	if article, err := readability.FromReader(bytes.NewReader(body), parsed); err == nil {
		if flat := collapse(article.TextContent); flat != "" {
			if docErr == nil {
				kept := blockText(doc.Selection, articleBlocks, func(text string) bool {
					return strings.Contains(flat, text)
				})
				if kept != "" {
					return kept
				}
			}
			return flat
		}
	}
	if docErr != nil {
		return ""
	}
	scope := doc.Find("article")
	if scope.Length() == 0 {
		scope = doc.Find("main")
	}
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	return blockText(scope, articleBlocks, nil)
}

const (
	articleBlocks = "p, pre, h2, h3"
	feedBlocks    = "p, li, pre, h1, h2, h3"
)

// blockText joins the collapsed text of the selected blocks with blank lines.
// keep, when set, filters blocks by their text.
func blockText(scope *goquery.Selection, selector string, keep func(string) bool) string {
	var parts []string
	scope.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		text := collapse(sel.Text())
		if text == "" || (keep != nil && !keep(text)) {
			return
		}
		parts = append(parts, text)
	})
	return strings.Join(parts, "\n\n")
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// feedContent uses the HTML the feed itself carried.
func feedContent(entry archive.Entry) (Material, error) {
	raw := trimmed(entry.PayloadString("content"), entry.PayloadString("summary"))
	if raw == "" {
		return Material{}, unavailable("article", entry.ID, "page unreadable and feed has no content")
	}
	text := collapse(raw)
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		if blocks := blockText(doc.Selection, feedBlocks, nil); blocks != "" {
			text = blocks
		} else {
			text = collapse(doc.Text())
		}
	}
	if text == "" {
		return Material{}, unavailable("article", entry.ID, "feed content is empty")
	}
	return Material{Kind: KindDescription, Text: text}, nil
}
