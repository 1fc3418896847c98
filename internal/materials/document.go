package materials

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/transcript"
)

// Frontmatter is the YAML header of a material document.
type Frontmatter struct {
	ID            string    `yaml:"id" json:"id"`
	SourceType    string    `yaml:"source_type" json:"source_type"`
	SourceKey     string    `yaml:"source_key" json:"source_key"`
	Title         string    `yaml:"title" json:"title"`
	URL           string    `yaml:"url,omitempty" json:"url,omitempty"`
	Published     string    `yaml:"published,omitempty" json:"published,omitempty"`
	DownloadedAt  time.Time `yaml:"downloaded_at" json:"downloaded_at"`
	MaterialKind  Kind      `yaml:"material_kind" json:"material_kind"`
	Language      string    `yaml:"language,omitempty" json:"language,omitempty"`
	AutoGenerated bool      `yaml:"auto_generated,omitempty" json:"auto_generated,omitempty"`
	Gaps          []GapSpan `yaml:"gaps,omitempty" json:"gaps,omitempty"`
}

// GapSpan is a stretch of audio no chunk covered.
type GapSpan struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Document is a parsed material file.
type Document struct {
	Meta Frontmatter `json:"meta"`
	Body string      `json:"body"`
}

var errNoFrontmatter = errors.New("document has no frontmatter")

// ParseDocument splits a rendered document into frontmatter and body.
func ParseDocument(data []byte) (Document, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return Document{}, errNoFrontmatter
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return Document{}, errNoFrontmatter
	}
	var doc Document
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &doc.Meta); err != nil {
		return Document{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	doc.Body = strings.TrimLeft(rest[end+len("\n---\n"):], "\n")
	return doc, nil
}

// HTML renders the document body as HTML.
func (d Document) HTML() ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(d.Body), &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// DocumentPath returns <root>/<type>/<key>/<id>.md.
func DocumentPath(root string, src config.Source, id string) string {
	return filepath.Join(root, src.Type, src.Key, id+".md")
}

// Render produces the Markdown document for entry: YAML frontmatter, a
// heading with the title, then the material text.
func Render(entry archive.Entry, m Material, downloadedAt time.Time) ([]byte, error) {
	meta := Frontmatter{
		ID:           entry.ID,
		SourceType:   entry.SourceType,
		SourceKey:    entry.SourceKey,
		Title:        entry.Title,
		URL:          entry.URL,
		Published:    entry.Published,
		DownloadedAt: downloadedAt.UTC(),
		MaterialKind: m.Kind,
		Language:     m.Language,
	}
	if m.Transcript != nil {
		meta.AutoGenerated = m.Transcript.AutoGenerated
		for _, gap := range m.Transcript.Gaps() {
			meta.Gaps = append(meta.Gaps, GapSpan{
				Start: transcript.FormatTimestamp(gap.Start),
				End:   transcript.FormatTimestamp(gap.End),
			})
		}
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("---\n\n")

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = entry.ID
	}
	buf.WriteString("# " + title + "\n\n")
	buf.WriteString(strings.TrimSpace(m.Text))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
