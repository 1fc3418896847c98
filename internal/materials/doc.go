// Package materials turns archived entries into writing materials: one
// Markdown document per entry holding captions, a speech-to-text transcript,
// or the readable text of an article.
//
// Fetchers are chosen by source type. YouTube entries use yt-dlp captions,
// falling back to audio transcription and then to the description. Podcast
// entries go through the long-audio transcription pipeline. Blog and news
// entries are fetched over HTTP and reduced with go-readability. The Runner
// walks a source's index, skips entries that already have a document, and
// writes the rest with YAML frontmatter.
package materials
