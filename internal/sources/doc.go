// Package sources implements the archive.Adapter for each source type.
//
// Every adapter reads an RSS or Atom feed through the shared HTTP client and
// gofeed, yields candidates lazily in feed order, and builds the detail
// payload from the feed item it already holds. YouTube detail can instead
// come from yt-dlp metadata, which also reveals Shorts (skipped) and the
// caption languages available for the materials phase. Podcast sources
// given as Apple Podcasts pages are resolved to their RSS feed through the
// iTunes lookup API.
package sources
