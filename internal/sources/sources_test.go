package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/httpclient"
	"gitloop/internal/services"
	"gitloop/internal/textutil"
)

const channelID = "UCSHZKyawb77ixDdsGog4iWA"

const blogFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example blog</title>
  <item>
    <title>First post</title>
    <link>https://blog.example/first</link>
    <guid>https://blog.example/p/first-post?utm=rss</guid>
    <pubDate>Mon, 15 Jan 2024 10:00:00 GMT</pubDate>
    <dc:creator>Ada</dc:creator>
    <description>Short summary</description>
    <category>go</category>
    <category>feeds</category>
  </item>
  <item>
    <title>Second post</title>
    <link>https://blog.example/second</link>
    <pubDate>Tue, 16 Jan 2024</pubDate>
  </item>
  <item>
    <title>Third post</title>
  </item>
</channel>
</rss>`

const newsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Hacker News: Front Page</title>
  <item>
    <title>Show HN: A thing</title>
    <link>https://www.thing.example/launch</link>
    <guid isPermaLink="false">https://news.ycombinator.com/item?id=4242</guid>
    <description><![CDATA[<p>Article URL: <a href="https://www.thing.example/launch">https://www.thing.example/launch</a></p><p>Comments URL: <a href="https://news.ycombinator.com/item?id=4242">https://news.ycombinator.com/item?id=4242</a></p><p>Points: 128</p><p># Comments: 37</p>]]></description>
  </item>
</channel>
</rss>`

const podcastFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Example pod</title>
  <item>
    <title>Episode 12</title>
    <link>https://pod.example/12</link>
    <guid isPermaLink="false">pod-ep-12</guid>
    <pubDate>Wed, 17 Jan 2024 08:00:00 +0000</pubDate>
    <enclosure url="https://cdn.example/ep12.mp3" length="52428800" type="audio/mpeg"/>
    <itunes:duration>01:02:03</itunes:duration>
    <itunes:episode>12</itunes:episode>
    <itunes:season>2</itunes:season>
    <itunes:image href="https://pod.example/ep12.jpg"/>
  </item>
  <item>
    <title>Bonus</title>
    <link>https://pod.example/bonus</link>
  </item>
</channel>
</rss>`

const youtubeFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
  <title>Channel</title>
  <entry>
    <id>yt:video:longvideo01</id>
    <yt:videoId>longvideo01</yt:videoId>
    <title>Long talk</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=longvideo01"/>
    <author><name>Channel</name></author>
    <published>2024-01-15T10:00:00+00:00</published>
    <media:group>
      <media:title>Long talk</media:title>
      <media:thumbnail url="https://i.ytimg.com/vi/longvideo01/hqdefault.jpg" width="480" height="360"/>
      <media:description>About things</media:description>
      <media:community><media:statistics views="1234"/></media:community>
    </media:group>
  </entry>
  <entry>
    <id>yt:video:shortvideo1</id>
    <title>Quick clip</title>
    <link rel="alternate" href="https://www.youtube.com/shorts/shortvideo1"/>
    <published>2024-01-16T10:00:00+00:00</published>
  </entry>
</feed>`

type fixture struct {
	server  *httptest.Server
	lookups atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	mux := http.NewServeMux()
	serve := func(body, contentType string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", contentType)
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/blog.xml", serve(blogFeed, "application/rss+xml"))
	mux.HandleFunc("/news.xml", serve(newsFeed, "application/rss+xml"))
	mux.HandleFunc("/podcast.xml", serve(podcastFeed, "application/rss+xml"))
	mux.HandleFunc("/broken.xml", serve("this is not a feed", "text/plain"))
	mux.HandleFunc("/feeds/videos.xml", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel_id") != channelID {
			http.NotFound(w, r)
			return
		}
		serve(youtubeFeed, "application/atom+xml")(w, r)
	})
	mux.HandleFunc("/lookup", func(w http.ResponseWriter, r *http.Request) {
		f.lookups.Add(1)
		if r.URL.Query().Get("id") != "1627920305" || r.URL.Query().Get("entity") != "podcast" {
			_, _ = w.Write([]byte(`{"resultCount":0,"results":[]}`))
			return
		}
		fmt.Fprintf(w, `{"resultCount":1,"results":[{"feedUrl":%q}]}`, f.server.URL+"/podcast.xml")
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) deps(run services.CommandRunner) Deps {
	return Deps{
		HTTP:            httpclient.New(httpclient.Options{}),
		Run:             run,
		ITunesLookupURL: f.server.URL + "/lookup",
		YouTubeFeedURL:  f.server.URL + "/feeds/videos.xml",
	}
}

func collect(t *testing.T, adapter archive.Adapter, src config.Source, limit int) []archive.Candidate {
	t.Helper()
	var out []archive.Candidate
	for cand, err := range adapter.Candidates(context.Background(), src, limit) {
		require.NoError(t, err)
		out = append(out, cand)
	}
	return out
}

func TestForRejectsUnknownType(t *testing.T) {
	_, err := For("mastodon", Deps{})
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestBlogCandidatesAndDetail(t *testing.T) {
	f := newFixture(t)
	adapter, err := For(config.SourceBlog, f.deps(nil))
	require.NoError(t, err)
	src := config.Source{Key: "ex", Type: config.SourceBlog, URL: f.server.URL + "/blog.xml"}

	cands := collect(t, adapter, src, 0)
	require.Len(t, cands, 3)
	assert.Equal(t, textutil.SanitizeID("https://blog.example/p/first-post?utm=rss"), cands[0].ID)
	assert.Equal(t, "first-post", cands[0].ID)
	assert.Equal(t, textutil.ShortHash("https://blog.example/second", 16), cands[1].ID)
	assert.Equal(t, textutil.ShortHash("Third post", 16), cands[2].ID)
	assert.Equal(t, "Tue, 16 Jan 2024", cands[1].Published, "published keeps the feed's own precision")

	assert.Len(t, collect(t, adapter, src, 2), 2)

	entry, err := adapter.FetchDetail(context.Background(), src, cands[0])
	require.NoError(t, err)
	assert.Equal(t, "First post", entry.Title)
	assert.Equal(t, "Ada", entry.Payload["author"])
	assert.Equal(t, "Short summary", entry.Payload["summary"])
	assert.Equal(t, []string{"go", "feeds"}, entry.Payload["tags"])
}

func TestFeedErrorsAreSourceUnavailable(t *testing.T) {
	f := newFixture(t)
	adapter, err := For(config.SourceBlog, f.deps(nil))
	require.NoError(t, err)

	for _, path := range []string{"/broken.xml", "/missing.xml"} {
		src := config.Source{Key: "ex", Type: config.SourceBlog, URL: f.server.URL + path}
		var gotErr error
		for _, err := range adapter.Candidates(context.Background(), src, 0) {
			gotErr = err
		}
		assert.ErrorIs(t, gotErr, services.ErrSourceUnavailable, path)
	}
}

func TestNewsDetailScrapesAggregatorFields(t *testing.T) {
	f := newFixture(t)
	adapter, err := For(config.SourceNews, f.deps(nil))
	require.NoError(t, err)
	src := config.Source{Key: "hn", Type: config.SourceNews, URL: f.server.URL + "/news.xml"}

	cands := collect(t, adapter, src, 0)
	require.Len(t, cands, 1)
	assert.Equal(t, "item_4242", cands[0].ID)
	entry, err := adapter.FetchDetail(context.Background(), src, cands[0])
	require.NoError(t, err)

	assert.Equal(t, "thing.example", entry.Payload["domain"])
	assert.Equal(t, "https://news.ycombinator.com/item?id=4242", entry.Payload["comments_url"])
	assert.Equal(t, "4242", entry.Payload["hn_id"])
	assert.Equal(t, 128, entry.Payload["points"])
	assert.Equal(t, 37, entry.Payload["comments_count"])
}

func TestAggregatorFieldsInlineCounts(t *testing.T) {
	fields := aggregatorFields(`<a href="https://news.ycombinator.com/item?id=99">Comments</a> 15 points and 3 comments`)
	assert.Equal(t, "99", fields["hn_id"])
	assert.Equal(t, 15, fields["points"])
	assert.Equal(t, 3, fields["comments_count"])
	assert.Empty(t, aggregatorFields(""))
}

func TestPodcastResolvesApplePodcastsAndReadsEnclosure(t *testing.T) {
	f := newFixture(t)
	adapter, err := For(config.SourcePodcast, f.deps(nil))
	require.NoError(t, err)
	src := config.Source{Key: "lenny", Type: config.SourcePodcast, URL: "https://podcasts.apple.com/us/podcast/lennys-podcast/id1627920305"}

	cands := collect(t, adapter, src, 0)
	require.Len(t, cands, 2)
	assert.Equal(t, "pod-ep-12", cands[0].ID)
	assert.Equal(t, textutil.ShortHash("https://pod.example/bonus", 16), cands[1].ID)

	collect(t, adapter, src, 0)
	assert.Equal(t, int32(1), f.lookups.Load(), "feed resolution is remembered")

	entry, err := adapter.FetchDetail(context.Background(), src, cands[0])
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/ep12.mp3", AudioURL(entry))
	audio := entry.Payload["audio"].(map[string]any)
	assert.Equal(t, "audio/mpeg", audio["type"])
	assert.Equal(t, "52428800", audio["length"])
	assert.Equal(t, "01:02:03", entry.Payload["duration"])
	assert.Equal(t, "12", entry.Payload["episode_number"])
	assert.Equal(t, "2", entry.Payload["season_number"])
	assert.Equal(t, "https://pod.example/ep12.jpg", entry.Payload["image"])
}

func TestPodcastLookupWithoutFeedFails(t *testing.T) {
	f := newFixture(t)
	adapter, err := For(config.SourcePodcast, f.deps(nil))
	require.NoError(t, err)
	src := config.Source{Key: "x", Type: config.SourcePodcast, URL: "https://podcasts.apple.com/us/podcast/other/id1"}
	var gotErr error
	for _, err := range adapter.Candidates(context.Background(), src, 0) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, services.ErrSourceUnavailable)
}

func TestYouTubeFeedWithoutYtDlp(t *testing.T) {
	f := newFixture(t)
	adapter, err := For(config.SourceYouTube, f.deps(func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("yt-dlp must not run")
		return nil, nil
	}))
	require.NoError(t, err)
	src := config.Source{Key: "lex", Type: config.SourceYouTube, URL: "https://www.youtube.com/channel/" + channelID}

	cands := collect(t, adapter, src, 0)
	require.Len(t, cands, 2)
	assert.Equal(t, "longvideo01", cands[0].ID)
	assert.Equal(t, WatchURL("longvideo01"), cands[0].URL)
	assert.Equal(t, "shortvideo1", cands[1].ID, "falls back to the link when yt:videoId is absent")

	entry, err := adapter.FetchDetail(context.Background(), src, cands[0])
	require.NoError(t, err)
	assert.Equal(t, "About things", entry.Payload["description"])
	assert.Equal(t, "1234", entry.Payload["views"])
	assert.Equal(t, "https://i.ytimg.com/vi/longvideo01/hqdefault.jpg", entry.Payload["thumbnail"])
}

func TestYouTubeYtDlpMetadataAndShorts(t *testing.T) {
	f := newFixture(t)
	var calls [][]string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, args)
		url := args[len(args)-1]
		switch {
		case strings.Contains(url, "@lexfridman"):
			return []byte(`{"id":"` + channelID + `","channel_id":"` + channelID + `"}`), nil
		case strings.Contains(url, "shortvideo1"):
			return []byte(`{"id":"shortvideo1","title":"Quick clip","duration":42}`), nil
		default:
			return []byte(`{"id":"longvideo01","title":"Long talk (full)","duration":5400,"view_count":99,
				"thumbnails":[{"url":"a"},{"url":"b"},{"url":"c"},{"url":"d"},{"url":"e"},{"url":"f"}],
				"subtitles":{"en":[],"de":[]},"automatic_captions":{"en-orig":[],"live_chat":[]}}`), nil
		}
	}
	deps := f.deps(run)
	deps.CookiesFromBrowser = "firefox"
	adapter, err := For(config.SourceYouTube, deps)
	require.NoError(t, err)
	src := config.Source{Key: "lex", Type: config.SourceYouTube, URL: "https://www.youtube.com/@lexfridman",
		Options: config.SourceOptions{UseYtDlp: true}}

	cands := collect(t, adapter, src, 0)
	require.Len(t, cands, 2)

	entry, err := adapter.FetchDetail(context.Background(), src, cands[0])
	require.NoError(t, err)
	assert.Equal(t, "Long talk (full)", entry.Title)
	assert.Equal(t, float64(5400), entry.Payload["duration"])
	assert.Equal(t, int64(99), entry.Payload["view_count"])
	assert.Len(t, entry.Payload["thumbnails"], maxThumbnails)
	assert.Equal(t, []string{"de", "en"}, entry.Payload["caption_languages"])
	assert.Equal(t, []string{"en-orig"}, entry.Payload["auto_caption_languages"])
	assert.Contains(t, calls[len(calls)-1], "--cookies-from-browser")

	_, err = adapter.FetchDetail(context.Background(), src, cands[1])
	assert.True(t, errors.Is(err, archive.ErrSkipEntry), "shorts are skipped: %v", err)
}
