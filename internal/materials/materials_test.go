package materials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/httpclient"
	"gitloop/internal/logging"
	"gitloop/internal/services"
	"gitloop/internal/transcript"
	"gitloop/internal/transcription"
)

const sampleVTT = `WEBVTT
Kind: captions
Language: en

00:00:01.000 --> 00:00:03.000 align:start position:0%
Hello <c>world</c>

00:00:03.000 --> 00:00:05.000
Second line
`

// fakeYtDlp writes a caption file for the requested language and records
// every invocation.
type fakeYtDlp struct {
	mu       sync.Mutex
	calls    [][]string
	lang     string
	audioURL string
	fail     error
}

func (f *fakeYtDlp) run(_ context.Context, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if slices.Contains(args, "-g") {
		return []byte(f.audioURL + "\n"), nil
	}
	if f.lang == "" {
		return nil, nil
	}
	i := slices.Index(args, "-o")
	path := strings.Replace(args[i+1], "%(id)s.%(ext)s", "vid."+f.lang+".vtt", 1)
	return nil, os.WriteFile(path, []byte(sampleVTT), 0o644)
}

func (f *fakeYtDlp) last() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type fakeAudio struct {
	jobs []transcription.AudioJob
	out  transcript.Transcript
	err  error
}

func (f *fakeAudio) TranscribeAudio(_ context.Context, job transcription.AudioJob) (transcript.Transcript, error) {
	f.jobs = append(f.jobs, job)
	return f.out, f.err
}

func youtubeSource() config.Source {
	return config.Source{
		Key:  "chan",
		Type: config.SourceYouTube,
		Options: config.SourceOptions{
			ExtractTranscript:   true,
			TranscriptLanguages: []string{"en"},
		},
	}
}

func videoEntry(payload map[string]any) archive.Entry {
	return archive.Entry{
		ID:         "vid",
		SourceKey:  "chan",
		SourceType: config.SourceYouTube,
		Title:      "A talk",
		URL:        "https://www.youtube.com/watch?v=vid",
		Payload:    payload,
	}
}

func TestSelectTrackOrder(t *testing.T) {
	got, ok := selectTrack([]string{"de", "en-US"}, []string{"en"}, []string{"en"})
	require.True(t, ok)
	assert.Equal(t, track{lang: "en-US"}, got)

	got, ok = selectTrack([]string{"de"}, []string{"en-orig"}, []string{"en"})
	require.True(t, ok)
	assert.Equal(t, track{lang: "en-orig", auto: true}, got, "a matching auto track beats a foreign manual one")

	got, ok = selectTrack([]string{"de"}, []string{"fr"}, []string{"en"})
	require.True(t, ok)
	assert.Equal(t, track{lang: "de"}, got)

	_, ok = selectTrack(nil, nil, []string{"en"})
	assert.False(t, ok)
}

func TestCaptionFetcherUsesManualTrack(t *testing.T) {
	yt := &fakeYtDlp{lang: "en-US"}
	f := NewFetcher(Deps{Run: yt.run, CookiesFromBrowser: "firefox"})

	m, err := f.Fetch(context.Background(), youtubeSource(), videoEntry(map[string]any{
		"caption_languages":      []any{"de", "en-US"},
		"auto_caption_languages": []any{"en"},
	}))
	require.NoError(t, err)

	assert.Equal(t, KindCaptions, m.Kind)
	assert.Equal(t, "en", m.Language)
	assert.Equal(t, "Hello world\n\nSecond line", m.Text)
	require.NotNil(t, m.Transcript)
	assert.False(t, m.Transcript.AutoGenerated)

	args := yt.last()
	assert.Contains(t, args, "--write-subs")
	assert.NotContains(t, args, "--write-auto-subs")
	assert.Equal(t, "en-US", args[slices.Index(args, "--sub-langs")+1])
	assert.Contains(t, args, "--cookies-from-browser")
}

func TestCaptionFetcherWithoutTrackListsPicksFromFiles(t *testing.T) {
	yt := &fakeYtDlp{lang: "en"}
	f := NewFetcher(Deps{Run: yt.run})

	m, err := f.Fetch(context.Background(), youtubeSource(), videoEntry(nil))
	require.NoError(t, err)
	assert.Equal(t, KindCaptions, m.Kind)

	args := yt.last()
	assert.Contains(t, args, "--write-subs")
	assert.Contains(t, args, "--write-auto-subs")
	assert.Equal(t, "en.*", args[slices.Index(args, "--sub-langs")+1])
}

func TestCaptionFetcherFallsBackToAudioThenDescription(t *testing.T) {
	entry := videoEntry(map[string]any{"description": "What the talk covers."})

	yt := &fakeYtDlp{audioURL: "https://media.example/audio.webm?expire=1"}
	audio := &fakeAudio{out: transcript.Transcript{
		Language:   "en",
		SourceKind: transcript.KindSpeechToText,
		Segments:   []transcript.Segment{{Text: "spoken words", End: 2 * time.Second}},
	}}
	src := youtubeSource()
	src.Options.UseYtDlp = true

	m, err := NewFetcher(Deps{Run: yt.run, Audio: audio}).Fetch(context.Background(), src, entry)
	require.NoError(t, err)
	assert.Equal(t, KindTranscript, m.Kind)
	assert.Equal(t, "spoken words", m.Text)
	require.Len(t, audio.jobs, 1)
	assert.Equal(t, "https://media.example/audio.webm?expire=1", audio.jobs[0].URL)
	assert.Equal(t, entry.URL, audio.jobs[0].CacheURL)
	assert.Equal(t, "en", audio.jobs[0].Language)

	src.Options.UseYtDlp = false
	m, err = NewFetcher(Deps{Run: yt.run, Audio: audio}).Fetch(context.Background(), src, entry)
	require.NoError(t, err)
	assert.Equal(t, KindDescription, m.Kind)
	assert.Equal(t, "What the talk covers.", m.Text)
}

func TestCaptionFetcherDescriptionOnly(t *testing.T) {
	yt := &fakeYtDlp{lang: "en"}
	src := youtubeSource()
	src.Options.ExtractTranscript = false

	m, err := NewFetcher(Deps{Run: yt.run}).Fetch(context.Background(), src, videoEntry(map[string]any{"description": "Notes"}))
	require.NoError(t, err)
	assert.Equal(t, Material{Kind: KindDescription, Text: "Notes"}, m)
	assert.Empty(t, yt.calls)

	_, err = NewFetcher(Deps{Run: yt.run}).Fetch(context.Background(), src, videoEntry(nil))
	assert.ErrorIs(t, err, services.ErrMaterialUnavailable)
}

func TestCaptionFetcherToolFailure(t *testing.T) {
	yt := &fakeYtDlp{fail: errors.New("exit status 1")}
	_, err := NewFetcher(Deps{Run: yt.run}).Fetch(context.Background(), youtubeSource(), videoEntry(nil))
	assert.ErrorIs(t, err, services.ErrMaterialUnavailable)
}

const articlePage = `<!doctype html>
<html><head><title>Writing about feeds</title></head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<article>
<h1>Writing about feeds</h1>
<p>Feeds are the quiet backbone of the independent web. Every blog that publishes one lets readers follow along without an account, an algorithm or a platform in between.</p>
<p>This post walks through how a small archiver can keep a local copy of everything a handful of authors publish, and why doing so changes the way you read and write.</p>
<p>The short version is that owning the text makes it searchable, quotable and durable in a way that bookmarks never were.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestArticleFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/post" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articlePage))
	}))
	defer server.Close()

	f := NewFetcher(Deps{HTTP: httpclient.New(httpclient.Options{})})
	src := config.Source{Key: "b", Type: config.SourceBlog}

	m, err := f.Fetch(context.Background(), src, archive.Entry{ID: "post", URL: server.URL + "/post"})
	require.NoError(t, err)
	assert.Equal(t, KindArticle, m.Kind)
	assert.Contains(t, m.Text, "quiet backbone of the independent web")
	assert.Contains(t, m.Text, "owning the text makes it searchable")
	assert.NotContains(t, m.Text, "Copyright")

	m, err = f.Fetch(context.Background(), src, archive.Entry{
		ID:      "gone",
		URL:     server.URL + "/gone",
		Payload: map[string]any{"summary": "<p>First.</p><p>Second.</p>"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindDescription, m.Kind)
	assert.Equal(t, "First.\n\nSecond.", m.Text)

	_, err = f.Fetch(context.Background(), src, archive.Entry{ID: "gone", URL: server.URL + "/gone"})
	assert.ErrorIs(t, err, services.ErrMaterialUnavailable)
}

func TestExtractArticleFallsBackToParagraphs(t *testing.T) {
	text := extractArticle([]byte(`<html><body><main><p>Only  one
		paragraph.</p></main></body></html>`), "https://x.example/a")
	assert.Contains(t, text, "Only one paragraph.")
}

func TestPodcastFetcher(t *testing.T) {
	audio := &fakeAudio{out: transcript.Transcript{
		Language: "en",
		Segments: []transcript.Segment{
			{Text: "intro", End: 10 * time.Second},
			{Gap: true, Start: 55 * time.Second, End: 115 * time.Second},
			{Text: "outro", Start: 115 * time.Second, End: 120 * time.Second},
		},
	}}
	src := config.Source{Key: "pod", Type: config.SourcePodcast, Options: config.SourceOptions{
		ExtractTranscript: true, TranscriptLanguages: []string{"en"},
	}}
	entry := archive.Entry{ID: "ep1", Payload: map[string]any{
		"audio":   map[string]any{"url": "https://cdn.example/ep1.mp3"},
		"content": "<p>Show notes</p>",
	}}

	m, err := NewFetcher(Deps{Audio: audio}).Fetch(context.Background(), src, entry)
	require.NoError(t, err)
	assert.Equal(t, KindTranscript, m.Kind)
	assert.Equal(t, "intro\n\n[transcript gap 00:00:55-00:01:55]\n\noutro", m.Text)
	assert.Equal(t, "https://cdn.example/ep1.mp3", audio.jobs[0].URL)

	m, err = NewFetcher(Deps{}).Fetch(context.Background(), src, entry)
	require.NoError(t, err)
	assert.Equal(t, Material{Kind: KindShowNotes, Text: "Show notes"}, m)

	audio.err = services.Wrap(services.ErrPayloadTooLarge, "transcription", "chunk", "", nil)
	_, err = NewFetcher(Deps{Audio: audio}).Fetch(context.Background(), src, entry)
	assert.ErrorIs(t, err, services.ErrPayloadTooLarge)
}

func TestRenderFrontmatter(t *testing.T) {
	tr := transcript.Transcript{
		Language:      "en",
		AutoGenerated: true,
		Segments: []transcript.Segment{
			{Text: "a"},
			{Gap: true, Start: time.Minute, End: 2 * time.Minute},
		},
	}
	entry := archive.Entry{
		ID: "ep1", SourceKey: "pod", SourceType: "podcast",
		Title: "Episode: one", URL: "https://pod.example/1", Published: "Wed, 17 Jan 2024 08:00:00 +0000",
	}
	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	doc, err := Render(entry, fromTranscript(KindTranscript, tr), at)
	require.NoError(t, err)

	text := string(doc)
	require.True(t, strings.HasPrefix(text, "---\n"))
	parts := strings.SplitN(text[4:], "---\n", 2)
	require.Len(t, parts, 2)

	var meta map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(parts[0]), &meta))
	assert.Equal(t, "ep1", meta["id"])
	assert.Equal(t, "podcast", meta["source_type"])
	assert.Equal(t, "Episode: one", meta["title"])
	assert.Equal(t, "Wed, 17 Jan 2024 08:00:00 +0000", meta["published"])
	assert.Equal(t, "transcript", meta["material_kind"])
	assert.Equal(t, "en", meta["language"])
	downloaded, ok := meta["downloaded_at"].(time.Time)
	require.True(t, ok, "downloaded_at is a YAML timestamp")
	assert.True(t, at.Equal(downloaded))
	assert.Equal(t, []any{map[string]any{"start": "00:01:00", "end": "00:02:00"}}, meta["gaps"])
	assert.Equal(t, "\n# Episode: one\n\na\n\n[transcript gap 00:01:00-00:02:00]\n", parts[1])
}

func TestParseDocumentAndHTML(t *testing.T) {
	entry := archive.Entry{ID: "post-1", SourceKey: "blog", SourceType: "blog", Title: "Hello"}
	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	data, err := Render(entry, Material{Kind: KindArticle, Text: "First *para*.\n\nSecond."}, at)
	require.NoError(t, err)

	doc, err := ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, "post-1", doc.Meta.ID)
	assert.Equal(t, KindArticle, doc.Meta.MaterialKind)
	assert.True(t, at.Equal(doc.Meta.DownloadedAt))
	assert.Equal(t, "# Hello\n\nFirst *para*.\n\nSecond.\n", doc.Body)

	html, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Hello</h1>")
	assert.Contains(t, string(html), "<em>para</em>")

	_, err = ParseDocument([]byte("# no frontmatter\n"))
	assert.Error(t, err)
}

// scriptedFetcher returns canned materials keyed by entry id.
type scriptedFetcher struct {
	calls []string
	fail  map[string]error
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ config.Source, entry archive.Entry) (Material, error) {
	f.calls = append(f.calls, entry.ID)
	if err := f.fail[entry.ID]; err != nil {
		return Material{}, err
	}
	return Material{Kind: KindArticle, Text: "body of " + entry.ID}, nil
}

func seedArchive(t *testing.T, root string, src config.Source, ids ...string) *archive.Store {
	t.Helper()
	store := archive.NewStore(root, src, logging.NewNop())
	idx, err := store.Load(context.Background())
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		idx.Record(archive.Entry{
			ID: id, SourceKey: src.Key, SourceType: src.Type, Title: "Title " + id,
			ArchivedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, store.Persist(context.Background(), idx))
	return store
}

func TestRunnerSkipsExistingAndIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	src := config.Source{Key: "b", Type: config.SourceBlog}
	store := seedArchive(t, filepath.Join(dir, "archive"), src, "a", "b", "c", "d")
	root := filepath.Join(dir, "materials")

	fetcher := &scriptedFetcher{fail: map[string]error{
		"b": services.Wrap(services.ErrMaterialUnavailable, "article", "fetch", "b", nil),
	}}
	runner := NewRunner(fetcher, root, logging.NewNop())

	result, err := runner.Run(context.Background(), src, store, RunOptions{MaxEntries: 2})
	require.NoError(t, err)
	assert.Equal(t, Result{New: 2, Errors: 1}, result)
	assert.Equal(t, []string{"a", "b", "c"}, fetcher.calls)
	assert.FileExists(t, DocumentPath(root, src, "a"))
	assert.NoFileExists(t, DocumentPath(root, src, "b"))

	fetcher.calls = nil
	delete(fetcher.fail, "b")
	result, err = runner.Run(context.Background(), src, store, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Result{New: 2, Skipped: 2}, result)
	assert.Equal(t, []string{"b", "d"}, fetcher.calls)

	fetcher.calls = nil
	result, err = runner.Run(context.Background(), src, store, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 4}, result, "a second pass does no work")
	assert.Empty(t, fetcher.calls)

	result, err = runner.Run(context.Background(), src, store, RunOptions{Force: true, MaxEntries: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.New)

	data, err := os.ReadFile(DocumentPath(root, src, "d"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Title d\n\nbody of d\n")
}

func TestRunnerStopsOnConfigurationError(t *testing.T) {
	dir := t.TempDir()
	src := config.Source{Key: "b", Type: config.SourceBlog}
	store := seedArchive(t, filepath.Join(dir, "archive"), src, "a", "b")
	fetcher := &scriptedFetcher{fail: map[string]error{
		"a": services.Wrap(services.ErrConfiguration, "transcription", "auth", "bad key", nil),
	}}

	_, err := NewRunner(fetcher, filepath.Join(dir, "materials"), logging.NewNop()).
		Run(context.Background(), src, store, RunOptions{})
	assert.ErrorIs(t, err, services.ErrConfiguration)
	assert.Equal(t, []string{"a"}, fetcher.calls)
}
