package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitloop/internal/config"
	"gitloop/internal/testsupport"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Test blog</title>
  <item>
    <title>First post</title>
    <link>%[1]s/posts/first</link>
    <guid isPermaLink="false">post-one</guid>
    <pubDate>Mon, 15 Jan 2024 10:00:00 GMT</pubDate>
    <description>First summary</description>
  </item>
  <item>
    <title>Second post</title>
    <link>%[1]s/posts/second</link>
    <guid isPermaLink="false">post-two</guid>
    <pubDate>Tue, 16 Jan 2024 10:00:00 GMT</pubDate>
    <description>Second summary</description>
  </item>
</channel>
</rss>`

const testArticle = `<!doctype html>
<html><head><title>Post</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Post</h1>
<p>Writing about feeds is a long tradition on this blog, and this paragraph carries enough words for extraction to keep it.</p>
<p>A second paragraph closes the article with a few more sentences about archives and materials.</p>
</article>
</body></html>`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	server     *httptest.Server
}

// setupCLITestEnv writes a config with one blog source served by a local
// feed server and clears the filter environment.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("SOURCE_TYPE", "")
	t.Setenv("SOURCE_KEY", "")
	t.Setenv("FORCE_REPROCESS", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("TRANSCRIPTION_BACKEND", "")
	t.Setenv("NTFY_TOPIC", "")

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, testFeed, server.URL)
	})
	mux.HandleFunc("/posts/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testArticle)
	})

	enabled := true
	cfg := testsupport.NewConfig(t, testsupport.WithSources(config.Source{
		Key:     "test-blog",
		Name:    "Test Blog",
		Type:    config.SourceBlog,
		URL:     server.URL + "/feed.xml",
		Enabled: &enabled,
		Options: config.SourceOptions{
			TranscriptLanguages: []string{"en"},
			MaxEntriesPerRun:    10,
		},
	}))
	t.Setenv("HOME", testsupport.BaseDir(cfg))

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, server: server}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	fullArgs := args
	if configPath != "" {
		fullArgs = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(fullArgs)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected output to contain %q\nfull output:\n%s", substr, output)
	}
}
