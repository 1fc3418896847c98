package runner_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/ledger"
	"gitloop/internal/logging"
	"gitloop/internal/materials"
	"gitloop/internal/runner"
	"gitloop/internal/services"
	"gitloop/internal/testsupport"
)

type fakeAdapter struct {
	ids     []string
	fail    map[string]bool
	listErr error
}

func (a *fakeAdapter) Candidates(_ context.Context, _ config.Source, _ int) iter.Seq2[archive.Candidate, error] {
	return func(yield func(archive.Candidate, error) bool) {
		if a.listErr != nil {
			yield(archive.Candidate{}, a.listErr)
			return
		}
		for _, id := range a.ids {
			if !yield(archive.Candidate{ID: id, Title: "Title " + id, URL: "https://example.com/" + id}, nil) {
				return
			}
		}
	}
}

func (a *fakeAdapter) FetchDetail(_ context.Context, _ config.Source, c archive.Candidate) (archive.Entry, error) {
	if a.fail[c.ID] {
		return archive.Entry{}, services.Permanent(services.Wrap(services.ErrSourceUnavailable, "test", "detail", c.ID, nil))
	}
	return archive.Entry{Payload: map[string]any{"summary": "about " + c.ID}}, nil
}

type textFetcher struct{}

func (textFetcher) Fetch(_ context.Context, _ config.Source, entry archive.Entry) (materials.Material, error) {
	return materials.Material{Kind: materials.KindArticle, Text: entry.PayloadString("summary")}, nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

func newRunner(t *testing.T, cfg *config.Config, adapters map[string]*fakeAdapter) (*runner.Runner, *ledger.Store) {
	t.Helper()
	store := testsupport.MustOpenLedger(t, cfg)
	r := runner.New(cfg, logging.NewNop(), store,
		runner.WithIDGenerator(sequentialIDs()),
		runner.WithAdapters(adapterByKey(cfg, adapters)),
		runner.WithFetchers(func(materials.AudioTranscriber) materials.Fetcher { return textFetcher{} }),
	)
	return r, store
}

// adapterByKey routes a source type to the fake registered under the key of
// the configured source with that type. Types are unique within a test.
func adapterByKey(cfg *config.Config, adapters map[string]*fakeAdapter) runner.AdapterFactory {
	return func(sourceType string) (archive.Adapter, error) {
		for _, src := range cfg.Sources {
			if src.Type == sourceType {
				if a, ok := adapters[src.Key]; ok {
					return a, nil
				}
			}
		}
		return nil, services.Wrap(services.ErrConfiguration, "test", "adapter", sourceType, nil)
	}
}

func blog(key string) config.Source {
	return config.Source{Key: key, Name: "Blog " + key, Type: config.SourceBlog, URL: "https://" + key + ".example/feed"}
}

func news(key string) config.Source {
	return config.Source{Key: key, Type: config.SourceNews, URL: "https://" + key + ".example/rss"}
}

func TestArchiveIsolatesSourcesAndRecordsRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSources(blog("good"), news("down")))
	r, store := newRunner(t, cfg, map[string]*fakeAdapter{
		"good": {ids: []string{"a", "b", "c"}, fail: map[string]bool{"b": true}},
		"down": {listErr: services.Permanent(services.Wrap(services.ErrSourceUnavailable, "test", "list", "404", nil))},
	})

	summary, err := r.Archive(context.Background(), config.Filters{})
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	if summary.Fatal() {
		t.Fatalf("listing failures must not be fatal: %v", summary.Err())
	}
	if len(summary.Sources) != 2 {
		t.Fatalf("expected 2 source reports, got %d", len(summary.Sources))
	}
	good, down := summary.Sources[0], summary.Sources[1]
	if good.New != 2 || good.Errors != 1 || good.Status != ledger.StatusPartial {
		t.Fatalf("unexpected good report: %+v", good)
	}
	if down.New != 0 || down.Errors != 1 || down.Status != ledger.StatusPartial || down.Message == "" {
		t.Fatalf("unexpected down report: %+v", down)
	}

	runs, err := store.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(runs))
	}
	ids := map[string]bool{runs[0].ID: true, runs[1].ID: true}
	if !ids["run-1"] || !ids["run-2"] {
		t.Fatalf("unexpected run ids: %+v", runs)
	}

	summary, err = r.Archive(context.Background(), config.Filters{SourceKey: "good"})
	if err != nil {
		t.Fatalf("second Archive: %v", err)
	}
	if len(summary.Sources) != 1 || summary.Sources[0].New != 0 || summary.Sources[0].Skipped != 2 {
		t.Fatalf("second run should only pick up the failed entry: %+v", summary.Sources)
	}

	summary, err = r.Archive(context.Background(), config.Filters{SourceKey: "good", Force: true, MaxEntries: 1})
	if err != nil {
		t.Fatalf("forced Archive: %v", err)
	}
	if summary.Sources[0].New != 1 {
		t.Fatalf("force with max 1 should re-archive one entry: %+v", summary.Sources[0])
	}
}

func TestArchiveSkipsLockedSource(t *testing.T) {
	src := blog("busy")
	cfg := testsupport.NewConfig(t, testsupport.WithSources(src))
	r, _ := newRunner(t, cfg, map[string]*fakeAdapter{"busy": {ids: []string{"a"}}})

	if err := os.MkdirAll(cfg.LockDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	held := flock.New(runner.LockPath(cfg, src))
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("take lock: %v %v", ok, err)
	}
	defer held.Unlock()

	summary, err := r.Archive(context.Background(), config.Filters{})
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	report := summary.Sources[0]
	if report.Status != ledger.StatusLocked || !errors.Is(report.Err, services.ErrLocked) {
		t.Fatalf("expected locked report, got %+v", report)
	}
	if summary.Fatal() {
		t.Fatal("a locked source is not fatal")
	}
	if _, err := os.Stat(filepath.Join(archive.SourceDir(cfg.Paths.ArchiveDir, src), "index.json")); !os.IsNotExist(err) {
		t.Fatalf("locked source must not be written, stat err %v", err)
	}
}

func TestArchiveRecoversCorruptIndex(t *testing.T) {
	src := blog("flaky")
	cfg := testsupport.NewConfig(t, testsupport.WithSources(src))
	adapter := &fakeAdapter{ids: []string{"a", "b"}}
	r, _ := newRunner(t, cfg, map[string]*fakeAdapter{"flaky": adapter})

	if _, err := r.Archive(context.Background(), config.Filters{}); err != nil {
		t.Fatalf("first Archive: %v", err)
	}
	dir := archive.SourceDir(cfg.Paths.ArchiveDir, src)
	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	adapter.ids = append(adapter.ids, "c")

	summary, err := r.Archive(context.Background(), config.Filters{})
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	report := summary.Sources[0]
	if !report.Recovered || report.New != 1 || report.Skipped != 2 || report.Err != nil {
		t.Fatalf("expected recovery then one new entry, got %+v", report)
	}

	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	summary, err = r.Archive(context.Background(), config.Filters{})
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	if !summary.Fatal() {
		t.Fatalf("unrecoverable corruption must be fatal: %+v", summary.Sources)
	}
}

func TestMaterialsWritesDocumentsOnce(t *testing.T) {
	src := blog("notes")
	cfg := testsupport.NewConfig(t, testsupport.WithSources(src))
	r, store := newRunner(t, cfg, map[string]*fakeAdapter{"notes": {ids: []string{"a", "b"}}})

	if _, err := r.Archive(context.Background(), config.Filters{}); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	summary, err := r.Materials(context.Background(), config.Filters{})
	if err != nil {
		t.Fatalf("Materials: %v", err)
	}
	if got := summary.Sources[0]; got.New != 2 || got.Status != ledger.StatusOK {
		t.Fatalf("unexpected materials report: %+v", got)
	}
	doc := testsupport.ReadFile(t, materials.DocumentPath(cfg.Paths.MaterialsDir, src, "a"))
	if want := "# Title a\n\nabout a\n"; len(doc) < len(want) || doc[len(doc)-len(want):] != want {
		t.Fatalf("unexpected document:\n%s", doc)
	}

	summary, err = r.Materials(context.Background(), config.Filters{})
	if err != nil {
		t.Fatalf("second Materials: %v", err)
	}
	if got := summary.Sources[0]; got.New != 0 || got.Skipped != 2 {
		t.Fatalf("second pass should skip everything: %+v", got)
	}

	latest, err := store.LatestRuns(context.Background())
	if err != nil {
		t.Fatalf("LatestRuns: %v", err)
	}
	if _, ok := latest[ledger.RunKey(ledger.PhaseMaterials, src.Type, src.Key)]; !ok {
		t.Fatalf("expected a materials run row, got %v", latest)
	}
}

func TestMaterialsRequiresCredentialsOnlyWhenAudioIsNeeded(t *testing.T) {
	pod := config.Source{Key: "pod", Type: config.SourcePodcast, URL: "https://pod.example/feed",
		Options: config.SourceOptions{ExtractTranscript: true}}
	cfg := testsupport.NewConfig(t, testsupport.WithSources(blog("b"), pod))
	cfg.Transcription.Backend = config.BackendGroq
	cfg.Transcription.APIKey = ""
	r, _ := newRunner(t, cfg, nil)

	if _, err := r.Materials(context.Background(), config.Filters{SourceType: config.SourceBlog}); err != nil {
		t.Fatalf("blog-only run needs no credential: %v", err)
	}
	_, err := r.Materials(context.Background(), config.Filters{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
